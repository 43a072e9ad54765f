// Package history exports every refreshed state to InfluxDB so door and mode
// changes can be graphed over time.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/config"
)

const defaultConnectTimeout = 10 * time.Second

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be pinged.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Client owns the InfluxDB connection and its non-blocking write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect pings the server and prepares a batched write API.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Duration().Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Connected to InfluxDB")

	return &Client{client: client, writeAPI: writeAPI}, nil
}

// WriteAPI returns the batched writer used by the Recorder.
func (c *Client) WriteAPI() api.WriteAPI {
	return c.writeAPI
}

// Close flushes pending points and closes the connection.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	c.writeAPI.Flush()
	c.client.Close()
}
