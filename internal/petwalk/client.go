// Package petwalk is an HTTP client for the PetWALK door's local API.
package petwalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPort is the port the appliance's local API listens on.
const DefaultPort = 8080

const (
	pathModes  = "modes"
	pathStates = "states"

	// maxErrorBody bounds how much of a failed response is kept in StatusError.
	maxErrorBody = 512
)

// Client talks to a single PetWALK appliance.
type Client struct {
	host       string
	port       int
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a new PetWALK client.
func NewClient(host string, port int, username, password string, timeout time.Duration) *Client {
	if port == 0 {
		port = DefaultPort
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Address returns host:port of the appliance.
func (c *Client) Address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Host returns the configured appliance host.
func (c *Client) Host() string {
	return c.host
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%s/%s", c.Address(), path)
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method: method,
			Path:   "/" + path,
			Code:   resp.StatusCode,
			Body:   string(bytes.TrimSpace(raw)),
		}
	}

	return resp, nil
}

// classify maps transport errors onto the package sentinels.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrRequestFailed, err)
}

func (c *Client) getValues(ctx context.Context, path string) (Values, error) {
	resp, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var values Values
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: GET /%s: %w", ErrDecode, path, err)
	}
	if values == nil {
		return nil, fmt.Errorf("%w: GET /%s: expected a JSON object", ErrDecode, path)
	}

	return values, nil
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	resp, err := c.request(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// GetModes reads the feature flags (brightnessSensor, motion_in, rfid, ...).
func (c *Client) GetModes(ctx context.Context) (Values, error) {
	return c.getValues(ctx, pathModes)
}

// GetStates reads door position and system power.
func (c *Client) GetStates(ctx context.Context) (Values, error) {
	return c.getValues(ctx, pathStates)
}

// SetModes writes one or more feature flags.
func (c *Client) SetModes(ctx context.Context, modes map[string]bool) error {
	if err := c.put(ctx, pathModes, modes); err != nil {
		return err
	}

	log.Debug().
		Interface("modes", modes).
		Msg("Modes written")

	return nil
}

// SetStates writes door and/or system fields ("open"/"closed", "on"/"off").
func (c *Client) SetStates(ctx context.Context, states map[string]string) error {
	if err := c.put(ctx, pathStates, states); err != nil {
		return err
	}

	log.Debug().
		Interface("states", states).
		Msg("States written")

	return nil
}
