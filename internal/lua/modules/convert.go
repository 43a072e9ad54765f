package modules

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/petwalk"
)

// StateToLua converts the canonical state to a flat table of api values with
// a nested pet_status table. A nil state converts to nil.
func StateToLua(L *lua.LState, s *coordinator.State) lua.LValue {
	if s == nil {
		return lua.LNil
	}
	tbl := L.NewTable()
	for k, v := range s.API {
		tbl.RawSetString(k, ValueToLua(L, v))
	}
	pet := L.NewTable()
	for k, v := range s.PetStatus {
		pet.RawSetString(k, toLua(L, v))
	}
	tbl.RawSetString("pet_status", pet)
	return tbl
}

// ValueToLua converts one wire value. Null becomes nil, so a script sees a
// missing key and a null key the same way.
func ValueToLua(L *lua.LState, v petwalk.Value) lua.LValue {
	switch v.Kind() {
	case petwalk.KindBool:
		b, _ := v.AsBool()
		return lua.LBool(b)
	case petwalk.KindInt:
		i, _ := v.AsInt()
		return lua.LNumber(i)
	case petwalk.KindText:
		s, _ := v.AsText()
		return lua.LString(s)
	case petwalk.KindOther:
		return toLua(L, v.Interface())
	default:
		return lua.LNil
	}
}

// toLua converts decoded JSON (or pet-status) data.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		tbl := L.CreateTable(len(x), 0)
		for _, item := range x {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(x))
		for k, item := range x {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a script value into something encoding/json can store.
// A table whose keys are exactly 1..n becomes a slice, any other table a map.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if n := x.Len(); n > 0 && countKeys(x) == n {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(x.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		x.ForEach(func(k, item lua.LValue) {
			out[lua.LVAsString(k)] = fromLua(item)
		})
		return out
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

func countKeys(tbl *lua.LTable) int {
	n := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}
