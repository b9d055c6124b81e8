package ipc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/joshuapare/flashdm/pkg/types"
)

// hexPrefix marks a JSON string that carries a byte string.
const hexPrefix = "hex:"

// FromJSON converts a JSON object typed by a person into a CBOR payload.
// Integral numbers become CBOR integers and strings of the form "hex:0a0b"
// become byte strings.
func FromJSON(data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Marshal(map[string]any{})
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, types.Wrap(types.ErrKindArgument, "decode json arguments", err)
	}
	conv, err := fromJSONValue(v)
	if err != nil {
		return nil, err
	}
	return Marshal(conv)
}

func fromJSONValue(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, types.Wrap(types.ErrKindArgument, "number "+x.String(), err)
		}
		return f, nil
	case string:
		if rest, ok := strings.CutPrefix(x, hexPrefix); ok {
			b, err := hex.DecodeString(rest)
			if err != nil {
				return nil, types.Wrap(types.ErrKindArgument, "hex string", err)
			}
			return b, nil
		}
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			c, err := fromJSONValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			c, err := fromJSONValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	default:
		return v, nil
	}
}

// ToJSON renders a CBOR payload as indented JSON, writing byte strings in
// the same "hex:" form FromJSON accepts.
func ToJSON(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return []byte("{}"), nil
	}
	var v any
	if err := Unmarshal(payload, &v); err != nil {
		return nil, types.Wrap(types.ErrKindArgument, "decode payload", err)
	}
	return json.MarshalIndent(toJSONValue(v), "", "  ")
}

func toJSONValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return hexPrefix + hex.EncodeToString(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toJSONValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toJSONValue(e)
		}
		return out
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	default:
		return v
	}
}
