package kserde

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/goccy/go-yaml"
)

// TreeJSON is the serde for state trees stored as JSON. Decoded trees are
// normalised, see Normalize.
func TreeJSON() Serde[any] {
	return Serde[any]{
		Serializer: JSONSerializer[any](),
		Deserializer: func(b []byte) (any, error) {
			dec := json.NewDecoder(bytes.NewReader(b))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, err
			}
			return Normalize(v)
		},
	}
}

// TreeYAML is the serde for state trees stored as YAML. Decoded trees are
// normalised, see Normalize.
func TreeYAML() Serde[any] {
	return Serde[any]{
		Serializer: YAMLSerializer[any](),
		Deserializer: func(b []byte) (any, error) {
			var v any
			if err := yaml.Unmarshal(b, &v); err != nil {
				return nil, err
			}
			return Normalize(v)
		},
	}
}

// Normalize rewrites a decoded tree into the shapes atoms understand:
// records become map[string]any, sequences []any, integral numbers int and
// other numbers float64. Strings, bools and nil are kept.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int, float64:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		return t.Float64()
	case int64:
		return int(t), nil
	case int32:
		return int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return float64(t), nil
		}
		return int(t), nil
	case uint32:
		return int(t), nil
	case float32:
		return float64(t), nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}
