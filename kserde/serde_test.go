package kserde

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
)

type keyframe struct {
	Position float64 `json:"position" yaml:"position"`
	Value    any     `json:"value" yaml:"value"`
	Connect  bool    `json:"connectedRight" yaml:"connectedRight"`
}

func TestJSONRoundTrip(t *testing.T) {
	in := keyframe{Position: 1.5, Value: "ease", Connect: true}

	out, err := JSON[keyframe]().RoundTrip(in)
	assert.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = JSONSerializer[float64]()(math.NaN())
	assert.Error(t, err)

	_, err = JSONDeserializer[keyframe]()([]byte(`{"position": "x"}`))
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	in := []keyframe{{Position: 0, Value: "a"}, {Position: 2.25, Value: "b", Connect: true}}

	out, err := YAML[[]keyframe]().RoundTrip(in)
	assert.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = YAMLDeserializer[keyframe]()([]byte("position: [1, 2"))
	assert.Error(t, err)
}

func TestTreeJSONNormalizes(t *testing.T) {
	v, err := TreeJSON().Deserializer([]byte(`{"count": 3, "ratio": 0.5, "list": [1, "two", null, true], "nested": {"big": 1e3}}`))
	assert.NoError(t, err)
	assert.Equal(t, any(map[string]any{
		"count":  3,
		"ratio":  0.5,
		"list":   []any{1, "two", nil, true},
		"nested": map[string]any{"big": 1000.0},
	}), v)

	_, err = TreeJSON().Deserializer([]byte(`{"count":`))
	assert.Error(t, err)
}

func TestTreeYAMLNormalizes(t *testing.T) {
	src := []byte(`
sheet:
  objects:
    box:
      x: 10
      y: -2.5
  order: [box, 7]
`)
	v, err := TreeYAML().Deserializer(src)
	assert.NoError(t, err)
	assert.Equal(t, any(map[string]any{
		"sheet": map[string]any{
			"objects": map[string]any{
				"box": map[string]any{"x": 10, "y": -2.5},
			},
			"order": []any{"box", 7},
		},
	}), v)

	b, err := TreeYAML().Serializer(v)
	assert.NoError(t, err)
	again, err := TreeYAML().Deserializer(b)
	assert.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestNormalize(t *testing.T) {
	v, err := Normalize(map[any]any{1: int64(2), "k": []any{uint32(3), float32(0.5)}})
	assert.NoError(t, err)
	assert.Equal(t, any(map[string]any{"1": 2, "k": []any{3, 0.5}}), v)

	_, err = Normalize(map[string]any{"bad": struct{}{}})
	assert.Error(t, err)
}
