package theatre

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/jo-chemla/theatre/kpath"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
max_flush_passes: 4
schema: schema.json
state_dir: /var/lib/theatre
format: yaml
log_verbosity: 2
`))
	assert.NoError(t, err)
	assert.Equal(t, Config{
		MaxFlushPasses: 4,
		Schema:         "schema.json",
		StateDir:       "/var/lib/theatre",
		Format:         "yaml",
		LogVerbosity:   2,
	}, cfg)
}

func TestParseConfigRejectsUnknown(t *testing.T) {
	_, err := ParseConfig([]byte("max_flush_passes: 4\nflush_passes: 3\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("format: toml\n"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "toml")
}

func TestConfigOptions(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	assert.NoError(t, os.WriteFile(schemaPath, []byte(positionSchema), 0o644))

	configPath := filepath.Join(dir, "theatre.yaml")
	config := "schema: " + schemaPath + "\nstate_dir: " + filepath.Join(dir, "state") + "\nformat: yaml\n"
	assert.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	cfg, err := LoadConfig(configPath)
	assert.NoError(t, err)
	opts, err := cfg.Options()
	assert.NoError(t, err)

	ctx := context.Background()
	s := New(opts...)
	s.Historic().Set(map[string]any{"box": map[string]any{"x": 3}})
	assert.NoError(t, s.Snapshot(ctx, "scene"))
	assert.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(dir, "state", "snapshots", "scene.snapshot"))
	assert.NoError(t, err)
	assert.Contains(t, string(b), "x: 3")

	// a second studio over the same directory sees the snapshot
	opts, err = cfg.Options()
	assert.NoError(t, err)
	s = newTestStudio(t, opts...)
	assert.NoError(t, s.Restore(ctx, "scene"))
	assert.Equal(t, any(map[string]any{"box": map[string]any{"x": 3}}), s.Historic().Get())
}

func TestConfigOptionsMissingSchema(t *testing.T) {
	_, err := Config{Schema: filepath.Join(t.TempDir(), "nope.json")}.Options()
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigOptionsMetricsPerStudio(t *testing.T) {
	cfg, err := ParseConfig([]byte("metrics: true\n"))
	assert.NoError(t, err)

	before, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "theatre_dataverse_flushes_total")
	assert.NoError(t, err)

	for i := 0; i < 2; i++ {
		opts, err := cfg.Options()
		assert.NoError(t, err)
		s := newTestStudio(t, opts...)
		assert.True(t, s.Metrics() != nil)
		assert.NoError(t, s.Transaction(func(tx *Transaction) error {
			tx.Set(Historic, kpath.Of("a"), i)
			return nil
		}))
		assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().Flushes))
	}

	after, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "theatre_dataverse_flushes_total")
	assert.NoError(t, err)
	assert.Equal(t, before+2, after)
}
