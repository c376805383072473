package theatre

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/goccy/go-yaml"
	"github.com/jo-chemla/theatre/kserde"
	"github.com/jo-chemla/theatre/kstate"
	"github.com/prometheus/client_golang/prometheus"
)

// Option is a function that configures a Studio
type Option func(*Studio)

// WithLogr sets the logger of the studio and of its runtime
var WithLogr = func(log logr.Logger) Option {
	return func(s *Studio) {
		s.log = log
	}
}

// WithLog sets a slog logger, bridged to logr
var WithLog = func(log *slog.Logger) Option {
	return func(s *Studio) {
		s.log = logr.FromSlogHandler(log.Handler())
	}
}

// WithMaxFlushPasses bounds how often a batch may flush again because
// after-batch callbacks keep writing
var WithMaxFlushPasses = func(n int) Option {
	return func(s *Studio) {
		s.maxFlushPasses = n
	}
}

// WithRegisterer exports runtime metrics to reg
var WithRegisterer = func(reg prometheus.Registerer) Option {
	return func(s *Studio) {
		s.registerer = reg
	}
}

// WithStore sets where snapshots are kept. Defaults to an in-memory store.
var WithStore = func(store kstate.Store) Option {
	return func(s *Studio) {
		s.store = store
	}
}

// WithSerde sets the snapshot format. Defaults to kserde.TreeJSON.
var WithSerde = func(serde kserde.Serde[any]) Option {
	return func(s *Studio) {
		s.serde = serde
	}
}

// WithSchema validates the historic state on every transaction commit and
// restore
var WithSchema = func(schema *kstate.Schema) Option {
	return func(s *Studio) {
		s.schema = schema
	}
}

// Config is the file form of the studio options.
type Config struct {
	// MaxFlushPasses overrides dataverse.DefaultMaxFlushPasses when > 0.
	MaxFlushPasses int `yaml:"max_flush_passes"`
	// Metrics registers runtime metrics with the default Prometheus
	// registerer, labelled with a studio number unique to the process.
	Metrics bool `yaml:"metrics"`
	// Schema is the path of a JSON schema for the historic state.
	Schema string `yaml:"schema"`
	// StateDir enables the file snapshot store below this directory.
	StateDir string `yaml:"state_dir"`
	// Format of stored snapshots: json (default) or yaml.
	Format string `yaml:"format"`
	// LogVerbosity is the logr verbosity commands log at.
	LogVerbosity int `yaml:"log_verbosity"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig parses a YAML config document. Unknown fields are rejected.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalWithOptions(b, &cfg, yaml.DisallowUnknownField()); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	switch cfg.Format {
	case "", "json", "yaml":
	default:
		return Config{}, fmt.Errorf("parse config: unknown snapshot format %q", cfg.Format)
	}
	return cfg, nil
}

var studioSeq atomic.Int64

// Options turns the config into studio options. Files it references, the
// schema in particular, are read here. Every call yields options for one
// more studio.
func (c Config) Options() ([]Option, error) {
	var opts []Option

	if c.MaxFlushPasses > 0 {
		opts = append(opts, WithMaxFlushPasses(c.MaxFlushPasses))
	}
	if c.Metrics {
		studio := strconv.FormatInt(studioSeq.Add(1), 10)
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"studio": studio}, prometheus.DefaultRegisterer)
		opts = append(opts, WithRegisterer(reg))
	}
	if c.Schema != "" {
		src, err := os.ReadFile(c.Schema)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		schema, err := kstate.CompileSchema(src)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSchema(schema))
	}
	if c.StateDir != "" {
		store, err := kstate.NewFileStore(c.StateDir, "snapshots")
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStore(store))
	}
	if c.Format == "yaml" {
		opts = append(opts, WithSerde(kserde.TreeYAML()))
	}

	return opts, nil
}
