package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/goccy/go-yaml"
	"github.com/jo-chemla/theatre"
	"github.com/jo-chemla/theatre/kserde"
	"github.com/jo-chemla/theatre/pkg/log"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	stateDir   string
	verbosity  int
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "theatre-state",
		Short: "Inspect and edit studio state",
		Long: `theatre-state loads studio state trees from YAML, applies edits to them
in transactions and reports which watched values changed.

Snapshots are kept below --state-dir, or the state_dir of the config file.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Studio config file (YAML)")
	cmd.PersistentFlags().StringVar(&g.stateDir, "state-dir", "", "Directory snapshots are stored in")
	cmd.PersistentFlags().IntVarP(&g.verbosity, "verbosity", "v", 0, "Log verbosity")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", string(log.FormatConsole), "Log format (console, json)")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newApplyCmd(g),
		newSnapshotCmd(g),
		newValidateCmd(g),
	)
	return cmd
}

// config merges the config file with the flags. Flags win.
func (g *globalFlags) config() (theatre.Config, error) {
	var cfg theatre.Config
	if g.configPath != "" {
		var err error
		if cfg, err = theatre.LoadConfig(g.configPath); err != nil {
			return cfg, err
		}
	}
	if g.stateDir != "" {
		cfg.StateDir = g.stateDir
	}
	if g.verbosity > cfg.LogVerbosity {
		cfg.LogVerbosity = g.verbosity
	}
	return cfg, nil
}

func (g *globalFlags) logger(w io.Writer, cfg theatre.Config) logr.Logger {
	return log.Logr(log.New(w, log.Format(g.logFormat), cfg.LogVerbosity)).WithName("theatre-state")
}

// openStudio builds a studio from the config and flags. Logs go to the
// command's error stream.
func (g *globalFlags) openStudio(cmd *cobra.Command, extra ...theatre.Option) (*theatre.Studio, theatre.Config, logr.Logger, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, cfg, logr.Discard(), err
	}
	logger := g.logger(cmd.ErrOrStderr(), cfg)

	opts, err := cfg.Options()
	if err != nil {
		return nil, cfg, logger, err
	}
	opts = append(opts, theatre.WithLogr(logger))
	opts = append(opts, extra...)
	return theatre.New(opts...), cfg, logger, nil
}

// readTree reads a YAML state file.
func readTree(path string) (any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := kserde.TreeYAML().Deserializer(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil {
		return map[string]any{}, nil
	}
	if _, ok := tree.(map[string]any); !ok {
		return nil, fmt.Errorf("%s: state must be a mapping, got %T", path, tree)
	}
	return tree, nil
}

func writeYAML(w io.Writer, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
