package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/goccy/go-yaml"
	"github.com/jo-chemla/theatre"
	"github.com/jo-chemla/theatre/dataverse"
	"github.com/jo-chemla/theatre/kpath"
	"github.com/jo-chemla/theatre/kserde"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// step is one document of an edits stream. Its ops are committed in one
// transaction.
type step struct {
	Name string   `yaml:"name"`
	Ops  []stepOp `yaml:"ops"`
}

type stepOp struct {
	Branch string  `yaml:"branch"`
	Set    *string `yaml:"set"`
	Remove *string `yaml:"remove"`
	Value  any     `yaml:"value"`

	branch theatre.Branch
	path   kpath.Path
}

func (o *stepOp) compile() error {
	switch o.Branch {
	case "", "historic":
		o.branch = theatre.Historic
	case "ahistoric":
		o.branch = theatre.Ahistoric
	case "ephemeral":
		o.branch = theatre.Ephemeral
	default:
		return fmt.Errorf("unknown branch %q", o.Branch)
	}

	var expr string
	switch {
	case o.Set != nil && o.Remove != nil:
		return errors.New("set and remove are exclusive")
	case o.Set != nil:
		expr = *o.Set
	case o.Remove != nil:
		expr = *o.Remove
	default:
		return errors.New("either set or remove is required")
	}
	path, err := kpath.Parse(expr)
	if err != nil {
		return err
	}
	o.path = path

	if o.Set != nil {
		if o.Value, err = kserde.Normalize(o.Value); err != nil {
			return fmt.Errorf("value: %w", err)
		}
	}
	return nil
}

type applyFlags struct {
	watches    map[string]string
	snapshot   string
	printState bool
	metrics    bool
}

func newApplyCmd(g *globalFlags) *cobra.Command {
	f := &applyFlags{}
	cmd := &cobra.Command{
		Use:   "apply STATE EDITS",
		Short: "Apply a stream of edits to a state file",
		Long: `apply loads STATE into the historic branch and applies EDITS, a stream of
YAML documents read from a file or from stdin when EDITS is "-":

  name: move box
  ops:
    - set: $.objects.box.x
      value: 10
    - remove: $.objects.box.label
    - set: $.panel
      branch: ahistoric
      value: left

Every document is committed as one transaction. After each of them the
watched values that changed are printed as a YAML document.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, g, f, args[0], args[1])
		},
	}
	cmd.Flags().StringToStringVarP(&f.watches, "watch", "w", nil, "Watched values as name=path, e.g. x=$.objects.box.x")
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "Store the final state as a snapshot under this key")
	cmd.Flags().BoolVar(&f.printState, "print-state", false, "Print the final historic state")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "Print runtime metrics when done")
	return cmd
}

func runApply(cmd *cobra.Command, g *globalFlags, f *applyFlags, statePath, editsPath string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	tree, err := readTree(statePath)
	if err != nil {
		return err
	}

	var edits io.Reader = cmd.InOrStdin()
	if editsPath != "-" {
		file, err := os.Open(editsPath)
		if err != nil {
			return err
		}
		defer file.Close()
		edits = file
	}

	var extra []theatre.Option
	reg := prometheus.NewRegistry()
	if f.metrics {
		extra = append(extra, theatre.WithRegisterer(reg))
	}
	studio, _, log, err := g.openStudio(cmd, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if err := studio.Close(); err != nil {
			log.Error(err, "Failed to close studio")
		}
	}()

	studio.Historic().Set(tree)

	w, err := newWatcher(studio, f.watches)
	if err != nil {
		return err
	}
	if err := w.report(out, "initial", true); err != nil {
		return err
	}

	steps := make(chan step)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		defer close(steps)
		return decodeSteps(gctx, edits, steps)
	})
	// The studio is only touched by this goroutine until Wait returns.
	grp.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case st, ok := <-steps:
				if !ok {
					return nil
				}
				if err := applyStep(studio, st, log); err != nil {
					return err
				}
				if err := w.report(out, st.Name, false); err != nil {
					return err
				}
			}
		}
	})
	if err := grp.Wait(); err != nil {
		return err
	}

	if f.printState {
		if err := writeYAML(out, map[string]any{"state": studio.Historic().Get()}); err != nil {
			return err
		}
	}
	if f.snapshot != "" {
		if err := studio.Snapshot(ctx, f.snapshot); err != nil {
			return err
		}
		log.Info("Stored snapshot", "key", f.snapshot)
	}
	if f.metrics {
		return writeMetrics(out, reg)
	}
	return nil
}

func decodeSteps(ctx context.Context, r io.Reader, steps chan<- step) error {
	dec := yaml.NewDecoder(r)
	for i := 0; ; i++ {
		var st step
		if err := dec.Decode(&st); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("edits document %d: %w", i, err)
		}
		if st.Name == "" {
			st.Name = fmt.Sprintf("step-%d", i)
		}
		for j := range st.Ops {
			if err := st.Ops[j].compile(); err != nil {
				return fmt.Errorf("%s: op %d: %w", st.Name, j, err)
			}
		}

		select {
		case steps <- st:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func applyStep(studio *theatre.Studio, st step, log logr.Logger) error {
	err := studio.Transaction(func(tx *theatre.Transaction) error {
		for _, op := range st.Ops {
			if op.Remove != nil {
				tx.Remove(op.branch, op.path)
			} else {
				tx.Set(op.branch, op.path, op.Value)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}
	log.V(1).Info("Applied step", "step", st.Name, "ops", len(st.Ops))
	return nil
}

// watcher keeps one prism per watched pointer and remembers the value
// reported last.
type watcher struct {
	names  []string
	prisms map[string]*dataverse.Prism
	fns    map[string]dataverse.PrismFunc
	last   map[string]any
	dirty  map[string]bool
}

func newWatcher(studio *theatre.Studio, watches map[string]string) (*watcher, error) {
	w := &watcher{
		names:  maps.Keys(watches),
		prisms: map[string]*dataverse.Prism{},
		fns:    map[string]dataverse.PrismFunc{},
		last:   map[string]any{},
		dirty:  map[string]bool{},
	}
	slices.Sort(w.names)

	root := studio.Pointer(theatre.Historic)
	for _, name := range w.names {
		ptr, err := root.At(watches[name])
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", name, err)
		}
		w.prisms[name] = studio.Prism(
			dataverse.PrismName(name),
			dataverse.OnInvalidate(func() { w.dirty[name] = true }),
		)
		w.fns[name] = func(s *dataverse.Scope) (any, error) {
			return s.Read(ptr)
		}
		w.dirty[name] = true
	}
	return w, nil
}

// report prints the watched values that changed since the last report, or
// all of them when all is set.
func (w *watcher) report(out io.Writer, stepName string, all bool) error {
	changed := yaml.MapSlice{}
	for _, name := range w.names {
		if !w.dirty[name] && !all {
			continue
		}
		w.dirty[name] = false

		prev, seen := w.last[name]
		v, err := w.prisms[name].Use(w.fns[name])
		if err != nil {
			return fmt.Errorf("watch %s: %w", name, err)
		}
		if seen && dataverse.DeepEqual(prev, v) && !all {
			continue
		}
		w.last[name] = v
		changed = append(changed, yaml.MapItem{Key: name, Value: v})
	}
	if len(changed) == 0 && !all {
		return nil
	}

	if _, err := io.WriteString(out, "---\n"); err != nil {
		return err
	}
	return writeYAML(out, yaml.MapSlice{
		{Key: "step", Value: stepName},
		{Key: "changed", Value: changed},
	})
}

func writeMetrics(out io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
