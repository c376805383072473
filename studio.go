package theatre

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/jo-chemla/theatre/dataverse"
	"github.com/jo-chemla/theatre/kmetrics"
	"github.com/jo-chemla/theatre/kserde"
	"github.com/jo-chemla/theatre/kstate"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

var (
	// ErrClosed is returned by operations on a closed studio.
	ErrClosed = errors.New("theatre: studio closed")
	// ErrInComputation is returned when a transaction is started from inside
	// a derivation or prism.
	ErrInComputation = errors.New("theatre: transaction inside a computation")
)

// Branch names one of the three state trees of a studio.
type Branch int

const (
	// Historic state is what undo/redo operates on: the project itself.
	Historic Branch = iota
	// Ahistoric state is persisted but not part of the history, e.g. panel
	// positions.
	Ahistoric
	// Ephemeral state lives only as long as the studio, e.g. hover state.
	Ephemeral
)

func (b Branch) String() string {
	switch b {
	case Historic:
		return "historic"
	case Ahistoric:
		return "ahistoric"
	case Ephemeral:
		return "ephemeral"
	default:
		return fmt.Sprintf("Branch(%d)", int(b))
	}
}

// Studio owns a dataverse runtime and the state trees of one project. Like
// the runtime, it must only be used from one goroutine.
type Studio struct {
	log            logr.Logger
	maxFlushPasses int
	registerer     prometheus.Registerer
	store          kstate.Store
	serde          kserde.Serde[any]
	schema         *kstate.Schema

	rt        *dataverse.Runtime
	metrics   *kmetrics.Collector
	snapshots *kstate.Snapshots
	branches  [3]*dataverse.Atom
	prisms    []*dataverse.Prism
	closed    bool
}

// New creates a studio with empty state trees.
func New(opts ...Option) *Studio {
	s := &Studio{
		log:   logr.Discard(),
		serde: kserde.TreeJSON(),
	}

	for _, opt := range opts {
		opt(s)
	}

	rtOpts := []dataverse.Option{
		dataverse.WithLogr(s.log.WithName("dataverse")),
		dataverse.WithMaxFlushPasses(s.maxFlushPasses),
	}
	if s.registerer != nil {
		s.metrics = kmetrics.New(s.registerer)
		rtOpts = append(rtOpts, dataverse.WithObserver(s.metrics))
	}
	s.rt = dataverse.NewRuntime(rtOpts...)

	if s.store == nil {
		s.store = kstate.NewMemoryStore("snapshots")
	}
	s.snapshots = kstate.NewSnapshots(s.store, kstate.WithSerde(s.serde))

	for _, b := range []Branch{Historic, Ahistoric, Ephemeral} {
		s.branches[b] = s.rt.RecordAtom(nil)
	}

	return s
}

// Runtime returns the runtime all studio state lives in.
func (s *Studio) Runtime() *dataverse.Runtime {
	return s.rt
}

// Metrics returns the metrics collector, or nil when no registerer was set.
func (s *Studio) Metrics() *kmetrics.Collector {
	return s.metrics
}

// Atom returns the root atom of branch b.
func (s *Studio) Atom(b Branch) *dataverse.Atom {
	return s.branches[b]
}

func (s *Studio) Historic() *dataverse.Atom { return s.branches[Historic] }
func (s *Studio) Ahistoric() *dataverse.Atom { return s.branches[Ahistoric] }
func (s *Studio) Ephemeral() *dataverse.Atom { return s.branches[Ephemeral] }

// Pointer returns the root pointer of branch b.
func (s *Studio) Pointer(b Branch) dataverse.Pointer {
	return s.branches[b].Pointer()
}

// Prism creates a prism owned by the studio. It is disposed on Close
// unless the caller disposed it before.
func (s *Studio) Prism(opts ...dataverse.PrismOption) *dataverse.Prism {
	p := s.rt.NewPrism(opts...)
	s.prisms = append(s.prisms, p)
	return p
}

type snapshotDoc struct {
	Historic  any
	Ahistoric any
}

// Snapshot stores the historic and ahistoric state under key. Ephemeral
// state is never persisted.
func (s *Studio) Snapshot(ctx context.Context, key string) error {
	if s.closed {
		return ErrClosed
	}
	doc := map[string]any{
		"historic":  s.Historic().Get(),
		"ahistoric": s.Ahistoric().Get(),
	}
	if err := s.snapshots.Save(ctx, key, doc); err != nil {
		return err
	}
	s.log.V(1).Info("Saved snapshot", "key", key)
	return nil
}

// Restore replaces the historic and ahistoric state with the snapshot
// stored under key, in a single batch. Subtrees equal to the current state
// keep their atoms, so nothing depending on them is invalidated.
func (s *Studio) Restore(ctx context.Context, key string) error {
	if s.closed {
		return ErrClosed
	}
	tree, err := s.snapshots.Load(ctx, key)
	if err != nil {
		return err
	}
	doc, err := decodeSnapshot(tree)
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", key, err)
	}
	if s.schema != nil {
		if err := s.schema.Validate(doc.Historic); err != nil {
			return fmt.Errorf("snapshot %q: %w", key, err)
		}
	}

	s.rt.Batch(func() {
		s.Historic().Set(doc.Historic)
		s.Ahistoric().Set(doc.Ahistoric)
	})
	s.log.V(1).Info("Restored snapshot", "key", key)
	return nil
}

// Snapshots lists the keys of the stored snapshots.
func (s *Studio) Snapshots(ctx context.Context) []string {
	return s.snapshots.Keys(ctx)
}

func decodeSnapshot(tree any) (snapshotDoc, error) {
	m, ok := tree.(map[string]any)
	if !ok {
		return snapshotDoc{}, fmt.Errorf("unexpected snapshot of type %T", tree)
	}
	doc := snapshotDoc{Historic: m["historic"], Ahistoric: m["ahistoric"]}
	if doc.Historic == nil {
		doc.Historic = map[string]any{}
	}
	if doc.Ahistoric == nil {
		doc.Ahistoric = map[string]any{}
	}
	return doc, nil
}

// Close disposes every prism created through the studio and closes the
// snapshot store. Closing twice is a no-op.
func (s *Studio) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs error
	for i := len(s.prisms) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.prisms[i].Dispose())
	}
	s.prisms = nil
	errs = multierr.Append(errs, s.snapshots.Close(context.Background()))

	for _, a := range s.branches {
		a.Destroy()
	}
	return errs
}
