package kstate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

const fileSuffix = ".snapshot"

type fileStore struct {
	name   string
	dir    string
	closed bool
}

// NewFileStore returns a Store keeping one file per key below
// stateDir/name. Writes go to a temporary file that is renamed into place.
func NewFileStore(stateDir, name string) (Store, error) {
	if stateDir == "" {
		stateDir = filepath.Join(os.TempDir(), "theatre")
	}
	dir := filepath.Join(stateDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &fileStore{name: name, dir: dir}, nil
}

func (s *fileStore) Name() string {
	return s.name
}

func (s *fileStore) Persistent() bool {
	return true
}

func (s *fileStore) Flush(ctx context.Context) error {
	return nil
}

func (s *fileStore) Close() error {
	s.closed = true
	return nil
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *fileStore) Set(ctx context.Context, key string, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	if value == nil {
		return s.Delete(ctx, key)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	if s.closed {
		return ErrClosed
	}
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *fileStore) All(ctx context.Context) iter.Seq2[string, []byte] {
	return func(yield func(string, []byte) bool) {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return
		}

		keys := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
				continue
			}
			key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
		slices.Sort(keys)

		for _, k := range keys {
			if ctx.Err() != nil {
				return
			}
			v, err := s.Get(ctx, k)
			if err != nil {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

var _ Store = (*fileStore)(nil)
