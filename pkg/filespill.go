// Package pkg holds generic storage helpers used by gloom: an atomic keyed
// blob store for checkpoints and an on-disk spill for run reports.
package pkg

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileSpill is an append-only log of T values kept in a temp file instead of
// memory. Indexes are assigned in append order. It is safe for concurrent
// use; Close deletes the file.
type FileSpill[T any] interface {
	// Append writes item and returns its index.
	Append(item T) (uint64, error)
	Len() uint64
	Path() string
	// Range decodes the items in append order and stops at the first error
	// returned by fn. fn must not call back into the spill.
	Range(fn func(index uint64, item T) error) error
	Close() error
}

type gobSpill[T any] struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     *bufio.Writer
	encoder *gob.Encoder
	count   uint64
	closed  bool
}

// NewFileSpill creates a spill file inside dir. An empty dir means a
// "gloom-spill" directory under os.TempDir.
func NewFileSpill[T any](dir string) (FileSpill[T], error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "gloom-spill")
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}

	file, err := os.CreateTemp(dir, "spill-*.gob")
	if err != nil {
		return nil, fmt.Errorf("create spill file: %w", err)
	}

	buf := bufio.NewWriter(file)

	slog.Debug("created spill", "path", file.Name())

	return &gobSpill[T]{
		path:    file.Name(),
		file:    file,
		buf:     buf,
		encoder: gob.NewEncoder(buf),
	}, nil
}

func (s *gobSpill[T]) Append(item T) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("append to closed spill %s", s.path)
	}

	if err := s.encoder.Encode(item); err != nil {
		return 0, fmt.Errorf("encode spill item %d: %w", s.count, err)
	}

	index := s.count
	s.count++

	return index, nil
}

func (s *gobSpill[T]) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

func (s *gobSpill[T]) Path() string {
	return s.path
}

func (s *gobSpill[T]) Range(fn func(index uint64, item T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("range over closed spill %s", s.path)
	}

	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush spill: %w", err)
	}

	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open spill: %w", err)
	}
	defer file.Close()

	decoder := gob.NewDecoder(bufio.NewReader(file))

	for i := uint64(0); i < s.count; i++ {
		var item T
		if err := decoder.Decode(&item); err != nil {
			return fmt.Errorf("decode spill item %d: %w", i, err)
		}

		if err := fn(i, item); err != nil {
			return err
		}
	}

	return nil
}

func (s *gobSpill[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close spill: %w", err)
	}

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove spill file", "path", s.path, "error", err)
	}

	slog.Debug("closed spill", "path", s.path, "items", s.count)

	return nil
}
