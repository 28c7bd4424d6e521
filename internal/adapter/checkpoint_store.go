package adapter

import (
	"errors"
	"log/slog"
	"strings"

	m "gloom.dev/pkg/gloom/internal/model"
	"gloom.dev/pkg/gloom/pkg"
	"gopkg.in/yaml.v3"
)

const (
	traceSuffix = ".json"
	metaSuffix  = ".meta.yaml"
)

// CheckpointStore persists checkpoints keyed by artifact fingerprint and
// test name.
type CheckpointStore interface {
	// Root returns the directory the store lives in.
	Root() string
	// Load returns the checkpoint for test under fingerprint. A missing
	// checkpoint is reported with found == false and a nil error.
	Load(fingerprint m.Fingerprint, test string) (m.Checkpoint, bool, error)
	// Save stores the checkpoint, replacing any previous one for the same
	// test and fingerprint.
	Save(checkpoint m.Checkpoint) (m.CheckpointRef, error)
	Delete(fingerprint m.Fingerprint, test string) error
	List() ([]m.CheckpointRef, error)
	// Prune removes every fingerprint not in keep. An empty keep removes
	// all checkpoints.
	Prune(keep []m.Fingerprint) (int, error)
}

type checkpointStore struct {
	blobs pkg.BlobStore
}

// NewCheckpointStore creates a file-backed CheckpointStore rooted at dir.
func NewCheckpointStore(dir string) CheckpointStore {
	return &checkpointStore{blobs: pkg.NewFileBlobStore(dir)}
}

func (s *checkpointStore) Root() string {
	return s.blobs.Root()
}

func traceKey(fingerprint m.Fingerprint, test string) pkg.Key {
	return pkg.Key{Namespace: string(fingerprint), Name: test + traceSuffix}
}

func metaKey(fingerprint m.Fingerprint, test string) pkg.Key {
	return pkg.Key{Namespace: string(fingerprint), Name: test + metaSuffix}
}

func (s *checkpointStore) Load(fingerprint m.Fingerprint, test string) (m.Checkpoint, bool, error) {
	meta, found, err := s.loadMeta(fingerprint, test)
	if err != nil || !found {
		return m.Checkpoint{}, false, err
	}

	key := traceKey(fingerprint, test)

	trace, found, err := s.blobs.Get(key)
	if err != nil {
		return m.Checkpoint{}, false, &m.CheckpointIOError{Op: "read", Path: key.String(), Err: err}
	}

	if !found {
		slog.Debug("checkpoint metadata without trace", "key", key.String())
		return m.Checkpoint{}, false, nil
	}

	path, err := s.blobs.Path(key)
	if err != nil {
		return m.Checkpoint{}, false, &m.CheckpointIOError{Op: "resolve", Path: key.String(), Err: err}
	}

	return m.Checkpoint{Meta: meta, Trace: trace, Path: m.Path(path)}, true, nil
}

func (s *checkpointStore) loadMeta(fingerprint m.Fingerprint, test string) (m.CheckpointMeta, bool, error) {
	key := metaKey(fingerprint, test)

	data, found, err := s.blobs.Get(key)
	if err != nil {
		return m.CheckpointMeta{}, false, &m.CheckpointIOError{Op: "read", Path: key.String(), Err: err}
	}

	if !found {
		return m.CheckpointMeta{}, false, nil
	}

	var meta m.CheckpointMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return m.CheckpointMeta{}, false, &m.CheckpointIOError{Op: "decode", Path: key.String(), Err: err}
	}

	return meta, true, nil
}

// Save writes the metadata before the trace so a visible trace always has
// metadata next to it.
func (s *checkpointStore) Save(checkpoint m.Checkpoint) (m.CheckpointRef, error) {
	meta := checkpoint.Meta
	if meta.Fingerprint == "" || meta.Test == "" {
		return m.CheckpointRef{}, &m.CheckpointIOError{Op: "write", Err: errors.New("checkpoint without fingerprint or test")}
	}

	data, err := yaml.Marshal(meta)
	if err != nil {
		return m.CheckpointRef{}, &m.CheckpointIOError{Op: "encode", Path: meta.Test, Err: err}
	}

	mk := metaKey(meta.Fingerprint, meta.Test)
	if err := s.blobs.Put(mk, data); err != nil {
		return m.CheckpointRef{}, &m.CheckpointIOError{Op: "write", Path: mk.String(), Err: err}
	}

	tk := traceKey(meta.Fingerprint, meta.Test)
	if err := s.blobs.Put(tk, checkpoint.Trace); err != nil {
		return m.CheckpointRef{}, &m.CheckpointIOError{Op: "write", Path: tk.String(), Err: err}
	}

	slog.Info("stored checkpoint", "test", meta.Test, "fingerprint", meta.Fingerprint.Short(), "bytes", len(checkpoint.Trace))

	return s.ref(meta.Fingerprint, meta.Package, meta.Test)
}

// Delete removes the trace first so a partially deleted checkpoint is never
// loadable.
func (s *checkpointStore) Delete(fingerprint m.Fingerprint, test string) error {
	for _, key := range []pkg.Key{traceKey(fingerprint, test), metaKey(fingerprint, test)} {
		if err := s.blobs.Delete(key); err != nil {
			return &m.CheckpointIOError{Op: "delete", Path: key.String(), Err: err}
		}
	}

	return nil
}

func (s *checkpointStore) List() ([]m.CheckpointRef, error) {
	namespaces, err := s.blobs.Namespaces()
	if err != nil {
		return nil, &m.CheckpointIOError{Op: "list", Path: s.blobs.Root(), Err: err}
	}

	var refs []m.CheckpointRef

	for _, namespace := range namespaces {
		names, err := s.blobs.List(namespace)
		if err != nil {
			return nil, &m.CheckpointIOError{Op: "list", Path: namespace, Err: err}
		}

		fingerprint := m.Fingerprint(namespace)

		for _, name := range names {
			test, ok := strings.CutSuffix(name, traceSuffix)
			if !ok {
				continue
			}

			meta, _, err := s.loadMeta(fingerprint, test)
			if err != nil {
				slog.Warn("unreadable checkpoint metadata", "fingerprint", namespace, "test", test, "error", err)
			}

			ref, err := s.ref(fingerprint, meta.Package, test)
			if err != nil {
				return nil, err
			}

			refs = append(refs, ref)
		}
	}

	return refs, nil
}

func (s *checkpointStore) Prune(keep []m.Fingerprint) (int, error) {
	namespaces := make([]string, 0, len(keep))
	for _, fingerprint := range keep {
		namespaces = append(namespaces, string(fingerprint))
	}

	removed, err := s.blobs.Prune(namespaces)
	if err != nil {
		return removed, &m.CheckpointIOError{Op: "prune", Path: s.blobs.Root(), Err: err}
	}

	return removed, nil
}

func (s *checkpointStore) ref(fingerprint m.Fingerprint, pkgPath, test string) (m.CheckpointRef, error) {
	key := traceKey(fingerprint, test)

	path, err := s.blobs.Path(key)
	if err != nil {
		return m.CheckpointRef{}, &m.CheckpointIOError{Op: "resolve", Path: key.String(), Err: err}
	}

	return m.CheckpointRef{
		Fingerprint: fingerprint,
		Package:     pkgPath,
		Test:        test,
		Path:        m.Path(path),
	}, nil
}
