package pkg

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempPrefix = ".tmp-"

// ErrInvalidKey is returned for keys that cannot be mapped to a file name.
var ErrInvalidKey = errors.New("invalid blob key")

// Key addresses a blob. Namespace is typically a content fingerprint and
// Name the item stored under it.
type Key struct {
	Namespace string
	Name      string
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// BlobStore is a keyed store of opaque blobs. A missing key is a miss, not an
// error, and a blob is only ever visible under its final name once it has
// been written completely.
type BlobStore interface {
	Root() string
	Path(key Key) (string, error)
	Get(key Key) ([]byte, bool, error)
	Put(key Key, data []byte) error
	Delete(key Key) error
	List(namespace string) ([]string, error)
	Namespaces() ([]string, error)
	Prune(keep []string) (int, error)
}

type fileBlobStore struct {
	root string
	perm os.FileMode
}

// NewFileBlobStore creates a BlobStore rooted at dir, one sub-directory per
// namespace. The directory is created lazily on the first write.
func NewFileBlobStore(dir string) BlobStore {
	return &fileBlobStore{root: dir, perm: 0o644}
}

// Root implements BlobStore.
func (s *fileBlobStore) Root() string {
	return s.root
}

// Path implements BlobStore.
func (s *fileBlobStore) Path(key Key) (string, error) {
	if err := validateSegment(key.Namespace); err != nil {
		return "", fmt.Errorf("namespace %q: %w", key.Namespace, err)
	}

	if err := validateSegment(key.Name); err != nil {
		return "", fmt.Errorf("name %q: %w", key.Name, err)
	}

	return filepath.Join(s.root, key.Namespace, key.Name), nil
}

// Get implements BlobStore.
func (s *fileBlobStore) Get(key Key) ([]byte, bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("blob miss", "key", key.String())
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("read blob %s: %w", key, err)
	}

	return data, true, nil
}

// Put implements BlobStore. The data is written to a temp file in the target
// directory and renamed into place, so concurrent writers of the same key
// leave the last completed write visible.
func (s *fileBlobStore) Put(key Key, data []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create namespace dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+key.Name+"-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if committed {
			return
		}

		_ = tmp.Close()

		if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove temp blob", "path", tmpName, "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp blob: %w", err)
	}

	if err := tmp.Chmod(s.perm); err != nil {
		return fmt.Errorf("chmod temp blob: %w", err)
	}

	_ = tmp.Sync()

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blob: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("commit blob %s: %w", key, err)
	}

	committed = true

	slog.Debug("stored blob", "key", key.String(), "bytes", len(data))

	return nil
}

// Delete implements BlobStore. Deleting a missing key is not an error.
func (s *fileBlobStore) Delete(key Key) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}

	return nil
}

// List implements BlobStore. Names are sorted and in-flight temp files are
// never included.
func (s *fileBlobStore) List(namespace string) ([]string, error) {
	if err := validateSegment(namespace); err != nil {
		return nil, fmt.Errorf("namespace %q: %w", namespace, err)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, namespace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list namespace %s: %w", namespace, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

// Namespaces implements BlobStore.
func (s *fileBlobStore) Namespaces() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	namespaces := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			namespaces = append(namespaces, entry.Name())
		}
	}

	sort.Strings(namespaces)

	return namespaces, nil
}

// Prune implements BlobStore. It removes every namespace not listed in keep
// and returns how many were removed.
func (s *fileBlobStore) Prune(keep []string) (int, error) {
	namespaces, err := s.Namespaces()
	if err != nil {
		return 0, err
	}

	kept := make(map[string]struct{}, len(keep))
	for _, namespace := range keep {
		kept[namespace] = struct{}{}
	}

	removed := 0

	for _, namespace := range namespaces {
		if _, ok := kept[namespace]; ok {
			continue
		}

		if err := os.RemoveAll(filepath.Join(s.root, namespace)); err != nil {
			return removed, fmt.Errorf("prune namespace %s: %w", namespace, err)
		}

		slog.Debug("pruned namespace", "namespace", namespace)

		removed++
	}

	return removed, nil
}

func validateSegment(segment string) error {
	switch {
	case segment == "", segment == ".", segment == "..":
		return ErrInvalidKey
	case strings.ContainsAny(segment, `/\`):
		return ErrInvalidKey
	case strings.HasPrefix(segment, tempPrefix):
		return ErrInvalidKey
	}

	return nil
}
