package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	m "gloom.dev/pkg/gloom/internal/model"
	"golang.org/x/exp/slices"
)

// Fingerprint hashes the package path, the build tags and the binary
// content. Every component except the trailing binary is length-prefixed so
// that no two distinct inputs share an encoding. Tag order and duplicates do
// not matter.
func Fingerprint(pkg string, tags []string, binary io.Reader) (m.Fingerprint, error) {
	sorted := slices.Clone(tags)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	h := sha256.New()

	writeField(h, []byte(pkg))
	writeLength(h, len(sorted))

	for _, tag := range sorted {
		writeField(h, []byte(tag))
	}

	if _, err := io.Copy(h, binary); err != nil {
		return "", fmt.Errorf("hash binary: %w", err)
	}

	return m.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// FingerprintArtifact fingerprints the binary at path. Any read failure is a
// BuildIntegrityError.
func FingerprintArtifact(pkg string, tags []string, path m.Path) (m.Fingerprint, error) {
	f, err := os.Open(string(path))
	if err != nil {
		return "", &m.BuildIntegrityError{Path: path, Err: err}
	}
	defer f.Close()

	fingerprint, err := Fingerprint(pkg, tags, f)
	if err != nil {
		return "", &m.BuildIntegrityError{Path: path, Err: err}
	}

	return fingerprint, nil
}

func writeLength(h hash.Hash, n int) {
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(n))
	_, _ = h.Write(buf[:])
}

func writeField(h hash.Hash, data []byte) {
	writeLength(h, len(data))
	_, _ = h.Write(data)
}
