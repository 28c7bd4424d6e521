package domain

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	m "gloom.dev/pkg/gloom/internal/model"
)

func fingerprintOf(t *testing.T, pkg string, tags []string, content string) m.Fingerprint {
	t.Helper()

	fingerprint, err := Fingerprint(pkg, tags, strings.NewReader(content))
	require.NoError(t, err)

	return fingerprint
}

func TestFingerprint(t *testing.T) {
	base := fingerprintOf(t, "example.com/queue", []string{"loom"}, "binary")

	t.Run("stable for identical input", func(t *testing.T) {
		assert.Equal(t, base, fingerprintOf(t, "example.com/queue", []string{"loom"}, "binary"))
	})

	t.Run("hex sha256", func(t *testing.T) {
		assert.Len(t, string(base), 64)
		assert.Equal(t, strings.ToLower(string(base)), string(base))
		assert.Equal(t, string(base[:12]), base.Short())
	})

	t.Run("sensitive to content", func(t *testing.T) {
		assert.NotEqual(t, base, fingerprintOf(t, "example.com/queue", []string{"loom"}, "binary2"))
	})

	t.Run("sensitive to package", func(t *testing.T) {
		assert.NotEqual(t, base, fingerprintOf(t, "example.com/other", []string{"loom"}, "binary"))
	})

	t.Run("sensitive to tags", func(t *testing.T) {
		assert.NotEqual(t, base, fingerprintOf(t, "example.com/queue", nil, "binary"))
		assert.NotEqual(t, base, fingerprintOf(t, "example.com/queue", []string{"loom", "race"}, "binary"))
	})

	t.Run("tag order and duplicates do not matter", func(t *testing.T) {
		a := fingerprintOf(t, "example.com/queue", []string{"race", "loom"}, "binary")
		b := fingerprintOf(t, "example.com/queue", []string{"loom", "race", "loom"}, "binary")
		assert.Equal(t, a, b)
	})

	t.Run("components cannot bleed into each other", func(t *testing.T) {
		a := fingerprintOf(t, "ab", []string{"c"}, "")
		b := fingerprintOf(t, "a", []string{"bc"}, "")
		assert.NotEqual(t, a, b)
	})

	t.Run("read error", func(t *testing.T) {
		_, err := Fingerprint("p", nil, iotest.ErrReader(errors.New("disk gone")))
		require.Error(t, err)
	})
}

func TestFingerprintArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.test")
	require.NoError(t, os.WriteFile(path, []byte("binary"), 0o600))

	got, err := FingerprintArtifact("example.com/queue", []string{"loom"}, m.Path(path))
	require.NoError(t, err)

	want, err := Fingerprint("example.com/queue", []string{"loom"}, bytes.NewBufferString("binary"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = FingerprintArtifact("example.com/queue", nil, m.Path(filepath.Join(t.TempDir(), "missing.test")))

	var integrity *m.BuildIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, ExitBuildFailed, ExitCode(err))
}
