package adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	m "gloom.dev/pkg/gloom/internal/model"
)

func sampleCheckpoint(fingerprint m.Fingerprint, test string) m.Checkpoint {
	return m.Checkpoint{
		Meta: m.CheckpointMeta{
			Fingerprint:    fingerprint,
			Package:        "example.com/queue",
			Test:           test,
			RunID:          "run-1",
			CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Tuning:         m.Tuning{MaxBranches: 1000, MaxThreads: 4},
			FailureSummary: "queue_test.go:12: lost update",
		},
		Trace: []byte{0x7b, 0x00, 0xff, 0x7d},
	}
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())
	checkpoint := sampleCheckpoint("f1", "TestFlaky")

	ref, err := store.Save(checkpoint)
	require.NoError(t, err)
	assert.Equal(t, m.Fingerprint("f1"), ref.Fingerprint)
	assert.Equal(t, "TestFlaky", ref.Test)
	assert.Equal(t, "example.com/queue", ref.Package)
	assert.Equal(t, filepath.Join(store.Root(), "f1", "TestFlaky.json"), string(ref.Path))

	loaded, found, err := store.Load("f1", "TestFlaky")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, checkpoint.Trace, loaded.Trace)
	assert.Equal(t, checkpoint.Meta, loaded.Meta)
	assert.Equal(t, ref, loaded.Ref())
}

func TestCheckpointStore_MissOnDifferentFingerprint(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	_, err := store.Save(sampleCheckpoint("f1", "TestFlaky"))
	require.NoError(t, err)

	_, found, err := store.Load("f2", "TestFlaky")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.Load("f1", "TestOther")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckpointStore_TraceWithoutMetadataIsAMiss(t *testing.T) {
	root := t.TempDir()
	store := NewCheckpointStore(root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "f1"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "f1", "TestFlaky.json"), []byte("{}"), 0o600))

	_, found, err := store.Load("f1", "TestFlaky")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckpointStore_CorruptMetadata(t *testing.T) {
	root := t.TempDir()
	store := NewCheckpointStore(root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "f1"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "f1", "TestFlaky.meta.yaml"), []byte("tuning: [unterminated"), 0o600))

	_, found, err := store.Load("f1", "TestFlaky")
	assert.False(t, found)

	var ioErr *m.CheckpointIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "decode", ioErr.Op)
}

func TestCheckpointStore_Delete(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	_, err := store.Save(sampleCheckpoint("f1", "TestFlaky"))
	require.NoError(t, err)

	require.NoError(t, store.Delete("f1", "TestFlaky"))
	require.NoError(t, store.Delete("f1", "TestFlaky"))

	_, found, err := store.Load("f1", "TestFlaky")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckpointStore_ListAndPrune(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	for _, cp := range []m.Checkpoint{
		sampleCheckpoint("f2", "TestB"),
		sampleCheckpoint("f1", "TestZ"),
		sampleCheckpoint("f1", "TestA"),
	} {
		_, err := store.Save(cp)
		require.NoError(t, err)
	}

	refs, err := store.List()
	require.NoError(t, err)
	require.Len(t, refs, 3)

	got := make([]string, 0, len(refs))
	for _, ref := range refs {
		got = append(got, string(ref.Fingerprint)+"/"+ref.Test)
		assert.Equal(t, "example.com/queue", ref.Package)
	}

	assert.Equal(t, []string{"f1/TestA", "f1/TestZ", "f2/TestB"}, got)

	removed, err := store.Prune([]m.Fingerprint{"f2"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	refs, err = store.List()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "TestB", refs[0].Test)

	removed, err = store.Prune(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestCheckpointStore_SaveRejectsIncompleteMetadata(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	_, err := store.Save(m.Checkpoint{Trace: []byte("x")})

	var ioErr *m.CheckpointIOError
	require.ErrorAs(t, err, &ioErr)
}

func TestCheckpointStore_EmptyStore(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "never-created"))

	refs, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, refs)
}
