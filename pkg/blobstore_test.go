package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBlobStore_RoundTrip(t *testing.T) {
	store := NewFileBlobStore(t.TempDir())
	key := Key{Namespace: "f1", Name: "TestFlaky.json"}
	data := []byte{0x00, 0x01, 0xfe, 0xff, '{', '}'}

	require.NoError(t, store.Put(key, data))

	got, found, err := store.Get(key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, data, got)
}

func TestFileBlobStore_MissIsNotAnError(t *testing.T) {
	store := NewFileBlobStore(filepath.Join(t.TempDir(), "not-created-yet"))

	got, found, err := store.Get(Key{Namespace: "f1", Name: "TestFlaky.json"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestFileBlobStore_DifferentNamespaceMisses(t *testing.T) {
	store := NewFileBlobStore(t.TempDir())
	require.NoError(t, store.Put(Key{Namespace: "f1", Name: "TestFlaky.json"}, []byte("trace")))

	got, found, err := store.Get(Key{Namespace: "f2", Name: "TestFlaky.json"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestFileBlobStore_PutOverwrites(t *testing.T) {
	store := NewFileBlobStore(t.TempDir())
	key := Key{Namespace: "f1", Name: "a"}

	require.NoError(t, store.Put(key, []byte("old")))
	require.NoError(t, store.Put(key, []byte("new")))

	got, found, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", string(got))
}

func TestFileBlobStore_ConcurrentWritersLeaveACompleteBlob(t *testing.T) {
	root := t.TempDir()
	store := NewFileBlobStore(root)
	key := Key{Namespace: "f1", Name: "TestFlaky.json"}

	payloads := make([][]byte, 8)
	for i := range payloads {
		payloads[i] = []byte(strings.Repeat(fmt.Sprintf("%d", i), 64*1024))
	}

	var wg sync.WaitGroup

	for _, payload := range payloads {
		wg.Add(1)

		go func(p []byte) {
			defer wg.Done()
			assert.NoError(t, store.Put(key, p))
		}(payload)
	}

	wg.Wait()

	got, found, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, payloads, got)

	entries, err := os.ReadDir(filepath.Join(root, "f1"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileBlobStore_ListSkipsTempFiles(t *testing.T) {
	root := t.TempDir()
	store := NewFileBlobStore(root)

	require.NoError(t, store.Put(Key{Namespace: "f1", Name: "b"}, []byte("2")))
	require.NoError(t, store.Put(Key{Namespace: "f1", Name: "a"}, []byte("1")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "f1", tempPrefix+"c-123"), []byte("partial"), 0o600))

	names, err := store.List("f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = store.List("missing")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFileBlobStore_DeleteAndPrune(t *testing.T) {
	store := NewFileBlobStore(t.TempDir())

	for _, ns := range []string{"f1", "f2", "f3"} {
		require.NoError(t, store.Put(Key{Namespace: ns, Name: "x"}, []byte(ns)))
	}

	require.NoError(t, store.Delete(Key{Namespace: "f1", Name: "x"}))
	require.NoError(t, store.Delete(Key{Namespace: "f1", Name: "x"}))

	_, found, err := store.Get(Key{Namespace: "f1", Name: "x"})
	require.NoError(t, err)
	assert.False(t, found)

	removed, err := store.Prune([]string{"f2"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	namespaces, err := store.Namespaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"f2"}, namespaces)
}

func TestFileBlobStore_RejectsInvalidKeys(t *testing.T) {
	store := NewFileBlobStore(t.TempDir())

	for _, key := range []Key{
		{Namespace: "", Name: "a"},
		{Namespace: "f1", Name: ""},
		{Namespace: "..", Name: "a"},
		{Namespace: "f1", Name: "../escape"},
		{Namespace: "f1", Name: tempPrefix + "a"},
	} {
		err := store.Put(key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "key %v", key)
	}
}
