package checkpoint

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	dir, err := NewDirStore(filepath.Join(t.TempDir(), "checkpoints"), zerolog.Nop())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"dir":    dir,
		"lru":    NewLRU(NewMemoryStore(), 2),
	}
}

func requireSameRecord(t *testing.T, want, got Record) {
	t.Helper()
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created at: want %v got %v", want.CreatedAt, got.CreatedAt)
	want.CreatedAt = got.CreatedAt
	require.Equal(t, want, got)
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			r := NewRecord("counter", map[string]int{"steps": 5}).Update(3, []byte{1, 2, 3})
			require.NoError(t, store.Save(r))

			got, err := store.Load(r.ID)
			require.NoError(t, err)
			requireSameRecord(t, r, got)

			// Saving the next cycle replaces the checkpoint of the run.
			next := r.Update(4, []byte{4, 5})
			require.NoError(t, store.Save(next))
			got, err = store.Load(r.ID)
			require.NoError(t, err)
			requireSameRecord(t, next, got)

			ids, err := store.List()
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{r.ID}, ids)

			require.NoError(t, store.Delete(r.ID))
			_, err = store.Load(r.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(r.ID), ErrNotFound)
		})
	}
}

func TestStoreListSorted(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var want []uuid.UUID
			for i := 0; i < 5; i++ {
				r := NewRecord("fib", nil).Update(1, []byte{byte(i)})
				require.NoError(t, store.Save(r))
				want = append(want, r.ID)
			}
			sortIDs(want)

			ids, err := store.List()
			require.NoError(t, err)
			assert.Equal(t, want, ids)
		})
	}
}

func TestStoreDetectsCorruption(t *testing.T) {
	for name, store := range stores(t) {
		if name == "lru" {
			// The cache hands back what was saved without decoding it.
			continue
		}
		t.Run(name, func(t *testing.T) {
			r := NewRecord("nested", nil).Update(1, []byte("state"))
			r.State = []byte("tampered")
			require.NoError(t, store.Save(r))

			_, err := store.Load(r.ID)
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestDirStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	store, err := NewDirStore(dir, zerolog.New(&logs))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bogus"+fileExt), []byte("hi"), 0o644))

	r := NewRecord("counter", nil).Update(1, nil)
	require.NoError(t, store.Save(r))

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{r.ID}, ids)

	assert.Contains(t, logs.String(), `"file":"bogus.ckpt"`)
	assert.NotContains(t, logs.String(), "notes.txt")
}

func TestLRUCache(t *testing.T) {
	underlying := NewMemoryStore()
	cache := NewLRU(underlying, 2)

	r1 := NewRecord("counter", nil).Update(1, []byte{1})
	r2 := NewRecord("counter", nil).Update(1, []byte{2})
	r3 := NewRecord("counter", nil).Update(1, []byte{3})
	for _, r := range []Record{r1, r2, r3} {
		require.NoError(t, underlying.Save(r))
	}

	_, err := cache.Load(r1.ID)
	require.NoError(t, err)
	_, err = cache.Load(r1.ID)
	require.NoError(t, err)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Size)

	_, err = cache.Load(r2.ID)
	require.NoError(t, err)
	_, err = cache.Load(r3.ID)
	require.NoError(t, err)

	stats = cache.Stats()
	assert.Equal(t, 2, stats.Size, "cache should not exceed max size")

	// r1 was the least recently used entry and got evicted.
	_, err = cache.Load(r1.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, cache.Stats().Misses)

	require.NoError(t, cache.Delete(r1.ID))
	_, err = cache.Load(r1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLRUCacheCopiesRecords(t *testing.T) {
	underlying := NewMemoryStore()
	cache := NewLRU(underlying, 2)

	r := NewRecord("counter", map[string]int{"steps": 3}).Update(1, []byte{1, 2, 3})
	require.NoError(t, cache.Save(r))
	r.State[0] = 7

	got, err := cache.Load(r.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.State)

	got.State[0] = 9
	got.Params["steps"] = 0

	again, err := cache.Load(r.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, again.State)
	assert.Equal(t, map[string]int{"steps": 3}, again.Params)
	require.NoError(t, again.Verify())
	assert.Equal(t, 2, cache.Stats().Hits)
}
