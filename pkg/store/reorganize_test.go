package store_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TinyMUSH/tinygdbm/pkg/store"
)

func TestReorganizePreservesRecords(t *testing.T) {
	t.Parallel()
	db := createStore(t, smallConfig())
	want := storeN(t, db, 300)
	for i := 0; i < 300; i += 2 {
		k := []byte(keyOf(i))
		require.NoError(t, db.Delete(k))
		delete(want, keyOf(i))
	}

	before, err := db.Digest()
	require.NoError(t, err)

	require.NoError(t, db.Reorganize())

	after, err := db.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after, "rebuild must keep exactly the live records")
	require.NoError(t, db.Verify())
	checkAll(t, db, want)

	// The rebuilt handle must remain fully usable.
	require.NoError(t, db.Store([]byte("post-reorg"), []byte("ok"), store.Insert))
	require.NoError(t, db.Delete([]byte("post-reorg")))
}

func TestReorganizeShrinksFile(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})

	big := make([]byte, 2000)
	for i := 0; i < 100; i++ {
		require.NoError(t, db.Store([]byte(keyOf(i)), big, store.Insert))
	}
	for i := 10; i < 100; i++ {
		require.NoError(t, db.Delete([]byte(keyOf(i))))
	}
	mark := store.NextBlock(db)

	require.NoError(t, db.Reorganize())
	assert.Less(t, store.NextBlock(db), mark, "compaction must reclaim the deleted space")
	assert.Zero(t, store.AvailCount(db), "a fresh file carries no reclaimed regions")

	for i := 0; i < 10; i++ {
		got, err := db.Fetch([]byte(keyOf(i)))
		require.NoError(t, err)
		assert.Equal(t, big, got)
	}
}

func TestReorganizeSurvivesReopen(t *testing.T) {
	t.Parallel()
	db := createStore(t, smallConfig())
	want := storeN(t, db, 100)
	require.NoError(t, db.Reorganize())

	db = closeAndReopen(t, db)
	require.NoError(t, db.Verify())
	checkAll(t, db, want)
}

func TestBackup(t *testing.T) {
	t.Parallel()
	db := createStore(t, smallConfig())
	want := storeN(t, db, 80)
	orig, err := db.Digest()
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, db.Backup(dst))

	// Mutating the origin must not touch the copy.
	require.NoError(t, db.Delete([]byte(keyOf(0))))

	bak, err := store.Open(dst, store.Config{Mode: store.Reader, Fatal: panicFailure{}})
	require.NoError(t, err)
	defer bak.Close()
	require.NoError(t, bak.Verify())
	got, err := bak.Digest()
	require.NoError(t, err)
	assert.Equal(t, orig, got)
	checkAll(t, bak, want)
}

// keyOf matches the key format used by storeN.
func keyOf(i int) string {
	return fmt.Sprintf("key-%04d", i)
}
