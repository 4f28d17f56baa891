package store_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TinyMUSH/tinygdbm/pkg/store"
)

// smallConfig keeps buckets tiny so a handful of inserts forces splits.
func smallConfig() store.Config {
	return store.Config{BlockSize: 256, BucketElems: 4}
}

func TestBucketSplit(t *testing.T) {
	t.Parallel()
	db := createStore(t, smallConfig())
	require.EqualValues(t, 4, store.BucketElems(db))

	// Five records overflow the single initial bucket.
	keys := []string{"a", "b", "c", "d", "e"}
	for i, k := range keys {
		require.NoError(t, db.Store([]byte(k), []byte{byte(i)}, store.Insert))
	}

	assert.Greater(t, store.DistinctBuckets(db), 1, "overflow must have split the bucket")
	require.NoError(t, db.Verify())

	for i, k := range keys {
		got, err := db.Fetch([]byte(k))
		require.NoError(t, err, "fetching %q after split", k)
		assert.Equal(t, []byte{byte(i)}, got)
	}

	require.NoError(t, db.Delete([]byte("c")))
	assert.False(t, db.Exists([]byte("c")))
	for _, k := range []string{"a", "b", "d", "e"} {
		assert.True(t, db.Exists([]byte(k)), "%q must survive deleting a neighbor", k)
	}
	require.NoError(t, db.Verify())
}

func TestDirectoryGrowth(t *testing.T) {
	t.Parallel()
	db := createStore(t, smallConfig())
	initialBits := store.DirBits(db)

	want := storeN(t, db, 500)
	assert.Greater(t, store.DirBits(db), initialBits, "500 records in 4-slot buckets must double the directory")
	require.NoError(t, db.Verify())
	checkAll(t, db, want)

	db = closeAndReopen(t, db)
	require.NoError(t, db.Verify())
	checkAll(t, db, want)
}

func TestDeleteNeverMergesBuckets(t *testing.T) {
	t.Parallel()
	db := createStore(t, smallConfig())
	want := storeN(t, db, 200)

	grown := store.DistinctBuckets(db)
	bits := store.DirBits(db)
	for k := range want {
		require.NoError(t, db.Delete([]byte(k)))
	}

	assert.Equal(t, grown, store.DistinctBuckets(db), "emptying the table must not merge buckets")
	assert.Equal(t, bits, store.DirBits(db))
	require.NoError(t, db.Verify())

	_, err := db.FirstKey()
	assert.ErrorIs(t, err, store.ErrEndOfKeys)

	// The emptied table must still accept everything back.
	want = storeN(t, db, 200)
	checkAll(t, db, want)
	require.NoError(t, db.Verify())
}

func TestStoreInterleavedWithDelete(t *testing.T) {
	t.Parallel()
	db := createStore(t, smallConfig())

	live := make(map[string]string)
	for round := 0; round < 6; round++ {
		for i := 0; i < 50; i++ {
			k := fmt.Sprintf("r%d-k%03d", round, i)
			v := fmt.Sprintf("round %d item %d", round, i)
			require.NoError(t, db.Store([]byte(k), []byte(v), store.Insert))
			live[k] = v
		}
		// Drop every third key from this round.
		for i := 0; i < 50; i += 3 {
			k := fmt.Sprintf("r%d-k%03d", round, i)
			require.NoError(t, db.Delete([]byte(k)))
			delete(live, k)
		}
	}

	require.NoError(t, db.Verify())
	checkAll(t, db, live)

	db = closeAndReopen(t, db)
	checkAll(t, db, live)
}
