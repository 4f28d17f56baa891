package store_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TinyMUSH/tinygdbm/pkg/store"
)

// =====================================================================
// HELPERS
// =====================================================================

// panicFailure turns fatal I/O errors into panics so tests can observe them
// instead of exiting the process.
type panicFailure struct{}

func (panicFailure) Fatal(msg string) { panic("fatal: " + msg) }

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// createStore makes a fresh database for the test, closing it at cleanup if
// the test has not already done so.
func createStore(t *testing.T, cfg store.Config) *store.DB {
	t.Helper()
	cfg.Mode = store.NewDB
	cfg.Fast = true
	if cfg.Fatal == nil {
		cfg.Fatal = panicFailure{}
	}
	db, err := store.Open(tempPath(t), cfg)
	require.NoError(t, err, "creating database")
	t.Cleanup(func() { db.Close() })
	return db
}

// closeAndReopen closes db and opens the same file again as a writer, which
// forces every structure through its on-disk form.
func closeAndReopen(t *testing.T, db *store.DB) *store.DB {
	t.Helper()
	path := db.Path()
	require.NoError(t, db.Close(), "closing database")
	reopened, err := store.Open(path, store.Config{Mode: store.Writer, Fatal: panicFailure{}})
	require.NoError(t, err, "reopening database")
	t.Cleanup(func() { reopened.Close() })
	return reopened
}

func storeN(t *testing.T, db *store.DB, n int) map[string]string {
	t.Helper()
	want := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		v := fmt.Sprintf("value for entry %d", i)
		require.NoError(t, db.Store([]byte(k), []byte(v), store.Insert))
		want[k] = v
	}
	return want
}

func checkAll(t *testing.T, db *store.DB, want map[string]string) {
	t.Helper()
	for k, v := range want {
		got, err := db.Fetch([]byte(k))
		require.NoError(t, err, "fetching %q", k)
		require.Equal(t, v, string(got), "data for %q", k)
	}
}

// =====================================================================
// TESTS
// =====================================================================

func TestStoreFetchRoundTrip(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})

	key := []byte("player\x00\x01\x02\x03")
	data := []byte{0, 1, 2, 0, 255, 254}
	require.NoError(t, db.Store(key, data, store.Insert))

	got, err := db.Fetch(key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, db.Exists(key))

	_, err = db.Fetch([]byte("absent"))
	assert.ErrorIs(t, err, store.ErrItemNotFound)
	assert.False(t, db.Exists([]byte("absent")))
}

func TestStoreEmptyData(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})

	require.NoError(t, db.Store([]byte("empty"), nil, store.Insert))
	got, err := db.Fetch([]byte("empty"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, db.Exists([]byte("empty")))
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})

	assert.ErrorIs(t, db.Store(nil, []byte("x"), store.Insert), store.ErrIllegalData)
	assert.ErrorIs(t, db.Store([]byte{}, []byte("x"), store.Replace), store.ErrIllegalData)
}

func TestInsertRefusesDuplicate(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})

	key := []byte("dup")
	require.NoError(t, db.Store(key, []byte("first"), store.Insert))
	assert.ErrorIs(t, db.Store(key, []byte("second"), store.Insert), store.ErrCannotReplace)

	got, err := db.Fetch(key)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got), "failed insert must leave the record untouched")

	require.NoError(t, db.Store(key, []byte("second"), store.Replace))
	got, err = db.Fetch(key)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestReplaceChangesDataSize(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})

	key := []byte("grow")
	require.NoError(t, db.Store(key, []byte("short"), store.Insert))
	long := make([]byte, 3000)
	for i := range long {
		long[i] = byte(i)
	}
	require.NoError(t, db.Store(key, long, store.Replace))

	got, err := db.Fetch(key)
	require.NoError(t, err)
	assert.Equal(t, long, got)

	require.NoError(t, db.Store(key, []byte("tiny"), store.Replace))
	got, err = db.Fetch(key)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(got))
	require.NoError(t, db.Verify())
}

func TestDelete(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})
	want := storeN(t, db, 20)

	require.NoError(t, db.Delete([]byte("key-0007")))
	delete(want, "key-0007")

	assert.False(t, db.Exists([]byte("key-0007")))
	_, err := db.Fetch([]byte("key-0007"))
	assert.ErrorIs(t, err, store.ErrItemNotFound)
	assert.ErrorIs(t, db.Delete([]byte("key-0007")), store.ErrItemNotFound)

	checkAll(t, db, want)
	require.NoError(t, db.Verify())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})
	want := storeN(t, db, 100)

	db = closeAndReopen(t, db)
	checkAll(t, db, want)
	require.NoError(t, db.Verify())

	// The reopened handle must be fully writable.
	require.NoError(t, db.Delete([]byte("key-0000")))
	require.NoError(t, db.Store([]byte("post-reopen"), []byte("ok"), store.Insert))
	require.NoError(t, db.Verify())
}

func TestOpenModes(t *testing.T) {
	t.Parallel()

	t.Run("ReaderMissingFile", func(t *testing.T) {
		t.Parallel()
		_, err := store.Open(tempPath(t), store.Config{Mode: store.Reader})
		assert.Error(t, err)
	})

	t.Run("WriterMissingFile", func(t *testing.T) {
		t.Parallel()
		_, err := store.Open(tempPath(t), store.Config{Mode: store.Writer})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("WriterEmptyFile", func(t *testing.T) {
		t.Parallel()
		path := tempPath(t)
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		_, err = store.Open(path, store.Config{Mode: store.Writer})
		assert.ErrorIs(t, err, store.ErrEmptyDatabase)
	})

	t.Run("WriterCreateMakesFile", func(t *testing.T) {
		t.Parallel()
		path := tempPath(t)
		db, err := store.Open(path, store.Config{Mode: store.WriterCreate, Fatal: panicFailure{}})
		require.NoError(t, err)
		require.NoError(t, db.Store([]byte("k"), []byte("v"), store.Insert))
		require.NoError(t, db.Close())

		// A second WriterCreate open must find the existing data.
		db, err = store.Open(path, store.Config{Mode: store.WriterCreate, Fatal: panicFailure{}})
		require.NoError(t, err)
		defer db.Close()
		got, err := db.Fetch([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
	})

	t.Run("NewDBTruncates", func(t *testing.T) {
		t.Parallel()
		db := createStore(t, store.Config{})
		path := db.Path()
		require.NoError(t, db.Store([]byte("old"), []byte("x"), store.Insert))
		require.NoError(t, db.Close())

		fresh, err := store.Open(path, store.Config{Mode: store.NewDB, Fatal: panicFailure{}})
		require.NoError(t, err)
		defer fresh.Close()
		assert.False(t, fresh.Exists([]byte("old")))
	})

	t.Run("TinyBlockSize", func(t *testing.T) {
		t.Parallel()
		_, err := store.Open(tempPath(t), store.Config{Mode: store.NewDB, BlockSize: 64})
		assert.ErrorIs(t, err, store.ErrBlockSize)
	})
}

func TestReaderRestrictions(t *testing.T) {
	t.Parallel()
	db := createStore(t, store.Config{})
	path := db.Path()
	require.NoError(t, db.Store([]byte("k"), []byte("v"), store.Insert))
	require.NoError(t, db.Close())

	r, err := store.Open(path, store.Config{Mode: store.Reader, Fatal: panicFailure{}})
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Fetch([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	assert.ErrorIs(t, r.Store([]byte("k2"), []byte("v2"), store.Insert), store.ErrReaderCantStore)
	assert.ErrorIs(t, r.Delete([]byte("k")), store.ErrReaderCantDelete)
	assert.ErrorIs(t, r.Reorganize(), store.ErrReaderCantReorganize)
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	t.Parallel()

	corrupt := func(t *testing.T, off int64) error {
		t.Helper()
		db := createStore(t, store.Config{})
		path := db.Path()
		require.NoError(t, db.Store([]byte("k"), []byte("v"), store.Insert))
		require.NoError(t, db.Close())

		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		require.NoError(t, err)
		buf := make([]byte, 1)
		_, err = f.ReadAt(buf, off)
		require.NoError(t, err)
		buf[0] ^= 0xFF
		_, err = f.WriteAt(buf, off)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = store.Open(path, store.Config{Mode: store.Writer})
		return err
	}

	t.Run("BadMagic", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, corrupt(t, 0), store.ErrBadMagic)
	})

	t.Run("BadChecksum", func(t *testing.T) {
		t.Parallel()
		// Flip a byte in the free-region table; only the checksum can
		// catch it.
		assert.ErrorIs(t, corrupt(t, 80), store.ErrBadHeader)
	})
}
