package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("pool"), []byte("state")))

	value, err := db.Get([]byte("pool"))
	require.NoError(t, err)
	require.Equal(t, []byte("state"), value)

	ok, err := db.Has([]byte("pool"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	ok, err = db.Has([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	payload := []byte("original")
	require.NoError(t, db.Put([]byte("k"), payload))
	payload[0] = 'X'

	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), value)
}

func TestLevelDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "granary-db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("position/alice"), []byte{0x01, 0x02}))

	value, err := db.Get([]byte("position/alice"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, value)

	_, err = db.Get([]byte("position/bob"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	ok, err := db.Has([]byte("position/alice"))
	require.NoError(t, err)
	require.True(t, ok)
}
