package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBBasicOperations(t *testing.T) {
	db := NewMemDB()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, db.Put([]byte("key"), []byte("value")))

	value, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), value)

	has, err := db.Has([]byte("key"))
	require.NoError(t, err)
	require.True(t, has)

	// Mutating the returned slice must not leak into the store.
	value[0] = 'X'
	fresh, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), fresh)
}

func TestMemDBIteratePrefixOrdered(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("idx/charlie"), []byte{1}))
	require.NoError(t, db.Put([]byte("idx/alpha"), []byte{1}))
	require.NoError(t, db.Put([]byte("idx/bravo"), []byte{1}))
	require.NoError(t, db.Put([]byte("other/zulu"), []byte{1}))

	var keys []string
	err := db.IteratePrefix([]byte("idx/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"idx/alpha", "idx/bravo", "idx/charlie"}, keys)
}

func TestMemDBIterationStopsEarly(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("idx/a"), []byte{1}))
	require.NoError(t, db.Put([]byte("idx/b"), []byte{1}))
	require.NoError(t, db.Put([]byte("idx/c"), []byte{1}))

	var seen int
	err := db.IteratePrefix([]byte("idx/"), func(_, _ []byte) bool {
		seen++
		return seen < 2
	})
	require.NoError(t, err)
	require.Equal(t, 2, seen)
}
