package core

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a fresh ChainStore backed by a boltdb file under t's
// temp directory.
func newTestStore(t *testing.T) *ChainStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lightchain.db")
	store, err := OpenChainStore(path, "blocks1", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestIndex opens a UTXOIndex sharing store's database handle.
func newTestIndex(t *testing.T, store *ChainStore) *UTXOIndex {
	t.Helper()
	index, err := OpenUTXOIndex(store.DB(), zerolog.Nop())
	require.NoError(t, err)
	return index
}

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	w, err := NewWallet()
	require.NoError(t, err)
	return w
}

var fixedNow int64 = 1700000000000
