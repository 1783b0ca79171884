package leveldb

import (
	"testing"

	"github.com/brunotm/streamtask/store"
	"github.com/stretchr/testify/require"
)

func TestDB(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close(false)

	store.TestStateBackend(t, db)
}

func TestDBCloseDropping(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	require.NoError(t, db.Close(true))
}
