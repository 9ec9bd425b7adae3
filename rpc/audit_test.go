package rpc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditStoreRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenAuditStore(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record("auction_placeBid", "10.0.0.1", "ok"))
	require.NoError(t, store.Record("auction_placeBid", "10.0.0.1", "insufficient_funds"))
	require.NoError(t, store.Record("escrow_create", "10.0.0.2", "ok"))

	entries, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		require.NotEmpty(t, entry.ID)
		require.NotZero(t, entry.RecordedAt)
	}

	limited, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestAuditStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenAuditStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Record("admin_pause", "127.0.0.1", "ok"))
	require.NoError(t, store.Close())

	reopened, err := OpenAuditStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "admin_pause", entries[0].Method)
}

func TestAuditStoreNilSafe(t *testing.T) {
	var store *AuditStore
	require.NoError(t, store.Record("x", "y", "z"))
	entries, err := store.Recent(5)
	require.NoError(t, err)
	require.Nil(t, entries)
	require.NoError(t, store.Close())
}
