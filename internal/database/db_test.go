package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FilePath(t *testing.T) {
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestNew_MemoryURI(t *testing.T) {
	// file: URIs carry their own query string and the PRAGMA parameters
	// must be appended with & rather than a second ?.
	db, err := New(Config{
		Path:    "file:db_memory_uri?mode=memory&cache=shared",
		Profile: ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestBuildConnectionString(t *testing.T) {
	plain := buildConnectionString("/data/ledger.db", ProfileLedger)
	assert.True(t, strings.HasPrefix(plain, "/data/ledger.db?_pragma=journal_mode(WAL)"))
	assert.Contains(t, plain, "_pragma=synchronous(FULL)")

	uri := buildConnectionString("file:x?mode=memory&cache=shared", ProfileLedger)
	assert.Equal(t, 1, strings.Count(uri, "?"))
	assert.Contains(t, uri, "mode=memory&cache=shared&_pragma=journal_mode(WAL)")
}

func TestMigrate_Rerun(t *testing.T) {
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}
