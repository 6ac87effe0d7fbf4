package app

import (
	"path/filepath"
	"testing"

	oraclesqlite "github.com/louisbranch/vrfrelay/internal/services/oracle/storage/sqlite"
)

func openTempStore(t *testing.T) *oraclesqlite.Store {
	t.Helper()
	store, err := oraclesqlite.Open(filepath.Join(t.TempDir(), "oracle.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
