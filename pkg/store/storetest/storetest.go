// Package storetest opens throwaway sqlite-backed stores for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/snowflake"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// New returns a migrated store backed by a sqlite file in t.TempDir().
func New(t testing.TB) *store.Store {
	t.Helper()
	return Open(t, filepath.Join(t.TempDir(), "chat.db"), 1)
}

// Open returns a migrated store on dsn that assigns ids from node. Two
// stores opened on one dsn behave like two processes sharing a database.
func Open(t testing.TB, dsn string, node int64) *store.Store {
	t.Helper()

	gdb, err := db.OpenSQL(db.SQLOptions{
		Driver:     "sqlite",
		DSN:        dsn,
		Production: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	ids, err := snowflake.NewNode(node)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	s := store.New(gdb, ids)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return s
}
