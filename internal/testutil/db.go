// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"regexp"
	"testing"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/database"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// NewDB opens a migrated in-memory SQLite database private to t.
// A single connection is used so concurrent callers serialize on it
// instead of failing with SQLITE_BUSY.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := nonAlnum.ReplaceAllString(t.Name(), "_")
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
