// Package dbtest opens throwaway in-memory sqlite databases with the service
// schema auto-migrated.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/climbclub/ticketdesk/pkg/db/models"
)

// Open returns a fresh database named after prefix. The pool is capped at one
// connection so concurrent transactions queue instead of hitting sqlite's
// table locks.
func Open(t testing.TB, prefix string) *gorm.DB {
	t.Helper()
	dsn := "file:" + prefix + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedTickets inserts n unsold tickets with predictable object keys.
func SeedTickets(t testing.TB, conn *gorm.DB, n int) []models.Ticket {
	t.Helper()
	out := make([]models.Ticket, 0, n)
	for i := 0; i < n; i++ {
		ticket := models.Ticket{URL: "tickets/" + uuid.NewString() + ".pdf"}
		if err := conn.Create(&ticket).Error; err != nil {
			t.Fatalf("seed ticket: %v", err)
		}
		out = append(out, ticket)
	}
	return out
}
