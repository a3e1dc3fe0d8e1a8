// Package databasetest provides a migrated SQLite store for tests.
package databasetest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlexTLDR/evite-checkin/internal/database"
)

// New opens a fresh SQLite database in the test's temp dir and runs the
// migrations. The handle is closed when the test ends.
func New(t testing.TB) *database.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "evite.db") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := database.New(database.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// Seed creates guests and events with less ceremony in tests.
type Seed struct {
	t  testing.TB
	db *database.DB
	n  int
}

// NewSeed wraps db for seeding.
func NewSeed(t testing.TB, db *database.DB) *Seed {
	return &Seed{t: t, db: db}
}

// Guest creates a guest with a unique email.
func (s *Seed) Guest(first, last string) *database.Guest {
	s.t.Helper()
	s.n++
	g, err := s.db.CreateGuest(context.Background(), &database.Guest{
		Email:     fmt.Sprintf("%s.%s.%d@example.com", first, last, s.n),
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		s.t.Fatalf("seed guest: %v", err)
	}
	return g
}

// VIP creates a VIP guest with a company.
func (s *Seed) VIP(first, last, company string) *database.Guest {
	s.t.Helper()
	s.n++
	g, err := s.db.CreateGuest(context.Background(), &database.Guest{
		Email:     fmt.Sprintf("%s.%s.%d@example.com", first, last, s.n),
		FirstName: first,
		LastName:  last,
		Company:   sql.NullString{String: company, Valid: company != ""},
		IsVIP:     true,
	})
	if err != nil {
		s.t.Fatalf("seed vip guest: %v", err)
	}
	return g
}

// Event creates an event starting at the given time.
func (s *Seed) Event(name string, startsAt time.Time) *database.Event {
	s.t.Helper()
	e, err := s.db.CreateEvent(context.Background(), &database.Event{
		Name:     name,
		StartsAt: startsAt,
		Location: sql.NullString{String: "Cluj-Napoca", Valid: true},
	})
	if err != nil {
		s.t.Fatalf("seed event: %v", err)
	}
	return e
}

// Member invites guests to an event.
func (s *Seed) Member(event *database.Event, guests ...*database.Guest) {
	s.t.Helper()
	for _, g := range guests {
		if _, err := s.db.AddMembership(context.Background(), event.ID, g.ID); err != nil {
			s.t.Fatalf("seed membership: %v", err)
		}
	}
}

// ActiveCodes counts the GENERATED or SENT codes of the type the guest holds
// for the event.
func ActiveCodes(t testing.TB, db *database.DB, guestID, eventID int64, typ database.CodeType) int {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM qr_codes
		 WHERE guest_id = ? AND event_id = ? AND type = ? AND status IN (?, ?)`,
		guestID, eventID, string(typ), string(database.CodeGenerated), string(database.CodeSent),
	).Scan(&n)
	if err != nil {
		t.Fatalf("count active codes: %v", err)
	}
	return n
}

// Invitations counts the invitation rows of a guest for an event.
func Invitations(t testing.TB, db *database.DB, guestID, eventID int64) int {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM invitations WHERE guest_id = ? AND event_id = ?`,
		guestID, eventID,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count invitations: %v", err)
	}
	return n
}
