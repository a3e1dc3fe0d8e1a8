package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const guestColumns = `id, email, first_name, last_name, company, position, phone, is_vip, is_companion, companion_of, created_at`

// NormalizeEmail lower-cases and trims an address; emails are the natural key
// of guests.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func scanGuest(row interface{ Scan(...any) error }) (*Guest, error) {
	g := &Guest{}
	err := row.Scan(&g.ID, &g.Email, &g.FirstName, &g.LastName, &g.Company, &g.Position,
		&g.Phone, &g.IsVIP, &g.IsCompanion, &g.CompanionOf, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// CreateGuest inserts a new guest. A duplicate email yields ErrConflict.
func (db *DB) CreateGuest(ctx context.Context, g *Guest) (*Guest, error) {
	var id int64
	err := db.QueryRowContext(ctx, db.q(
		`INSERT INTO guests (email, first_name, last_name, company, position, phone, is_vip, is_companion, companion_of, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`),
		NormalizeEmail(g.Email), g.FirstName, g.LastName, g.Company, g.Position, g.Phone,
		g.IsVIP, g.IsCompanion, g.CompanionOf, db.now(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create guest: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create guest: %w", err)
	}

	return db.GetGuestByID(ctx, id)
}

// UpsertGuestByEmail creates the guest if no guest has that email yet and
// returns the stored row. An existing guest is never overwritten.
func (db *DB) UpsertGuestByEmail(ctx context.Context, g *Guest) (*Guest, bool, error) {
	email := NormalizeEmail(g.Email)

	var id int64
	err := db.QueryRowContext(ctx, db.q(
		`INSERT INTO guests (email, first_name, last_name, company, position, phone, is_vip, is_companion, companion_of, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (email) DO NOTHING RETURNING id`),
		email, g.FirstName, g.LastName, g.Company, g.Position, g.Phone,
		g.IsVIP, g.IsCompanion, g.CompanionOf, db.now(),
	).Scan(&id)

	switch {
	case err == nil:
		guest, err := db.GetGuestByID(ctx, id)
		return guest, true, err
	case errors.Is(err, sql.ErrNoRows):
		guest, err := db.GetGuestByEmail(ctx, email)
		return guest, false, err
	default:
		return nil, false, fmt.Errorf("failed to upsert guest: %w", err)
	}
}

// GetGuestByID retrieves a guest by ID
func (db *DB) GetGuestByID(ctx context.Context, id int64) (*Guest, error) {
	g, err := scanGuest(db.QueryRowContext(ctx, db.q(
		`SELECT `+guestColumns+` FROM guests WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guest %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guest: %w", err)
	}
	return g, nil
}

// GetGuestByEmail retrieves a guest by normalized email
func (db *DB) GetGuestByEmail(ctx context.Context, email string) (*Guest, error) {
	g, err := scanGuest(db.QueryRowContext(ctx, db.q(
		`SELECT `+guestColumns+` FROM guests WHERE email = $1`), NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guest %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guest: %w", err)
	}
	return g, nil
}

// ListGuestPhones returns id and phone of every guest that has a phone set.
func (db *DB) ListGuestPhones(ctx context.Context) (map[int64]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, phone FROM guests WHERE phone IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list guest phones: %w", err)
	}
	defer rows.Close()

	phones := make(map[int64]string)
	for rows.Next() {
		var id int64
		var phone string
		if err := rows.Scan(&id, &phone); err != nil {
			return nil, fmt.Errorf("failed to scan guest phone: %w", err)
		}
		phones[id] = phone
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list guest phones: %w", err)
	}

	return phones, nil
}

// UpdateGuestPhone replaces a guest's phone number
func (db *DB) UpdateGuestPhone(ctx context.Context, id int64, phone string) error {
	res, err := db.ExecContext(ctx, db.q(`UPDATE guests SET phone = $1 WHERE id = $2`), nullString(phone), id)
	if err != nil {
		return fmt.Errorf("failed to update guest phone: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update guest phone: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("guest %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListCompanions returns the guests created as companions of guestID that
// are on the event's invite list.
func (db *DB) ListCompanions(ctx context.Context, guestID, eventID int64) ([]*Guest, error) {
	rows, err := db.QueryContext(ctx, db.q(
		`SELECT `+guestColumns+` FROM guests
		 WHERE companion_of = $1
		   AND id IN (SELECT guest_id FROM event_memberships WHERE event_id = $2)
		 ORDER BY id ASC`),
		guestID, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list companions: %w", err)
	}
	defer rows.Close()

	var companions []*Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan companion: %w", err)
		}
		companions = append(companions, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list companions: %w", err)
	}

	return companions, nil
}
