package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const eventColumns = `id, name, starts_at, location, description, capacity, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	e := &Event{}
	if err := row.Scan(&e.ID, &e.Name, &e.StartsAt, &e.Location, &e.Description, &e.Capacity, &e.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateEvent inserts a new event
func (db *DB) CreateEvent(ctx context.Context, e *Event) (*Event, error) {
	var id int64
	err := db.QueryRowContext(ctx, db.q(
		`INSERT INTO events (name, starts_at, location, description, capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`),
		e.Name, e.StartsAt.UTC(), e.Location, e.Description, e.Capacity, db.now(),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return db.GetEventByID(ctx, id)
}

// GetEventByID retrieves an event by ID
func (db *DB) GetEventByID(ctx context.Context, id int64) (*Event, error) {
	e, err := scanEvent(db.QueryRowContext(ctx, db.q(
		`SELECT `+eventColumns+` FROM events WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ListEventsStartingBetween returns events whose start time falls in
// [from, to), earliest first.
func (db *DB) ListEventsStartingBetween(ctx context.Context, from, to time.Time) ([]*Event, error) {
	rows, err := db.QueryContext(ctx, db.q(
		`SELECT `+eventColumns+` FROM events
		 WHERE starts_at >= $1 AND starts_at < $2
		 ORDER BY starts_at ASC, id ASC`),
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}
