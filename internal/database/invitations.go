package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const invitationColumns = `id, guest_id, event_id, type, status, response, has_companion, companion_name,
	sent_at, opened_at, responded_at, created_at, updated_at`

func scanInvitation(row interface{ Scan(...any) error }) (*Invitation, error) {
	inv := &Invitation{}
	err := row.Scan(&inv.ID, &inv.GuestID, &inv.EventID, &inv.Type, &inv.Status, &inv.Response,
		&inv.HasCompanion, &inv.CompanionName, &inv.SentAt, &inv.OpenedAt, &inv.RespondedAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// RecordResponse stores a guest's answer on their INVITATION-type invitation.
// The row is created directly in RESPONDED state when it does not exist yet;
// the unique (guest, event, type) index makes concurrent submits converge on
// one row.
func (db *DB) RecordResponse(ctx context.Context, guestID, eventID int64, response Response, hasCompanion bool, companionName string) (*Invitation, error) {
	now := db.now()

	var id int64
	err := db.QueryRowContext(ctx, db.q(
		`INSERT INTO invitations (guest_id, event_id, type, status, response, has_companion, companion_name, responded_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $8)
		 ON CONFLICT (guest_id, event_id, type) DO UPDATE SET
		     status = excluded.status,
		     response = excluded.response,
		     has_companion = excluded.has_companion,
		     companion_name = excluded.companion_name,
		     responded_at = excluded.responded_at,
		     updated_at = excluded.updated_at
		 RETURNING id`),
		guestID, eventID, string(InvitationInvite), string(InvitationResponded), string(response),
		hasCompanion, nullString(companionName), now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}

	return db.GetInvitationByID(ctx, id)
}

// EnsureInvitation returns the (guest, event, type) invitation, creating it
// with the given status and response when missing. The flag reports whether
// this call created it.
func (db *DB) EnsureInvitation(ctx context.Context, guestID, eventID int64, typ InvitationType, status InvitationStatus, response Response) (*Invitation, bool, error) {
	now := db.now()

	var sentAt sql.NullTime
	if status == InvitationSent {
		sentAt = sql.NullTime{Time: now, Valid: true}
	}

	var id int64
	err := db.QueryRowContext(ctx, db.q(
		`INSERT INTO invitations (guest_id, event_id, type, status, response, sent_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (guest_id, event_id, type) DO NOTHING
		 RETURNING id`),
		guestID, eventID, string(typ), string(status), nullString(string(response)), sentAt, now,
	).Scan(&id)

	switch {
	case err == nil:
		inv, err := db.GetInvitationByID(ctx, id)
		return inv, true, err
	case errors.Is(err, sql.ErrNoRows):
		inv, err := db.GetInvitation(ctx, guestID, eventID, typ)
		return inv, false, err
	default:
		return nil, false, fmt.Errorf("failed to create invitation: %w", err)
	}
}

// GetInvitationByID retrieves an invitation by ID
func (db *DB) GetInvitationByID(ctx context.Context, id int64) (*Invitation, error) {
	inv, err := scanInvitation(db.QueryRowContext(ctx, db.q(
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invitation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// GetInvitation retrieves the invitation of the given type for a guest and event
func (db *DB) GetInvitation(ctx context.Context, guestID, eventID int64, typ InvitationType) (*Invitation, error) {
	inv, err := scanInvitation(db.QueryRowContext(ctx, db.q(
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE guest_id = $1 AND event_id = $2 AND type = $3`),
		guestID, eventID, string(typ)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invitation for guest %d event %d: %w", guestID, eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// MarkInvitationSent marks a pending invitation as sent
func (db *DB) MarkInvitationSent(ctx context.Context, guestID, eventID int64, typ InvitationType) error {
	now := db.now()
	_, err := db.ExecContext(ctx, db.q(
		`UPDATE invitations SET status = $1, sent_at = $2, updated_at = $2
		 WHERE guest_id = $3 AND event_id = $4 AND type = $5 AND status = $6`),
		string(InvitationSent), now, guestID, eventID, string(typ), string(InvitationPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark invitation as sent: %w", err)
	}
	return nil
}

// MarkInvitationOpened records the first time the guest opened the
// invitation. A responded invitation keeps its status.
func (db *DB) MarkInvitationOpened(ctx context.Context, guestID, eventID int64, typ InvitationType) (*Invitation, error) {
	now := db.now()
	_, err := db.ExecContext(ctx, db.q(
		`UPDATE invitations SET
		     opened_at = COALESCE(opened_at, $1),
		     sent_at = COALESCE(sent_at, $1),
		     status = CASE WHEN status IN ($2, $3) THEN $4 ELSE status END,
		     updated_at = $1
		 WHERE guest_id = $5 AND event_id = $6 AND type = $7`),
		now, string(InvitationPending), string(InvitationSent), string(InvitationOpened),
		guestID, eventID, string(typ),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation as opened: %w", err)
	}

	return db.GetInvitation(ctx, guestID, eventID, typ)
}
