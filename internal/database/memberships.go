package database

import (
	"context"
	"fmt"
)

// AddMembership puts a guest on an event's invite list. Adding an existing
// member is a no-op; the returned flag reports whether a row was created.
func (db *DB) AddMembership(ctx context.Context, eventID, guestID int64) (bool, error) {
	res, err := db.ExecContext(ctx, db.q(
		`INSERT INTO event_memberships (event_id, guest_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id, guest_id) DO NOTHING`),
		eventID, guestID, db.now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to add membership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add membership: %w", err)
	}
	return affected > 0, nil
}

// HasMembership reports whether the guest is invited to the event
func (db *DB) HasMembership(ctx context.Context, eventID, guestID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, db.q(
		`SELECT EXISTS(SELECT 1 FROM event_memberships WHERE event_id = $1 AND guest_id = $2)`),
		eventID, guestID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// ListRecipients returns every member of the event together with the
// response on their INVITATION-type invitation (null when unanswered or when
// no invitation exists), ordered by guest id.
func (db *DB) ListRecipients(ctx context.Context, eventID int64) ([]*Recipient, error) {
	rows, err := db.QueryContext(ctx, db.q(
		`SELECT g.id, g.email, g.first_name, g.last_name, g.company, g.position, g.phone,
		        g.is_vip, g.is_companion, g.companion_of, g.created_at, i.response
		 FROM event_memberships m
		 JOIN guests g ON g.id = m.guest_id
		 LEFT JOIN invitations i ON i.guest_id = m.guest_id AND i.event_id = m.event_id AND i.type = $1
		 WHERE m.event_id = $2
		 ORDER BY g.id ASC`),
		string(InvitationInvite), eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*Recipient
	for rows.Next() {
		g := &Guest{}
		r := &Recipient{Guest: g}
		err := rows.Scan(&g.ID, &g.Email, &g.FirstName, &g.LastName, &g.Company, &g.Position,
			&g.Phone, &g.IsVIP, &g.IsCompanion, &g.CompanionOf, &g.CreatedAt, &r.Response)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	return recipients, nil
}
