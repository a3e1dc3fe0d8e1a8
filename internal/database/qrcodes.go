package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// TokenBytes is the entropy of a QR token. Codes are bearer tickets.
const TokenBytes = 24

const codeColumns = `id, code, type, guest_id, event_id, status, created_at, sent_at, used_at, expired_at`

func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func scanCode(row interface{ Scan(...any) error }) (*QRCode, error) {
	c := &QRCode{}
	err := row.Scan(&c.ID, &c.Code, &c.Type, &c.GuestID, &c.EventID, &c.Status,
		&c.CreatedAt, &c.SentAt, &c.UsedAt, &c.ExpiredAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) queryCodes(ctx context.Context, query string, args ...any) ([]*QRCode, error) {
	rows, err := db.QueryContext(ctx, db.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query codes: %w", err)
	}
	defer rows.Close()

	var codes []*QRCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query codes: %w", err)
	}
	return codes, nil
}

func (db *DB) queryCode(ctx context.Context, what, query string, args ...any) (*QRCode, error) {
	c, err := scanCode(db.QueryRowContext(ctx, db.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return c, nil
}

// InsertCode stores a freshly generated code in GENERATED state. It fails
// with ErrConflict when the guest already holds an active code of that type
// for the event, or when the token collides.
func (db *DB) InsertCode(ctx context.Context, guestID, eventID int64, typ CodeType, token string) (*QRCode, error) {
	var id int64
	err := db.QueryRowContext(ctx, db.q(
		`INSERT INTO qr_codes (code, type, guest_id, event_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`),
		token, string(typ), guestID, eventID, string(CodeGenerated), db.now(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to insert code: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert code: %w", err)
	}

	return db.GetCodeByID(ctx, id)
}

// GetCodeByID retrieves a QR code by ID
func (db *DB) GetCodeByID(ctx context.Context, id int64) (*QRCode, error) {
	return db.queryCode(ctx, "code",
		`SELECT `+codeColumns+` FROM qr_codes WHERE id = $1`, id)
}

// FindCode looks a token up within one event, whatever its status.
func (db *DB) FindCode(ctx context.Context, code string, eventID int64) (*QRCode, error) {
	return db.queryCode(ctx, "code",
		`SELECT `+codeColumns+` FROM qr_codes WHERE code = $1 AND event_id = $2`, code, eventID)
}

// FindActiveCode returns the GENERATED or SENT code of the given type.
func (db *DB) FindActiveCode(ctx context.Context, guestID, eventID int64, typ CodeType) (*QRCode, error) {
	return db.queryCode(ctx, "active code",
		`SELECT `+codeColumns+` FROM qr_codes
		 WHERE guest_id = $1 AND event_id = $2 AND type = $3 AND status IN ($4, $5)
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		guestID, eventID, string(typ), string(CodeGenerated), string(CodeSent))
}

// FindCurrentCode returns the most recent code of the given type that has not
// been expired, redeemed ones included.
func (db *DB) FindCurrentCode(ctx context.Context, guestID, eventID int64, typ CodeType) (*QRCode, error) {
	return db.queryCode(ctx, "current code",
		`SELECT `+codeColumns+` FROM qr_codes
		 WHERE guest_id = $1 AND event_id = $2 AND type = $3 AND status <> $4
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		guestID, eventID, string(typ), string(CodeExpired))
}

// ListCodes returns every code of a guest for an event, most recent first.
func (db *DB) ListCodes(ctx context.Context, guestID, eventID int64) ([]*QRCode, error) {
	return db.queryCodes(ctx,
		`SELECT `+codeColumns+` FROM qr_codes
		 WHERE guest_id = $1 AND event_id = $2
		 ORDER BY created_at DESC, id DESC`,
		guestID, eventID)
}

// MarkCodesSent moves the guest's GENERATED codes for the event to SENT.
func (db *DB) MarkCodesSent(ctx context.Context, guestID, eventID int64) (int64, error) {
	res, err := db.ExecContext(ctx, db.q(
		`UPDATE qr_codes SET status = $1, sent_at = $2
		 WHERE guest_id = $3 AND event_id = $4 AND status = $5`),
		string(CodeSent), db.now(), guestID, eventID, string(CodeGenerated),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark codes as sent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to mark codes as sent: %w", err)
	}
	return affected, nil
}

// RedeemCode consumes a code in a single conditional update: the row moves
// to USED only if it belongs to the event and is still active. Concurrent
// callers are serialized by the store, so exactly one of them gets the row;
// the rest get ErrNotFound. Once the update matched, the redemption is
// reported as successful even if reading the full row back fails.
func (db *DB) RedeemCode(ctx context.Context, code string, eventID int64) (*QRCode, error) {
	now := db.now()
	c := &QRCode{
		Code:    code,
		EventID: eventID,
		Status:  CodeUsed,
		UsedAt:  sql.NullTime{Time: now, Valid: true},
	}
	err := db.QueryRowContext(ctx, db.q(
		`UPDATE qr_codes SET status = $1, used_at = $2
		 WHERE code = $3 AND event_id = $4 AND status IN ($5, $6)
		 RETURNING id, type, guest_id`),
		string(CodeUsed), now, code, eventID, string(CodeGenerated), string(CodeSent),
	).Scan(&c.ID, &c.Type, &c.GuestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("redeemable code: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem code: %w", err)
	}

	// RETURNING drops column types on SQLite, so timestamps are read back
	// with a plain select.
	full, err := db.GetCodeByID(context.WithoutCancel(ctx), c.ID)
	if err != nil {
		return c, nil
	}
	return full, nil
}

// ExpireCodes moves the guest's active codes for the event to EXPIRED. A nil
// typ matches every type.
func (db *DB) ExpireCodes(ctx context.Context, guestID, eventID int64, typ *CodeType) (int64, error) {
	query := `UPDATE qr_codes SET status = $1, expired_at = $2
		 WHERE guest_id = $3 AND event_id = $4 AND status IN ($5, $6)`
	args := []any{string(CodeExpired), db.now(), guestID, eventID, string(CodeGenerated), string(CodeSent)}
	if typ != nil {
		query += ` AND type = $7`
		args = append(args, string(*typ))
	}

	res, err := db.ExecContext(ctx, db.q(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire codes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to expire codes: %w", err)
	}
	return affected, nil
}

// ExpireEventCodes expires every active code issued for the event.
func (db *DB) ExpireEventCodes(ctx context.Context, eventID int64) (int64, error) {
	res, err := db.ExecContext(ctx, db.q(
		`UPDATE qr_codes SET status = $1, expired_at = $2
		 WHERE event_id = $3 AND status IN ($4, $5)`),
		string(CodeExpired), db.now(), eventID, string(CodeGenerated), string(CodeSent),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire event codes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to expire event codes: %w", err)
	}
	return affected, nil
}
