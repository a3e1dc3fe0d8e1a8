// Package qrcode issues, tracks and redeems the single-use entry codes bound
// to a guest and an event. It is the only writer of code lifecycle state.
package qrcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/errs"
)

// maxIssueAttempts bounds token regeneration after a token collision.
const maxIssueAttempts = 5

// Store is the persistence the engine needs. *database.DB implements it.
type Store interface {
	HasMembership(ctx context.Context, eventID, guestID int64) (bool, error)
	InsertCode(ctx context.Context, guestID, eventID int64, typ database.CodeType, token string) (*database.QRCode, error)
	FindCode(ctx context.Context, code string, eventID int64) (*database.QRCode, error)
	FindActiveCode(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error)
	FindCurrentCode(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error)
	ListCodes(ctx context.Context, guestID, eventID int64) ([]*database.QRCode, error)
	MarkCodesSent(ctx context.Context, guestID, eventID int64) (int64, error)
	RedeemCode(ctx context.Context, code string, eventID int64) (*database.QRCode, error)
	ExpireCodes(ctx context.Context, guestID, eventID int64, typ *database.CodeType) (int64, error)
	ExpireEventCodes(ctx context.Context, eventID int64) (int64, error)
}

type Engine struct {
	store    Store
	timeout  time.Duration
	log      logrus.FieldLogger
	newToken func() (string, error)
}

func NewEngine(store Store, timeout time.Duration, log logrus.FieldLogger) *Engine {
	return &Engine{
		store:    store,
		timeout:  timeout,
		log:      log.WithField("component", "qrcode"),
		newToken: database.GenerateToken,
	}
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

func storeError(op string, err error) error {
	return errs.Wrap(errs.KindStoreError, op, err)
}

// Issue returns the guest's active code of the given type for the event,
// creating one when none exists. Calling it repeatedly returns the same code.
func (e *Engine) Issue(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	member, err := e.store.HasMembership(ctx, eventID, guestID)
	if err != nil {
		return nil, storeError("check membership", err)
	}
	if !member {
		return nil, errs.New(errs.KindNotAMember, "guest is not invited to this event")
	}

	return e.issue(ctx, guestID, eventID, typ)
}

func (e *Engine) issue(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		active, err := e.store.FindActiveCode(ctx, guestID, eventID, typ)
		if err == nil {
			return active, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, storeError("find active code", err)
		}

		token, err := e.newToken()
		if err != nil {
			return nil, storeError("generate token", err)
		}

		code, err := e.store.InsertCode(ctx, guestID, eventID, typ, token)
		if err == nil {
			e.log.WithFields(logrus.Fields{
				"guest_id": guestID,
				"event_id": eventID,
				"type":     typ,
				"code_id":  code.ID,
			}).Info("issued QR code")
			return code, nil
		}
		if !errors.Is(err, database.ErrConflict) {
			return nil, storeError("insert code", err)
		}
		// Either a concurrent issue won the active slot (the next lookup
		// finds it) or the token collided (the next attempt draws a new one).
		e.log.WithFields(logrus.Fields{
			"guest_id": guestID,
			"event_id": eventID,
			"attempt":  attempt + 1,
		}).Debug("code insert conflicted, retrying lookup")
	}

	return nil, storeError("issue code", fmt.Errorf("no active code after %d attempts", maxIssueAttempts))
}

// Reissue expires the guest's active code of the type and issues a new one.
func (e *Engine) Reissue(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error) {
	if _, err := e.Expire(ctx, guestID, eventID, &typ); err != nil {
		return nil, err
	}
	return e.Issue(ctx, guestID, eventID, typ)
}

// MarkDispatched records that the guest's generated codes for the event left
// the system. It is a no-op when nothing is in GENERATED state.
func (e *Engine) MarkDispatched(ctx context.Context, guestID, eventID int64) (int64, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.store.MarkCodesSent(ctx, guestID, eventID)
	if err != nil {
		return 0, storeError("mark codes sent", err)
	}
	return n, nil
}

// Redeem consumes a code presented at an event. The status check and the
// transition to USED happen in one conditional write; when that write
// matches nothing, a read-only lookup tells an already used code apart from
// an unknown one. Codes of other events are reported as not found.
func (e *Engine) Redeem(ctx context.Context, code string, eventID int64) (*database.QRCode, error) {
	if code == "" {
		return nil, errs.New(errs.KindNotFound, "code not found")
	}

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	redeemed, err := e.store.RedeemCode(ctx, code, eventID)
	if err == nil {
		e.log.WithFields(logrus.Fields{
			"guest_id": redeemed.GuestID,
			"event_id": eventID,
			"code_id":  redeemed.ID,
		}).Info("redeemed QR code")
		return redeemed, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, storeError("redeem code", err)
	}

	existing, err := e.store.FindCode(ctx, code, eventID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "code not found")
	}
	if err != nil {
		return nil, storeError("find code", err)
	}
	if existing.Status == database.CodeUsed && existing.UsedAt.Valid {
		return nil, errs.AlreadyUsed(existing.UsedAt.Time)
	}
	return nil, errs.New(errs.KindNotFound, "code not found")
}

// Expire moves the guest's active codes for the event to EXPIRED. A nil typ
// matches every type.
func (e *Engine) Expire(ctx context.Context, guestID, eventID int64, typ *database.CodeType) (int64, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.store.ExpireCodes(ctx, guestID, eventID, typ)
	if err != nil {
		return 0, storeError("expire codes", err)
	}
	if n > 0 {
		e.log.WithFields(logrus.Fields{
			"guest_id": guestID,
			"event_id": eventID,
			"count":    n,
		}).Info("expired QR codes")
	}
	return n, nil
}

// ExpireEvent expires every active code of an event.
func (e *Engine) ExpireEvent(ctx context.Context, eventID int64) (int64, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.store.ExpireEventCodes(ctx, eventID)
	if err != nil {
		return 0, storeError("expire event codes", err)
	}
	return n, nil
}

// Current returns the most recent code of the type that has not expired,
// which may already be USED.
func (e *Engine) Current(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	code, err := e.store.FindCurrentCode(ctx, guestID, eventID, typ)
	if errors.Is(err, database.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "no current code")
	}
	if err != nil {
		return nil, storeError("find current code", err)
	}
	return code, nil
}

// History lists every code of the guest for the event, most recent first.
func (e *Engine) History(ctx context.Context, guestID, eventID int64) ([]*database.QRCode, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	codes, err := e.store.ListCodes(ctx, guestID, eventID)
	if err != nil {
		return nil, storeError("list codes", err)
	}
	return codes, nil
}
