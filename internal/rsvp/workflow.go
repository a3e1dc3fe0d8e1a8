// Package rsvp records guest responses and materializes companions, and
// dispatches entry codes to confirmed guests.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/errs"
	"github.com/AlexTLDR/evite-checkin/internal/notify"
)

// Store is the directory and invitation persistence the workflow needs.
type Store interface {
	HasMembership(ctx context.Context, eventID, guestID int64) (bool, error)
	AddMembership(ctx context.Context, eventID, guestID int64) (bool, error)
	UpsertGuestByEmail(ctx context.Context, g *database.Guest) (*database.Guest, bool, error)
	GetGuestByID(ctx context.Context, id int64) (*database.Guest, error)
	ListCompanions(ctx context.Context, guestID, eventID int64) ([]*database.Guest, error)
	GetEventByID(ctx context.Context, id int64) (*database.Event, error)
	ListRecipients(ctx context.Context, eventID int64) ([]*database.Recipient, error)
	RecordResponse(ctx context.Context, guestID, eventID int64, response database.Response, hasCompanion bool, companionName string) (*database.Invitation, error)
	EnsureInvitation(ctx context.Context, guestID, eventID int64, typ database.InvitationType, status database.InvitationStatus, response database.Response) (*database.Invitation, bool, error)
	MarkInvitationSent(ctx context.Context, guestID, eventID int64, typ database.InvitationType) error
	MarkInvitationOpened(ctx context.Context, guestID, eventID int64, typ database.InvitationType) (*database.Invitation, error)
}

// Codes is the subset of the QR code engine the workflow drives.
type Codes interface {
	Issue(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error)
	Current(ctx context.Context, guestID, eventID int64, typ database.CodeType) (*database.QRCode, error)
	MarkDispatched(ctx context.Context, guestID, eventID int64) (int64, error)
	Expire(ctx context.Context, guestID, eventID int64, typ *database.CodeType) (int64, error)
}

type Options struct {
	StoreTimeout time.Duration
	// Concurrency bounds the number of guests dispatched in parallel.
	Concurrency int
	// Rate is the number of deliveries per second; Burst the bucket size.
	Rate  float64
	Burst int
	// Location formats event dates in outgoing messages.
	Location *time.Location
}

type Workflow struct {
	store    Store
	codes    Codes
	notifier notify.Dispatcher
	opts     Options
	limiter  *rate.Limiter
	log      logrus.FieldLogger
}

func NewWorkflow(store Store, codes Codes, notifier notify.Dispatcher, opts Options, log logrus.FieldLogger) *Workflow {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Rate <= 0 {
		opts.Rate = 1
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Workflow{
		store:    store,
		codes:    codes,
		notifier: notifier,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		log:      log.WithField("component", "rsvp"),
	}
}

type Submission struct {
	GuestID        int64
	EventID        int64
	Response       database.Response
	CompanionEmail string
}

// Warning is a failed best-effort step of a submission. The response itself
// was recorded.
type Warning struct {
	Step string
	Kind errs.Kind
	Err  error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Step, w.Err)
}

type Result struct {
	Invitation *database.Invitation
	Companion  *database.Guest
	// Codes holds the codes issued during the submission, primary first.
	Codes    []*database.QRCode
	Warnings []Warning
}

func (r *Result) warn(step string, err error) {
	r.Warnings = append(r.Warnings, Warning{Step: step, Kind: errs.KindOf(err), Err: err})
}

func (w *Workflow) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.opts.StoreTimeout)
}

func storeError(op string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return errs.Wrap(errs.KindNotFound, op, err)
	}
	return errs.Wrap(errs.KindStoreError, op, err)
}

func normalize(s *Submission) error {
	if s.GuestID <= 0 || s.EventID <= 0 {
		return errs.New(errs.KindInvalidArgument, "guest and event are required")
	}
	if !s.Response.Valid() {
		return errs.New(errs.KindInvalidArgument, fmt.Sprintf("unknown response %q", s.Response))
	}
	s.CompanionEmail = strings.TrimSpace(s.CompanionEmail)
	if s.CompanionEmail != "" {
		addr, err := mail.ParseAddress(s.CompanionEmail)
		if err != nil {
			return errs.Wrap(errs.KindInvalidArgument, "invalid companion email", err)
		}
		s.CompanionEmail = addr.Address
	}
	return nil
}

// SubmitResponse records a guest's response to the event invitation. When the
// guest brings a companion, the companion is added to the guest list, invited
// and issued a code. A companion the guest no longer brings is marked as not
// coming and their codes are expired. Companion steps are best effort: their
// failures are returned as warnings and never undo the recorded response.
func (w *Workflow) SubmitResponse(ctx context.Context, s Submission) (*Result, error) {
	if err := normalize(&s); err != nil {
		return nil, err
	}

	if err := w.checkMembership(ctx, s.EventID, s.GuestID); err != nil {
		return nil, err
	}

	withCompanion := s.Response == database.ResponseComingWithCompanion && s.CompanionEmail != ""
	companionName := ""
	if withCompanion {
		companionName = CompanionName(s.CompanionEmail)
	}

	sctx, cancel := w.storeCtx(ctx)
	inv, err := w.store.RecordResponse(sctx, s.GuestID, s.EventID, s.Response,
		s.Response == database.ResponseComingWithCompanion, companionName)
	cancel()
	if err != nil {
		return nil, storeError("record response", err)
	}

	log := w.log.WithFields(logrus.Fields{
		"guest_id": s.GuestID,
		"event_id": s.EventID,
		"response": s.Response,
	})
	log.Info("response recorded")

	result := &Result{Invitation: inv}

	switch {
	case withCompanion:
		w.materializeCompanion(ctx, s, companionName, result)
	case s.Response == database.ResponseNotComing:
		if _, err := w.codes.Expire(ctx, s.GuestID, s.EventID, nil); err != nil {
			result.warn("expire codes", err)
		}
	}

	switch {
	case s.Response != database.ResponseComingWithCompanion:
		w.releaseCompanions(ctx, s, 0, result)
	case result.Companion != nil:
		w.releaseCompanions(ctx, s, result.Companion.ID, result)
	}

	if len(result.Warnings) > 0 {
		var combined error
		for _, warning := range result.Warnings {
			combined = multierr.Append(combined, warning)
		}
		log.WithError(combined).Warn("response recorded with warnings")
	}

	return result, nil
}

func (w *Workflow) checkMembership(ctx context.Context, eventID, guestID int64) error {
	ctx, cancel := w.storeCtx(ctx)
	defer cancel()

	member, err := w.store.HasMembership(ctx, eventID, guestID)
	if err != nil {
		return storeError("check membership", err)
	}
	if !member {
		return errs.New(errs.KindNotAMember, "guest is not invited to this event")
	}
	return nil
}

func (w *Workflow) materializeCompanion(ctx context.Context, s Submission, name string, result *Result) {
	sctx, cancel := w.storeCtx(ctx)
	defer cancel()

	primary, err := w.store.GetGuestByID(sctx, s.GuestID)
	if err != nil {
		result.warn("load guest", storeError("load guest", err))
		return
	}

	first, last := splitName(name)
	companion, _, err := w.store.UpsertGuestByEmail(sctx, &database.Guest{
		Email:       s.CompanionEmail,
		FirstName:   first,
		LastName:    last,
		IsCompanion: true,
		CompanionOf: nullInt64(primary.ID),
	})
	if err != nil {
		result.warn("create companion", storeError("create companion", err))
		return
	}
	if companion.ID == primary.ID {
		result.warn("create companion", errs.New(errs.KindInvalidArgument, "companion email belongs to the guest"))
		return
	}
	result.Companion = companion

	if _, err := w.store.AddMembership(sctx, s.EventID, companion.ID); err != nil {
		result.warn("add companion membership", storeError("add companion membership", err))
		return
	}

	inv, created, err := w.store.EnsureInvitation(sctx, companion.ID, s.EventID,
		database.InvitationInvite, database.InvitationPending, database.ResponseComing)
	if err != nil {
		result.warn("invite companion", storeError("invite companion", err))
		return
	}
	// A companion released by an earlier answer is brought back.
	if !created && companion.CompanionOf.Int64 == primary.ID && inv.Response.String != string(database.ResponseComing) {
		inv, err = w.store.RecordResponse(sctx, companion.ID, s.EventID, database.ResponseComing, false, "")
		if err != nil {
			result.warn("invite companion", storeError("invite companion", err))
			return
		}
	}

	for _, g := range []*database.Guest{primary, companion} {
		code, err := w.codes.Issue(ctx, g.ID, s.EventID, g.CodeType())
		if err != nil {
			result.warn("issue code", err)
			continue
		}
		result.Codes = append(result.Codes, code)
	}

	if inv.Status != database.InvitationPending {
		return
	}

	event, err := w.store.GetEventByID(sctx, s.EventID)
	if err != nil {
		result.warn("notify companion", storeError("load event", err))
		return
	}
	msg := notify.Message{
		GuestID: companion.ID,
		EventID: event.ID,
		Type:    notify.MessageInvitation,
		Payload: w.payload(companion, event, ""),
	}
	if err := w.notifier.Deliver(ctx, msg); err != nil {
		result.warn("notify companion", errs.Wrap(errs.KindDispatchFailed, "deliver invitation", err))
		return
	}
	if err := w.store.MarkInvitationSent(sctx, companion.ID, s.EventID, database.InvitationInvite); err != nil {
		result.warn("notify companion", storeError("mark invitation sent", err))
	}
}

// releaseCompanions withdraws the guest's companions for the event, except
// keep: their answer becomes NOT_COMING and their active codes expire.
func (w *Workflow) releaseCompanions(ctx context.Context, s Submission, keep int64, result *Result) {
	sctx, cancel := w.storeCtx(ctx)
	companions, err := w.store.ListCompanions(sctx, s.GuestID, s.EventID)
	cancel()
	if err != nil {
		result.warn("release companion", storeError("list companions", err))
		return
	}

	for _, c := range companions {
		if c.ID == keep {
			continue
		}

		sctx, cancel := w.storeCtx(ctx)
		_, err := w.store.RecordResponse(sctx, c.ID, s.EventID, database.ResponseNotComing, false, "")
		cancel()
		if err != nil {
			result.warn("release companion", storeError("release companion", err))
			continue
		}
		if _, err := w.codes.Expire(ctx, c.ID, s.EventID, nil); err != nil {
			result.warn("release companion", err)
			continue
		}

		w.log.WithFields(logrus.Fields{
			"guest_id":     s.GuestID,
			"event_id":     s.EventID,
			"companion_id": c.ID,
		}).Info("companion released")
	}
}

// MarkOpened records that the guest opened the event invitation.
func (w *Workflow) MarkOpened(ctx context.Context, guestID, eventID int64) (*database.Invitation, error) {
	ctx, cancel := w.storeCtx(ctx)
	defer cancel()

	inv, err := w.store.MarkInvitationOpened(ctx, guestID, eventID, database.InvitationInvite)
	if err != nil {
		return nil, storeError("mark opened", err)
	}
	return inv, nil
}

func (w *Workflow) payload(g *database.Guest, e *database.Event, token string) notify.Payload {
	return notify.Payload{
		GuestName:     g.FullName(),
		Email:         g.Email,
		Phone:         g.Phone.String,
		EventName:     e.Name,
		EventDate:     e.StartsAt.In(w.opts.Location).Format("2006-01-02 15:04"),
		EventLocation: e.Location.String,
		QRToken:       token,
	}
}
