package rsvp

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/errs"
	"github.com/AlexTLDR/evite-checkin/internal/notify"
)

type DispatchStatus string

const (
	DispatchSent    DispatchStatus = "sent"
	DispatchSkipped DispatchStatus = "skipped"
	DispatchFailed  DispatchStatus = "failed"
)

const (
	reasonNotAttending = "no confirmed attendance"
	reasonCheckedIn    = "already checked in"
	reasonAlreadySent  = "already sent"
)

// DispatchResult is the outcome of sending a code to one guest.
type DispatchResult struct {
	GuestID int64          `json:"guest_id"`
	Status  DispatchStatus `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Kind    errs.Kind      `json:"kind,omitempty"`
	CodeID  int64          `json:"code_id,omitempty"`
}

func failed(guestID int64, err error) DispatchResult {
	return DispatchResult{GuestID: guestID, Status: DispatchFailed, Kind: errs.KindOf(err), Reason: err.Error()}
}

// RequestQRDispatch sends every confirmed guest of the event their entry
// code, issuing one when needed. A code that was already sent is sent again.
// guestIDs restricts the batch; when empty all members are considered. A
// failure for one guest never blocks the others.
func (w *Workflow) RequestQRDispatch(ctx context.Context, eventID int64, guestIDs ...int64) ([]DispatchResult, error) {
	return w.dispatch(ctx, eventID, true, guestIDs)
}

// DispatchPending sends codes only to the confirmed guests of the event whose
// code has not been delivered yet. Running it again sends nothing new.
func (w *Workflow) DispatchPending(ctx context.Context, eventID int64) ([]DispatchResult, error) {
	return w.dispatch(ctx, eventID, false, nil)
}

func (w *Workflow) dispatch(ctx context.Context, eventID int64, resend bool, guestIDs []int64) ([]DispatchResult, error) {
	sctx, cancel := w.storeCtx(ctx)
	event, err := w.store.GetEventByID(sctx, eventID)
	if err != nil {
		cancel()
		return nil, storeError("load event", err)
	}
	recipients, err := w.store.ListRecipients(sctx, eventID)
	cancel()
	if err != nil {
		return nil, storeError("list recipients", err)
	}

	recipients, missing := filterRecipients(recipients, guestIDs)

	results := make([]DispatchResult, len(recipients), len(recipients)+len(missing))
	g := new(errgroup.Group)
	g.SetLimit(w.opts.Concurrency)
	for i, r := range recipients {
		g.Go(func() error {
			results[i] = w.dispatchOne(ctx, event, r, resend)
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range missing {
		results = append(results, failed(id, errs.New(errs.KindNotAMember, "guest is not invited to this event")))
	}

	counts := map[DispatchStatus]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	w.log.WithFields(logrus.Fields{
		"event_id": eventID,
		"resend":   resend,
		"sent":     counts[DispatchSent],
		"skipped":  counts[DispatchSkipped],
		"failed":   counts[DispatchFailed],
	}).Info("QR dispatch finished")

	return results, nil
}

func filterRecipients(all []*database.Recipient, guestIDs []int64) ([]*database.Recipient, []int64) {
	if len(guestIDs) == 0 {
		return all, nil
	}

	byID := make(map[int64]*database.Recipient, len(all))
	for _, r := range all {
		byID[r.Guest.ID] = r
	}

	var (
		picked  []*database.Recipient
		missing []int64
		seen    = make(map[int64]bool, len(guestIDs))
	)
	for _, id := range guestIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := byID[id]; ok {
			picked = append(picked, r)
		} else {
			missing = append(missing, id)
		}
	}
	return picked, missing
}

func (w *Workflow) dispatchOne(ctx context.Context, event *database.Event, r *database.Recipient, resend bool) DispatchResult {
	guest := r.Guest
	if !r.Response.Valid || !database.Response(r.Response.String).Attending() {
		return DispatchResult{GuestID: guest.ID, Status: DispatchSkipped, Reason: reasonNotAttending}
	}

	code, err := w.codes.Current(ctx, guest.ID, event.ID, guest.CodeType())
	switch {
	case err == nil && code.Status == database.CodeUsed:
		return DispatchResult{GuestID: guest.ID, Status: DispatchSkipped, Reason: reasonCheckedIn, CodeID: code.ID}
	case errs.Is(err, errs.KindNotFound):
		code, err = w.codes.Issue(ctx, guest.ID, event.ID, guest.CodeType())
		if err != nil {
			return failed(guest.ID, err)
		}
	case err != nil:
		return failed(guest.ID, err)
	}

	if !resend && code.Status == database.CodeSent {
		return DispatchResult{GuestID: guest.ID, Status: DispatchSkipped, Reason: reasonAlreadySent, CodeID: code.ID}
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return failed(guest.ID, errs.Wrap(errs.KindDispatchFailed, "rate limit", err))
	}

	msg := notify.Message{
		GuestID: guest.ID,
		EventID: event.ID,
		Type:    notify.MessageQRCode,
		Payload: w.payload(guest, event, code.Code),
	}
	if err := w.notifier.Deliver(ctx, msg); err != nil {
		w.log.WithFields(logrus.Fields{
			"guest_id": guest.ID,
			"event_id": event.ID,
		}).WithError(err).Error("QR code delivery failed")
		return failed(guest.ID, errs.Wrap(errs.KindDispatchFailed, "deliver code", err))
	}

	// A code whose delivery failed stays GENERATED.
	if _, err := w.codes.MarkDispatched(ctx, guest.ID, event.ID); err != nil {
		w.log.WithFields(logrus.Fields{
			"guest_id": guest.ID,
			"event_id": event.ID,
		}).WithError(err).Error("failed to mark code as sent")
	}

	return DispatchResult{GuestID: guest.ID, Status: DispatchSent, CodeID: code.ID}
}
