package redemption

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/database/databasetest"
	"github.com/AlexTLDR/evite-checkin/internal/errs"
	"github.com/AlexTLDR/evite-checkin/internal/logging"
	"github.com/AlexTLDR/evite-checkin/internal/qrcode"
)

func setup(t *testing.T) (*database.DB, *qrcode.Engine, *databasetest.Seed, *database.Event) {
	t.Helper()
	db := databasetest.New(t)
	seed := databasetest.NewSeed(t, db)
	event := seed.Event("Gala", time.Now().Add(time.Hour))
	return db, qrcode.NewEngine(db, 5*time.Second, logging.Discard()), seed, event
}

func TestRedeemAdmitsVIP(t *testing.T) {
	db, engine, seed, event := setup(t)
	ctx := context.Background()
	guest := seed.VIP("Dan", "Radu", "Acme")
	seed.Member(event, guest)

	code, err := engine.Issue(ctx, guest.ID, event.ID, guest.CodeType())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	gw := NewGateway(engine, db, time.Second, logging.Discard())
	admission, err := gw.Redeem(ctx, code.Code, event.ID)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if admission.GuestID != guest.ID || admission.FirstName != "Dan" || admission.Company != "Acme" {
		t.Fatalf("unexpected admission %+v", admission)
	}
	if !admission.VIP || admission.CodeType != database.CodeVIP || admission.UsedAt.IsZero() {
		t.Fatalf("expected a VIP admission with used_at, got %+v", admission)
	}

	_, err = gw.Redeem(ctx, code.Code, event.ID)
	if !errs.Is(err, errs.KindAlreadyUsed) {
		t.Fatalf("expected ALREADY_USED, got %v", err)
	}
	if _, ok := errs.UsedAt(err); !ok {
		t.Fatal("expected used_at on ALREADY_USED")
	}
}

func TestRedeemConcurrentScanners(t *testing.T) {
	db, engine, seed, event := setup(t)
	ctx := context.Background()
	guest := seed.Guest("Ana", "Pop")
	seed.Member(event, guest)
	code, err := engine.Issue(ctx, guest.ID, event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	gw := NewGateway(engine, db, time.Second, logging.Discard())

	const scanners = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		admissions int
		rejected   int
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.Redeem(ctx, code.Code, event.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admissions++
			} else if errs.Is(err, errs.KindAlreadyUsed) {
				rejected++
			}
		}()
	}
	wg.Wait()

	if admissions != 1 || rejected != scanners-1 {
		t.Fatalf("expected 1 admission and %d rejections, got %d and %d", scanners-1, admissions, rejected)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	db, engine, _, event := setup(t)
	gw := NewGateway(engine, db, time.Second, logging.Discard())

	_, err := gw.Redeem(context.Background(), "nope", event.ID)
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

type brokenGuests struct{}

func (brokenGuests) GetGuestByID(ctx context.Context, id int64) (*database.Guest, error) {
	return nil, errors.New("connection reset")
}

func TestRedeemGuestLookupFailureStillAdmits(t *testing.T) {
	db, engine, seed, event := setup(t)
	ctx := context.Background()
	guest := seed.Guest("Ana", "Pop")
	seed.Member(event, guest)
	code, err := engine.Issue(ctx, guest.ID, event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	gw := NewGateway(engine, brokenGuests{}, time.Second, logging.Discard())
	admission, err := gw.Redeem(ctx, code.Code, event.ID)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if admission.GuestID != guest.ID || admission.FirstName != "" {
		t.Fatalf("expected an id-only admission, got %+v", admission)
	}

	stored, err := db.GetCodeByID(ctx, code.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != database.CodeUsed {
		t.Fatalf("expected the code consumed, got %s", stored.Status)
	}
}
