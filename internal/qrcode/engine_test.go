package qrcode

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
)

type fixture struct {
	db     *database.DB
	engine *Engine
	guest  *database.Guest
	event  *database.Event
	seed   *databasetest.Seed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := databasetest.New(t)
	seed := databasetest.NewSeed(t, db)
	guest := seed.Guest("Ana", "Pop")
	event := seed.Event("Gala", time.Now().Add(48*time.Hour))
	seed.Member(event, guest)
	return &fixture{
		db:     db,
		engine: NewEngine(db, 5*time.Second, logging.Discard()),
		guest:  guest,
		event:  event,
		seed:   seed,
	}
}

func TestIssueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first.Status != database.CodeGenerated {
		t.Fatalf("expected GENERATED, got %s", first.Status)
	}

	second, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue again: %v", err)
	}
	if second.Code != first.Code {
		t.Fatalf("expected the same code, got %q and %q", first.Code, second.Code)
	}
}

func TestIssueRequiresMembership(t *testing.T) {
	f := newFixture(t)
	stranger := f.seed.Guest("Ion", "Rus")

	_, err := f.engine.Issue(context.Background(), stranger.ID, f.event.ID, database.CodeRegular)
	if !errs.Is(err, errs.KindNotAMember) {
		t.Fatalf("expected NOT_A_MEMBER, got %v", err)
	}
}

func TestIssueConcurrentKeepsOneActiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 20
	codes := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
			if err != nil {
				t.Errorf("issue: %v", err)
				return
			}
			codes[i] = code.Code
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if codes[i] != codes[0] {
			t.Fatalf("expected every caller to get the same code, got %q and %q", codes[0], codes[i])
		}
	}
	if n := databasetest.ActiveCodes(t, f.db, f.guest.ID, f.event.ID, database.CodeRegular); n != 1 {
		t.Fatalf("expected 1 active code, got %d", n)
	}
}

func TestIssueRetriesOnTokenCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.seed.Guest("Ion", "Rus")
	f.seed.Member(f.event, other)

	if _, err := f.db.InsertCode(ctx, other.ID, f.event.ID, database.CodeRegular, "taken"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tokens := []string{"taken", "fresh"}
	f.engine.newToken = func() (string, error) {
		token := tokens[0]
		tokens = tokens[1:]
		return token, nil
	}

	code, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code.Code != "fresh" {
		t.Fatalf("expected regenerated token, got %q", code.Code)
	}
}

func TestSequenceKeepsAtMostOneActiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []func() error{
		func() error { _, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular); return err },
		func() error { _, err := f.engine.Reissue(ctx, f.guest.ID, f.event.ID, database.CodeRegular); return err },
		func() error { _, err := f.engine.MarkDispatched(ctx, f.guest.ID, f.event.ID); return err },
		func() error { _, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular); return err },
		func() error { _, err := f.engine.Reissue(ctx, f.guest.ID, f.event.ID, database.CodeRegular); return err },
		func() error { _, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeVIP); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		for _, typ := range []database.CodeType{database.CodeRegular, database.CodeVIP} {
			if n := databasetest.ActiveCodes(t, f.db, f.guest.ID, f.event.ID, typ); n > 1 {
				t.Fatalf("step %d: %d active %s codes", i, n, typ)
			}
		}
	}

	history, err := f.engine.History(ctx, f.guest.ID, f.event.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 codes in history, got %d", len(history))
	}
	if history[0].Type != database.CodeVIP {
		t.Fatalf("expected most recent code first, got %s", history[0].Type)
	}
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if n, err := f.engine.MarkDispatched(ctx, f.guest.ID, f.event.ID); err != nil || n != 1 {
		t.Fatalf("mark dispatched: %d %v", n, err)
	}

	used, err := f.engine.Redeem(ctx, code.Code, f.event.ID)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if used.Status != database.CodeUsed || !used.UsedAt.Valid {
		t.Fatalf("expected USED with used_at, got %s", used.Status)
	}

	_, err = f.engine.Redeem(ctx, code.Code, f.event.ID)
	if !errs.Is(err, errs.KindAlreadyUsed) {
		t.Fatalf("expected ALREADY_USED, got %v", err)
	}
	usedAt, ok := errs.UsedAt(err)
	if !ok || !usedAt.Equal(used.UsedAt.Time.Truncate(time.Second)) {
		t.Fatalf("expected used_at %v in error, got %v", used.UsedAt.Time, usedAt)
	}
}

func TestRedeemConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for _, n := range []int{2, 10, 40} {
		t.Run("", func(t *testing.T) {
			if _, err := f.engine.Reissue(ctx, f.guest.ID, f.event.ID, database.CodeRegular); err != nil {
				t.Fatalf("reissue: %v", err)
			}
			fresh, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if fresh.Code == code.Code {
				t.Fatal("expected reissue to produce a new code")
			}

			results := make(chan error, n)
			start := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := f.engine.Redeem(ctx, fresh.Code, f.event.ID)
					results <- err
				}()
			}
			close(start)
			wg.Wait()
			close(results)

			var ok, used int
			for err := range results {
				switch {
				case err == nil:
					ok++
				case errs.Is(err, errs.KindAlreadyUsed):
					used++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
			if ok != 1 || used != n-1 {
				t.Fatalf("n=%d: expected 1 success and %d ALREADY_USED, got %d and %d", n, n-1, ok, used)
			}
		})
	}
}

func TestRedeemWrongEventIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.seed.Event("Brunch", time.Now().Add(72*time.Hour))

	code, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = f.engine.Redeem(ctx, code.Code, other.ID)
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	stored, err := f.db.GetCodeByID(ctx, code.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != database.CodeGenerated || stored.UsedAt.Valid {
		t.Fatalf("expected code untouched, got %s", stored.Status)
	}
}

func TestRedeemUnknownAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Redeem(ctx, "does-not-exist", f.event.ID); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown code, got %v", err)
	}
	if _, err := f.engine.Redeem(ctx, "", f.event.ID); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NOT_FOUND for empty code, got %v", err)
	}

	code, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.engine.Expire(ctx, f.guest.ID, f.event.ID, nil); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := f.engine.Redeem(ctx, code.Code, f.event.ID); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NOT_FOUND for expired code, got %v", err)
	}
}

func TestCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Current(ctx, f.guest.ID, f.event.ID, database.CodeRegular); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	code, err := f.engine.Issue(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	current, err := f.engine.Current(ctx, f.guest.ID, f.event.ID, database.CodeRegular)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.ID != code.ID {
		t.Fatalf("expected issued code, got %d", current.ID)
	}
}

type failingStore struct {
	Store
	err error
}

func (s failingStore) RedeemCode(ctx context.Context, code string, eventID int64) (*database.QRCode, error) {
	return nil, s.err
}

func TestRedeemStoreFailure(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(failingStore{Store: f.db, err: errors.New("connection reset")}, time.Second, logging.Discard())

	_, err := engine.Redeem(context.Background(), "abc", f.event.ID)
	if !errs.Is(err, errs.KindStoreError) {
		t.Fatalf("expected STORE_ERROR, got %v", err)
	}
}
