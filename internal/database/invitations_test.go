package database_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/database/databasetest"
)

func TestRecordResponseUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	seed := databasetest.NewSeed(t, db)
	guest := seed.Guest("Ana", "Pop")
	event := seed.Event("Gala", time.Now().Add(48*time.Hour))
	seed.Member(event, guest)

	first, err := db.RecordResponse(ctx, guest.ID, event.ID, database.ResponseComingWithCompanion, true, "Mihai")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Status != database.InvitationResponded || !first.RespondedAt.Valid {
		t.Fatalf("expected RESPONDED with responded_at, got %s", first.Status)
	}
	if !first.HasCompanion || first.CompanionName.String != "Mihai" {
		t.Fatalf("expected companion metadata, got %+v", first)
	}

	second, err := db.RecordResponse(ctx, guest.ID, event.ID, database.ResponseNotComing, false, "")
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same row to be updated, got ids %d and %d", first.ID, second.ID)
	}
	if second.Response.String != string(database.ResponseNotComing) || second.HasCompanion || second.CompanionName.Valid {
		t.Fatalf("expected response overwritten, got %+v", second)
	}

	if n := databasetest.Invitations(t, db, guest.ID, event.ID); n != 1 {
		t.Fatalf("expected 1 invitation row, got %d", n)
	}
}

func TestRecordResponseConcurrentSubmitsKeepOneRow(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	seed := databasetest.NewSeed(t, db)
	guest := seed.Guest("Ana", "Pop")
	event := seed.Event("Gala", time.Now().Add(48*time.Hour))
	seed.Member(event, guest)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.RecordResponse(ctx, guest.ID, event.ID, database.ResponseComing, false, ""); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := databasetest.Invitations(t, db, guest.ID, event.ID); n != 1 {
		t.Fatalf("expected 1 invitation row, got %d", n)
	}
}

func TestEnsureInvitation(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	seed := databasetest.NewSeed(t, db)
	guest := seed.Guest("Mihai", "Pop")
	event := seed.Event("Gala", time.Now().Add(48*time.Hour))
	seed.Member(event, guest)

	inv, created, err := db.EnsureInvitation(ctx, guest.ID, event.ID, database.InvitationInvite, database.InvitationSent, database.ResponseComing)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatal("expected the invitation to be created")
	}
	if inv.Status != database.InvitationSent || !inv.SentAt.Valid {
		t.Fatalf("expected SENT with sent_at, got %s", inv.Status)
	}

	again, created, err := db.EnsureInvitation(ctx, guest.ID, event.ID, database.InvitationInvite, database.InvitationSent, database.ResponseComing)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if created || again.ID != inv.ID {
		t.Fatalf("expected existing invitation to be returned, created=%v id=%d", created, again.ID)
	}
}

func TestMarkInvitationOpened(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	seed := databasetest.NewSeed(t, db)
	guest := seed.Guest("Ana", "Pop")
	event := seed.Event("Gala", time.Now().Add(48*time.Hour))
	seed.Member(event, guest)

	if _, _, err := db.EnsureInvitation(ctx, guest.ID, event.ID, database.InvitationInvite, database.InvitationPending, ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := db.MarkInvitationSent(ctx, guest.ID, event.ID, database.InvitationInvite); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	opened, err := db.MarkInvitationOpened(ctx, guest.ID, event.ID, database.InvitationInvite)
	if err != nil {
		t.Fatalf("mark opened: %v", err)
	}
	if opened.Status != database.InvitationOpened || !opened.OpenedAt.Valid || !opened.SentAt.Valid {
		t.Fatalf("expected OPENED with timestamps, got %+v", opened)
	}

	if _, err := db.RecordResponse(ctx, guest.ID, event.ID, database.ResponseComing, false, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	reopened, err := db.MarkInvitationOpened(ctx, guest.ID, event.ID, database.InvitationInvite)
	if err != nil {
		t.Fatalf("mark opened again: %v", err)
	}
	if reopened.Status != database.InvitationResponded {
		t.Fatalf("expected RESPONDED to be kept, got %s", reopened.Status)
	}
	if !reopened.OpenedAt.Time.Equal(opened.OpenedAt.Time) {
		t.Fatalf("expected opened_at to be set once")
	}
}

func TestMarkInvitationOpenedUnknown(t *testing.T) {
	db := databasetest.New(t)
	_, err := db.MarkInvitationOpened(context.Background(), 1, 1, database.InvitationInvite)
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
