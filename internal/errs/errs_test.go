package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain error", err: errors.New("boom"), want: KindUnknown},
		{name: "direct", err: New(KindNotFound, "code not found"), want: KindNotFound},
		{name: "wrapped by fmt", err: fmt.Errorf("redeem: %w", New(KindAlreadyUsed, "used")), want: KindAlreadyUsed},
		{name: "wrap with cause", err: Wrap(KindStoreError, "insert code", errors.New("conn reset")), want: KindStoreError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(KindStoreError, "query", errors.New("timeout")))
	if !errors.Is(err, New(KindStoreError, "")) {
		t.Fatal("expected errors.Is to match on kind")
	}
	if errors.Is(err, New(KindNotFound, "")) {
		t.Fatal("expected errors.Is to reject a different kind")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(KindStoreError, "insert code", errors.New("conn reset"))
	if err.Error() != "insert code: conn reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, err.Cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
}

func TestAlreadyUsedCarriesTimestamp(t *testing.T) {
	at := time.Date(2026, 4, 19, 14, 3, 0, 0, time.UTC)
	err := fmt.Errorf("checkin: %w", AlreadyUsed(at))

	got, ok := UsedAt(err)
	if !ok {
		t.Fatal("expected used_at metadata")
	}
	if !got.Equal(at) {
		t.Fatalf("UsedAt() = %v, want %v", got, at)
	}

	if _, ok := UsedAt(New(KindNotFound, "missing")); ok {
		t.Fatal("expected no used_at on NOT_FOUND")
	}
}
