package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"finstats/internal/core"
)

func TestStatusErrorUnwrap(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrServer},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadGateway, ErrServer},
	}
	for _, tc := range cases {
		err := fmt.Errorf("read pie: %w", &StatusError{Status: tc.status, Body: "x"})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d should unwrap to %v, got %v", tc.status, tc.want, err)
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Status != tc.status {
			t.Fatalf("expected StatusError in chain for %d", tc.status)
		}
	}
}

func TestNetworkAndMalformedErrors(t *testing.T) {
	err := NetworkError("GET /api/session-check", context.DeadlineExceeded)
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("network error should wrap both causes: %v", err)
	}
	if err := MalformedError("pie", errors.New("bad json")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed: %v", err)
	}
}

func TestQueryMatch(t *testing.T) {
	now := time.Date(2026, time.May, 20, 10, 0, 0, 0, time.UTC)
	records := []core.TransactionRecord{
		{Direction: core.Debit, OccurredAt: time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)},
		{Direction: core.Credit, OccurredAt: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{Direction: core.Debit, OccurredAt: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)},
	}
	month := Select(records, CategoricalQuery{Window: core.WindowMonth, Now: now}.Match)
	if len(month) != 1 {
		t.Fatalf("month window: got %d records", len(month))
	}
	debits := Select(records, SeriesQuery{Direction: core.Debit, Year: 2026}.Match)
	if len(debits) != 1 {
		t.Fatalf("series query: got %d records", len(debits))
	}
	year := Select(records, VarianceQuery{Year: 2026}.Match)
	if len(year) != 2 {
		t.Fatalf("variance query: got %d records", len(year))
	}
}
