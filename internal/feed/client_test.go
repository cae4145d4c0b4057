package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ksred/sdrflow/internal/types"
)

const samplePayload = `{
	"tradeList": [
		{
			"disseminationIdentifier": "1001",
			"actionType": "NEW",
			"eventTimestamp": "2026-08-31T14:30:00Z",
			"effectiveDate": "2026-09-02",
			"expirationDate": "2036-09-02",
			"notionalCurrencyLeg1": "usd",
			"notionalAmountLeg1": "10,000,000+",
			"fixedRateLeg1": "3.5%",
			"direction": "RCV"
		},
		{
			"disseminationIdentifier": "1002",
			"originalDisseminationIdentifier": "1001",
			"actionType": "MODI",
			"eventTimestamp": "2026-08-31T15:00:00Z",
			"effectiveDate": "2026-09-02",
			"notionalCurrencyLeg1": "USD",
			"notionalAmountLeg1": "$12,000,000",
			"spreadLeg1": "0.25",
			"direction": "P"
		},
		{
			"actionType": "NEW",
			"eventTimestamp": "2026-08-31T15:10:00Z",
			"effectiveDate": "2026-09-02",
			"notionalCurrencyLeg1": "USD"
		}
	]
}`

func TestFetch_ParsesAndNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("startDate") == "" || r.URL.Query().Get("endDate") == "" {
			t.Error("window query parameters missing")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	reports, err := client.Fetch(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// The record without a dissemination identifier is dropped, not fatal.
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}

	first := reports[0]
	if first.DisseminationID != "1001" {
		t.Errorf("DisseminationID = %q", first.DisseminationID)
	}
	if first.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", first.Currency)
	}
	if first.Notional != 10_000_000 {
		t.Errorf("Notional = %v, want 10000000", first.Notional)
	}
	if first.FixedRate != 3.5 {
		t.Errorf("FixedRate = %v, want 3.5", first.FixedRate)
	}
	if first.Direction != types.DirectionReceive {
		t.Errorf("Direction = %q, want RECEIVE", first.Direction)
	}
	if first.Action != types.ActionNew {
		t.Errorf("Action = %q, want NEW", first.Action)
	}
	if !first.MaturityDate.Equal(time.Date(2036, 9, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("MaturityDate = %v", first.MaturityDate)
	}

	second := reports[1]
	if second.Action != types.ActionCorrect {
		t.Errorf("Action = %q, want CORRECT for MODI", second.Action)
	}
	if second.OriginalDisseminationID != "1001" {
		t.Errorf("OriginalDisseminationID = %q", second.OriginalDisseminationID)
	}
	if second.Direction != types.DirectionPay {
		t.Errorf("Direction = %q, want PAY", second.Direction)
	}
	// Spread leg rate used when the fixed rate is absent.
	if second.FixedRate != 0.25 {
		t.Errorf("FixedRate = %v, want 0.25", second.FixedRate)
	}
	// Missing expiration keeps the zero value rather than failing the record.
	if !second.MaturityDate.IsZero() {
		t.Errorf("MaturityDate = %v, want zero", second.MaturityDate)
	}
}

func TestFetch_InvalidWindow(t *testing.T) {
	client := NewClient("http://localhost")

	now := time.Now()
	_, err := client.Fetch(context.Background(), now, now.Add(-time.Hour))
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
}

func TestFetch_UpstreamErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(3, time.Millisecond))
	_, err := client.Fetch(context.Background(), time.Now().Add(-time.Hour), time.Now())

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fetchErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", fetchErr.StatusCode)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"tradeList": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(3, time.Millisecond))
	reports, err := client.Fetch(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Fetch failed after retries: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("reports = %d, want 0", len(reports))
	}
	if calls.Load() != 3 {
		t.Errorf("upstream calls = %d, want 3", calls.Load())
	}
}

func TestFetch_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(3, time.Millisecond))
	if _, err := client.Fetch(context.Background(), time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestCleanNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"10,000,000", 10_000_000},
		{"10,000,000+", 10_000_000},
		{"$1,500", 1500},
		{"3.5%", 3.5},
		{" 42 ", 42},
		{"", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := cleanNumeric(tt.in); got != tt.want {
			t.Errorf("cleanNumeric(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
