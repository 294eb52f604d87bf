package ingestion_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"SettleLedger/internal/ingestion"
)

func TestParseBalanceReport(t *testing.T) {
	payload := []byte(`{
		"observation_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"balance": "40.005",
		"observed_at_us": 1767225600000000
	}`)

	report, err := ingestion.ParseBalanceReport(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report.ObservationID.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("observation id = %s", report.ObservationID)
	}
	if !report.Balance.Equal(decimal.RequireFromString("40.005")) {
		t.Errorf("balance = %s, want 40.005", report.Balance)
	}
	if !report.ObservedAt.Equal(time.UnixMicro(1767225600000000)) {
		t.Errorf("observed at = %s", report.ObservedAt)
	}
}

func TestParseBalanceReport_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"garbage", `not json`},
		{"bad observation id", `{"observation_id":"nope","account_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","balance":"1","observed_at_us":1}`},
		{"bad account id", `{"observation_id":"550e8400-e29b-41d4-a716-446655440000","account_id":"nope","balance":"1","observed_at_us":1}`},
		{"bad balance", `{"observation_id":"550e8400-e29b-41d4-a716-446655440000","account_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","balance":"1.2.3","observed_at_us":1}`},
		{"missing timestamp", `{"observation_id":"550e8400-e29b-41d4-a716-446655440000","account_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","balance":"1"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := ingestion.ParseBalanceReport([]byte(c.payload)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseBalanceReport_NegativeBalanceAllowed(t *testing.T) {
	// Exchanges do report negative balances; rejecting them here would hide
	// a real divergence from the tracker.
	payload := []byte(`{
		"observation_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"balance": "-12.5",
		"observed_at_us": 1767225600000000
	}`)
	report, err := ingestion.ParseBalanceReport(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !report.Balance.Equal(decimal.RequireFromString("-12.5")) {
		t.Errorf("balance = %s, want -12.5", report.Balance)
	}
}

func TestParseFundingNotice(t *testing.T) {
	payload := []byte(`{
		"funding_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"amount": "100",
		"ref": "wire-2026-03-01"
	}`)

	notice, err := ingestion.ParseFundingNotice(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !notice.Amount.Equal(decimal.RequireFromString("100")) {
		t.Errorf("amount = %s, want 100", notice.Amount)
	}
	if notice.Ref != "wire-2026-03-01" {
		t.Errorf("ref = %q", notice.Ref)
	}
}

func TestParseFundingNotice_RejectsNonPositive(t *testing.T) {
	for _, amount := range []string{"0", "-50"} {
		payload := []byte(`{
			"funding_id": "550e8400-e29b-41d4-a716-446655440000",
			"account_id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			"amount": "` + amount + `",
			"ref": "wire-1"
		}`)
		if _, err := ingestion.ParseFundingNotice(payload); err == nil {
			t.Errorf("amount %s should be rejected", amount)
		}
	}
}
