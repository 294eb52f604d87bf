package money_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"SettleLedger/internal/money"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in     string
		places int32
		want   string
	}{
		{"3.005", 2, "3.01"},
		{"3.004", 2, "3.00"},
		{"3.0049999", 2, "3.00"},
		{"0.125", 2, "0.13"},
		{"6", 2, "6"},
		{"29.999999", 2, "30"},
	}
	for _, c := range cases {
		got := money.RoundHalfUp(d(c.in), c.places)
		if !got.Equal(d(c.want)) {
			t.Errorf("RoundHalfUp(%s, %d) = %s, want %s", c.in, c.places, got, c.want)
		}
	}
}

func TestNormalize_CollapsesEquivalentForms(t *testing.T) {
	a := money.Normalize(d("3"), 2)
	b := money.Normalize(d("3.0"), 2)
	c := money.Normalize(d("3.00"), 2)
	if a != b || b != c {
		t.Errorf("normalized forms differ: %q %q %q", a, b, c)
	}
	if a != "3.00" {
		t.Errorf("Normalize(3, 2) = %q, want %q", a, "3.00")
	}
}

func TestShareToCapital_RoundTripsUnrounded(t *testing.T) {
	// 6 paid at 10% total share closes 60 of capital.
	got := money.ShareToCapital(d("6"), d("10"))
	if !got.Equal(d("60")) {
		t.Errorf("ShareToCapital(6, 10) = %s, want 60", got)
	}

	// Back again: 60 of capital at 10% is 6 payable.
	back := money.CapitalToShare(got, d("10"))
	if !back.Equal(d("6")) {
		t.Errorf("CapitalToShare(60, 10) = %s, want 6", back)
	}
}

func TestShareToCapital_NonTerminatingQuotient(t *testing.T) {
	// 1 / 3% is a non-terminating quotient; the extended division
	// precision must keep the product consistent after one rounding.
	capital := money.ShareToCapital(d("1"), d("3"))
	share := money.CapitalToShare(capital, d("3"))
	if !money.RoundHalfUp(share, 2).Equal(d("1")) {
		t.Errorf("round trip at 3%%: got %s, want 1", share)
	}
}

func TestWithinEpsilon(t *testing.T) {
	if !money.WithinEpsilon(d("10.00"), d("10.01")) {
		t.Error("10.00 and 10.01 should be within epsilon")
	}
	if money.WithinEpsilon(d("10.00"), d("10.02")) {
		t.Error("10.00 and 10.02 should not be within epsilon")
	}
}

func TestMaxZero(t *testing.T) {
	if got := money.MaxZero(d("-5")); !got.IsZero() {
		t.Errorf("MaxZero(-5) = %s, want 0", got)
	}
	if got := money.MaxZero(d("5")); !got.Equal(d("5")) {
		t.Errorf("MaxZero(5) = %s, want 5", got)
	}
}
