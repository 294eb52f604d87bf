package exposure_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to exposure.State
		ok       bool
	}{
		{exposure.StateOpen, exposure.StatePartiallySettled, true},
		{exposure.StateOpen, exposure.StateClosed, true},
		{exposure.StatePartiallySettled, exposure.StatePartiallySettled, true},
		{exposure.StatePartiallySettled, exposure.StateClosed, true},
		{exposure.StateClosed, exposure.StateOpen, false},
		{exposure.StateClosed, exposure.StatePartiallySettled, false},
		{exposure.StateClosed, exposure.StateClosed, false},
		{exposure.StatePartiallySettled, exposure.StateOpen, false},
		{exposure.StateOpen, exposure.StateOpen, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestSnapshotOpen(t *testing.T) {
	s := &exposure.Snapshot{State: exposure.StateOpen}
	if !s.Open() {
		t.Error("Open snapshot should accept settlements")
	}
	s.State = exposure.StatePartiallySettled
	if !s.Open() {
		t.Error("PartiallySettled snapshot should accept settlements")
	}
	s.State = exposure.StateClosed
	if s.Open() {
		t.Error("Closed snapshot should not accept settlements")
	}
}

func TestSharePolicyValidate(t *testing.T) {
	cases := []struct {
		owner, counter string
		ok             bool
	}{
		{"1", "9", true},
		{"10", "0", true},
		{"100", "0", true},
		{"0", "0.5", true},
		{"0", "0", false},     // total must be positive
		{"60", "50", false},   // total above 100
		{"-1", "11", false},   // negative side
		{"11", "-1", false},   // negative side
		{"100.01", "0", false},
	}
	for _, c := range cases {
		p := exposure.SharePolicy{OwnerPct: d(c.owner), CounterPct: d(c.counter)}
		err := p.Validate()
		if c.ok && err != nil {
			t.Errorf("policy (%s, %s) rejected: %v", c.owner, c.counter, err)
		}
		if !c.ok {
			if err == nil {
				t.Errorf("policy (%s, %s) should be rejected", c.owner, c.counter)
			} else if !errs.IsValidation(err) {
				t.Errorf("policy rejection should be a validation error, got %v", err)
			}
		}
	}
}

func TestSharePolicyClientPayable(t *testing.T) {
	p := exposure.SharePolicy{OwnerPct: d("1"), CounterPct: d("9")}
	// 60 of capital at 10% total share is 6 payable.
	if got := p.ClientPayable(d("60")); !got.Equal(d("6")) {
		t.Errorf("ClientPayable(60) = %s, want 6", got)
	}
}

func TestSharePolicyTotal(t *testing.T) {
	p := exposure.SharePolicy{OwnerPct: d("2.5"), CounterPct: d("7.5")}
	if got := p.Total(); !got.Equal(d("10")) {
		t.Errorf("Total = %s, want 10", got)
	}
}
