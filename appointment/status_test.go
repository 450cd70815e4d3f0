package appointment

import "testing"

func TestStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusProcessing, StatusPending, true},
		{StatusProcessing, StatusApproved, false},
		{StatusProcessing, StatusCanceled, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusConfirmed, false},
		{StatusPending, StatusEscalated, false},
		{StatusApproved, StatusConfirmed, true},
		{StatusApproved, StatusCompleted, false},
		{StatusApproved, StatusEscalated, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusEscalated, true},
		{StatusCompleted, StatusEscalated, true},
		{StatusCompleted, StatusCanceled, false},
		{StatusEscalated, StatusCompleted, true},
		{StatusEscalated, StatusCanceled, true},
		{StatusEscalated, StatusPending, false},
		{StatusCanceled, StatusPending, false},
		{StatusRescheduled, StatusPending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCanceled, StatusRescheduled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s: expected terminal", s)
		}
	}
	live := []Status{StatusProcessing, StatusPending, StatusApproved, StatusConfirmed, StatusEscalated}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s: expected non-terminal", s)
		}
	}
}

func TestStatusActive(t *testing.T) {
	for _, s := range []Status{StatusProcessing, StatusPending, StatusApproved, StatusConfirmed, StatusEscalated} {
		if !s.Active() {
			t.Errorf("%s: expected to occupy the schedule slot", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCanceled, StatusRescheduled} {
		if s.Active() {
			t.Errorf("%s: expected to free the schedule slot", s)
		}
	}
}
