package enum

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusCompleted, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusCompleted, true},

		// Duplicates never apply.
		{OrderStatusPending, OrderStatusPending, false},
		{OrderStatusPaid, OrderStatusPaid, false},

		// Backward moves never apply.
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusCompleted, OrderStatusPaid, false},
		{OrderStatusCompleted, OrderStatusPending, false},

		// CANCELLED only from PENDING.
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusCompleted, OrderStatusCancelled, false},

		// Terminal states are dead ends.
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusPaid, false},
		{OrderStatusCompleted, OrderStatusCompleted, false},

		// Unknown statuses are rejected on either side.
		{"SHIPPED", OrderStatusPaid, false},
		{OrderStatusPending, "SHIPPED", false},
	}

	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminalStatus(t *testing.T) {
	if !IsTerminalStatus(OrderStatusCompleted) || !IsTerminalStatus(OrderStatusCancelled) {
		t.Error("COMPLETED and CANCELLED must be terminal")
	}
	if IsTerminalStatus(OrderStatusPending) || IsTerminalStatus(OrderStatusPaid) {
		t.Error("PENDING and PAID must not be terminal")
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{OrderStatusPending, OrderStatusPaid, OrderStatusCompleted, OrderStatusCancelled} {
		if !IsValidStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if IsValidStatus("NEW") {
		t.Error("NEW is not a status in this system")
	}
}
