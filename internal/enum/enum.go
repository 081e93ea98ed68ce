package enum

// ── Order status (forward-only state machine) ──

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
)

// statusRank orders the happy-path sequence PENDING → PAID → COMPLETED.
// CANCELLED sits outside the sequence and is only reachable from PENDING.
var statusRank = map[string]int{
	OrderStatusPending:   0,
	OrderStatusPaid:      1,
	OrderStatusCompleted: 2,
}

// IsValidStatus reports whether s is one of the four order statuses.
func IsValidStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminalStatus reports whether s accepts no further transitions.
func IsTerminalStatus(s string) bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransition reports whether an order may move from one status to
// another. Backward and duplicate moves are rejected; CANCELLED is
// reachable from PENDING only. This is the guard the status reducer uses
// instead of blind assignment.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	if IsTerminalStatus(from) {
		return false
	}
	if to == OrderStatusCancelled {
		return from == OrderStatusPending
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// ── Realtime event types ──

const (
	EventNewOrder           = "new_order"
	EventOrderStatusUpdated = "order_status_updated"
)
