package orders

import "strings"

type Status string

const (
	StatusPlaced         Status = "Order Placed"
	StatusAccepted       Status = "Accepted by Store"
	StatusPacking        Status = "Packing Order"
	StatusReadyForPickup Status = "Ready for Pickup"
	StatusOnTheWay       Status = "On the Way"
	StatusArrival        Status = "Arrival"
	StatusDelivered      Status = "Delivered"
	StatusCancelled      Status = "Cancelled"
	StatusUnknown        Status = "Unknown"
)

// Lifecycle lists the forward chain in order.
var Lifecycle = []Status{
	StatusPlaced,
	StatusAccepted,
	StatusPacking,
	StatusReadyForPickup,
	StatusOnTheWay,
	StatusArrival,
	StatusDelivered,
}

var next = map[Status]Status{
	StatusPlaced:         StatusAccepted,
	StatusAccepted:       StatusPacking,
	StatusPacking:        StatusReadyForPickup,
	StatusReadyForPickup: StatusOnTheWay,
	StatusOnTheWay:       StatusArrival,
	StatusArrival:        StatusDelivered,
}

// ParseStatus maps a stored status string to the vocabulary.
// Anything outside it is StatusUnknown; callers keep the raw string.
func ParseStatus(raw string) Status {
	s := Status(strings.TrimSpace(raw))
	if s.Known() {
		return s
	}
	return StatusUnknown
}

// Known reports whether s is part of the canonical vocabulary.
func (s Status) Known() bool {
	if s == StatusCancelled {
		return true
	}
	for _, v := range Lifecycle {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further status writes are accepted.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Active reports whether an order in s still occupies its driver.
func (s Status) Active() bool { return !s.Terminal() }

// Next returns the forward transition from s, if any.
func Next(s Status) (Status, bool) {
	n, ok := next[s]
	return n, ok
}

// CanTransition reports whether from → to is an edge of the graph.
// Unknown statuses may only be cancelled.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	n, ok := next[from]
	return ok && n == to
}
