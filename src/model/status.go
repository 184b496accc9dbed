package model

import "time"

// OrderStatus is a stage of the execution state machine.
//
//	pending -> routing -> building -> submitted -> confirmed
//	(any non-terminal) -> failed
//
// A retry starts a fresh attempt from pending.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"

	// StatusConnected is only ever sent to a subscriber as the attach acknowledgment.
	StatusConnected OrderStatus = "connected"
)

var statusRank = map[OrderStatus]int{
	StatusPending:   1,
	StatusRouting:   2,
	StatusBuilding:  3,
	StatusSubmitted: 4,
	StatusConfirmed: 5,
}

// Terminal reports whether no further transition can follow s within an attempt.
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid reports whether s is one of the six pipeline states.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// CanTransitionTo reports whether next may directly follow s within one attempt.
// The zero status may only move to pending.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == "" {
		return next == StatusPending
	}
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	return statusRank[next] == cur+1
}

// StatusUpdate is the message pushed to an order's subscriber.
// It is never stored.
type StatusUpdate struct {
	OrderID   string           `json:"orderId"`
	Status    OrderStatus      `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Message   string           `json:"message,omitempty"`
	Data      *ExecutionDetail `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// ExecutionDetail is the partial execution payload carried by a StatusUpdate.
// Only the fields known at the emitting stage are set.
type ExecutionDetail struct {
	OrderID       string     `json:"orderId,omitempty"`
	TxHash        string     `json:"txHash,omitempty"`
	ExecutedPrice float64    `json:"executedPrice,omitempty"`
	AmountOut     float64    `json:"amountOut,omitempty"`
	DexUsed       Venue      `json:"dexUsed,omitempty"`
	ExecutedAt    *time.Time `json:"executedAt,omitempty"`
	GasFee        *float64   `json:"gasFee,omitempty"`
}

// ConnectedUpdate builds the acknowledgment sent when a subscriber attaches.
func ConnectedUpdate(orderID string, at time.Time) StatusUpdate {
	return StatusUpdate{
		OrderID:   orderID,
		Status:    StatusConnected,
		Timestamp: at,
		Message:   "WebSocket connected successfully",
	}
}
