package models

import "time"

// CartSource identifies which provider initiated a checkout attempt.
type CartSource string

const (
	SourceStripeCheckout CartSource = "stripe_checkout"
	SourcePayPalCheckout CartSource = "paypal_checkout"
	SourceUnknown        CartSource = "unknown"
)

// CartState is the lifecycle state of a checkout attempt.
type CartState string

const (
	CartStateCreated   CartState = "CREATED"
	CartStateConfirmed CartState = "CONFIRMED"
	CartStateFailed    CartState = "FAILED"
)

// CartEvent is one observed event in a cart's audit trail.
type CartEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// CartEntry represents one checkout attempt, tracked from session/order
// creation through confirmation or failure.
//
// ConfirmedAt and FailedAt are mutually exclusive: once one terminal
// timestamp is set, later events of the opposite kind are appended to
// Events but do not change the state.
type CartEntry struct {
	CartID        string                 `json:"cart_id"`
	Source        CartSource             `json:"source"`
	State         CartState              `json:"state"`
	CreatedAt     time.Time              `json:"created_at"`
	ConfirmedAt   *time.Time             `json:"confirmed_at,omitempty"`
	FailedAt      *time.Time             `json:"failed_at,omitempty"`
	ConfirmedBy   string                 `json:"confirmed_by,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Events        []CartEvent            `json:"events"`
}

// Terminal reports whether the entry has reached CONFIRMED or FAILED.
func (e *CartEntry) Terminal() bool {
	return e.State != CartStateCreated
}
