package models

import "time"

// Event types published to the cart event stream
const (
	EventTypeCartCreated   = "CART_CREATED"
	EventTypeCartConfirmed = "CART_CONFIRMED"
	EventTypeCartFailed    = "CART_FAILED"
)

// BaseEvent contains common fields for all published events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartCreatedEvent published when a checkout session or provider order is created
type CartCreatedEvent struct {
	BaseEvent
	CartID     string     `json:"cart_id"`
	Source     CartSource `json:"source"`
	TotalItems int64      `json:"total_items"`
}

// CartConfirmedEvent published when a cart reaches its confirmed state
type CartConfirmedEvent struct {
	BaseEvent
	CartID      string `json:"cart_id"`
	ConfirmedBy string `json:"confirmed_by"`
}

// CartFailedEvent published when a cart reaches its failed state
type CartFailedEvent struct {
	BaseEvent
	CartID string `json:"cart_id"`
	Reason string `json:"reason"`
}
