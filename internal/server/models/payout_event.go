package models

import "time"

// DeliveryEventType is the asynchronous delivery status reported by the
// payout rail.
type DeliveryEventType string

const (
	EventSucceeded DeliveryEventType = "SUCCEEDED"
	EventFailed    DeliveryEventType = "FAILED"
	EventBlocked   DeliveryEventType = "BLOCKED"
	EventDenied    DeliveryEventType = "DENIED"
	EventReturned  DeliveryEventType = "RETURNED"
	EventRefunded  DeliveryEventType = "REFUNDED"
	EventCanceled  DeliveryEventType = "CANCELED"
	EventHeld      DeliveryEventType = "HELD"
	EventUnclaimed DeliveryEventType = "UNCLAIMED"
	EventPending   DeliveryEventType = "PENDING"
)

// EventEffect groups delivery events by what they do to a receipt.
type EventEffect int

const (
	EffectUnknown EventEffect = iota
	EffectSettle
	EffectRevert
	EffectInformational
)

// Effect maps an event type onto its effect on the review state machine.
func (t DeliveryEventType) Effect() EventEffect {
	switch t {
	case EventSucceeded:
		return EffectSettle
	case EventFailed, EventBlocked, EventDenied, EventReturned, EventRefunded, EventCanceled:
		return EffectRevert
	case EventHeld, EventUnclaimed, EventPending:
		return EffectInformational
	}
	return EffectUnknown
}

// DeliveryEvent is an authenticated webhook notification.
type DeliveryEvent struct {
	Reference string            `json:"reference"`
	Type      DeliveryEventType `json:"event_type"`
}

// PayoutEvent is the dedupe-log row for a delivery event.
type PayoutEvent struct {
	Reference  string
	Type       DeliveryEventType
	ReceivedAt time.Time
	AppliedAt  *time.Time
}
