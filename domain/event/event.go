// Package event lists everything a channel session reports to its listeners.
package event

import (
	"school-pickup/domain"
	"time"
)

type DomainEvent interface {
	Name() string
	OccurredAt() time.Time
}

// MessageAppended is emitted when a new entry lands at the end of the log.
type MessageAppended struct {
	Envelope domain.MessageEnvelope
	Position int
	At       time.Time
}

func (e MessageAppended) Name() string          { return "MessageAppended" }
func (e MessageAppended) OccurredAt() time.Time { return e.At }

// MessageConfirmed is emitted when a provisional entry is upgraded in place by its echo.
type MessageConfirmed struct {
	Envelope domain.MessageEnvelope
	Position int
	At       time.Time
}

func (e MessageConfirmed) Name() string          { return "MessageConfirmed" }
func (e MessageConfirmed) OccurredAt() time.Time { return e.At }

type PresenceChanged struct {
	Participants []domain.Participant
	OnlineCount  int
	At           time.Time
}

func (e PresenceChanged) Name() string          { return "PresenceChanged" }
func (e PresenceChanged) OccurredAt() time.Time { return e.At }

// ConnectionStateChanged carries the transport cause when the session dropped on a fault.
type ConnectionStateChanged struct {
	From  domain.ConnectionState
	To    domain.ConnectionState
	Cause error
	At    time.Time
}

func (e ConnectionStateChanged) Name() string          { return "ConnectionStateChanged" }
func (e ConnectionStateChanged) OccurredAt() time.Time { return e.At }

type AnomalyKind string

const (
	MalformedPayload  AnomalyKind = "MALFORMED_PAYLOAD"
	CoercedPayload    AnomalyKind = "COERCED_PAYLOAD"
	LateDelivery      AnomalyKind = "LATE_DELIVERY"
	DuplicateDelivery AnomalyKind = "DUPLICATE_DELIVERY"
	PresenceEntryDrop AnomalyKind = "PRESENCE_ENTRY_DROPPED"
	PublishFailed     AnomalyKind = "PUBLISH_FAILED"
)

// AnomalyDetected reports non-fatal irregularities that never reach the log.
type AnomalyDetected struct {
	Kind      AnomalyKind
	MessageID string
	Detail    string
	At        time.Time
}

func (e AnomalyDetected) Name() string          { return "AnomalyDetected" }
func (e AnomalyDetected) OccurredAt() time.Time { return e.At }
