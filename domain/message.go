// Package domain contains core concepts of the pickup coordination channel.
// This file defines message envelopes and their classification.
// Envelopes are immutable values; upgrading origin returns a copy.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeGeneral        MessageType = "general"
	MessageTypePickupRequest  MessageType = "pickup_request"
	MessageTypeLocationUpdate MessageType = "location_update"
	MessageTypeEmergency      MessageType = "emergency"
	MessageTypeBroadcast      MessageType = "broadcast"
)

var MessageTypes = []MessageType{
	MessageTypeGeneral,
	MessageTypePickupRequest,
	MessageTypeLocationUpdate,
	MessageTypeEmergency,
	MessageTypeBroadcast,
}

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityEmergency}

type Origin string

const (
	OriginLocalProvisional Origin = "local-provisional"
	OriginConfirmed        Origin = "confirmed"
)

// ParseMessageType returns general and false for values outside the taxonomy.
func ParseMessageType(s string) (MessageType, bool) {
	for _, t := range MessageTypes {
		if string(t) == s {
			return t, true
		}
	}
	return MessageTypeGeneral, false
}

// ParsePriority returns normal and false for values outside the taxonomy.
func ParsePriority(s string) (Priority, bool) {
	for _, p := range Priorities {
		if string(p) == s {
			return p, true
		}
	}
	return PriorityNormal, false
}

// MessageEnvelope represents one immutable unit of communication on the channel.
type MessageEnvelope struct {
	ID          string // correlation key
	SenderID    string
	SenderName  string
	SenderRole  Role
	Content     string
	MessageType MessageType
	Priority    Priority
	ChildRef    *string
	LocationRef *string
	Timestamp   time.Time
	Origin      Origin
}

func (m MessageEnvelope) IsProvisional() bool {
	return m.Origin == OriginLocalProvisional
}

// Confirm returns a copy of the envelope with a confirmed origin.
// Content, timestamp and tags are left untouched.
func (m MessageEnvelope) Confirm() MessageEnvelope {
	m.Origin = OriginConfirmed
	return m
}

// Draft is what a participant composes before it becomes an envelope.
type Draft struct {
	Content     string  `json:"content"`
	MessageType string  `json:"messageType" validate:"omitempty,oneof=general pickup_request location_update emergency broadcast"`
	Priority    string  `json:"priority" validate:"omitempty,oneof=low normal high emergency"`
	ChildRef    *string `json:"childRef,omitempty"`
	LocationRef *string `json:"locationRef,omitempty"`
}

// NewLocalEnvelope stamps a draft with a fresh correlation key.
// The draft enums are expected to be validated already.
func NewLocalEnvelope(draft Draft, sender Participant, at time.Time) MessageEnvelope {
	messageType, _ := ParseMessageType(draft.MessageType)
	priority, _ := ParsePriority(draft.Priority)
	return MessageEnvelope{
		ID:          uuid.NewString(),
		SenderID:    sender.ID,
		SenderName:  sender.DisplayName,
		SenderRole:  sender.Role,
		Content:     draft.Content,
		MessageType: messageType,
		Priority:    priority,
		ChildRef:    normalizeRef(draft.ChildRef),
		LocationRef: normalizeRef(draft.LocationRef),
		Timestamp:   at,
		Origin:      OriginLocalProvisional,
	}
}

func normalizeRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
