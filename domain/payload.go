package domain

import (
	"fmt"
	"school-pickup/errors"
	"strings"
	"time"
)

const (
	DefaultChannelID = "school-pickup-messages"
	EventKindChat    = "chat"
)

// SenderMetadata is announced by a participant alongside every subscription and publish.
type SenderMetadata struct {
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Status      string `json:"status,omitempty"`
}

// MessagePayload is the transport shape of a chat event.
// Timestamp is expressed in Unix milliseconds.
type MessagePayload struct {
	ID             string         `json:"id"`
	SenderID       string         `json:"senderId"`
	SenderMetadata SenderMetadata `json:"senderMetadata"`
	Content        string         `json:"content"`
	MessageType    string         `json:"messageType"`
	Priority       string         `json:"priority"`
	ChildRef       *string        `json:"childRef,omitempty"`
	LocationRef    *string        `json:"locationRef,omitempty"`
	Timestamp      int64          `json:"timestamp"`
}

// ToPayload converts an envelope into its transport shape.
func ToPayload(m MessageEnvelope) MessagePayload {
	var ts int64
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.UnixMilli()
	}
	return MessagePayload{
		ID:       m.ID,
		SenderID: m.SenderID,
		SenderMetadata: SenderMetadata{
			DisplayName: m.SenderName,
			Role:        string(m.SenderRole),
		},
		Content:     m.Content,
		MessageType: string(m.MessageType),
		Priority:    string(m.Priority),
		ChildRef:    m.ChildRef,
		LocationRef: m.LocationRef,
		Timestamp:   ts,
	}
}

// FromRemote parses a transport payload into a confirmed envelope.
// A payload without id, sender or content is rejected with ErrMalformedMessage.
// Unknown message types, priorities and roles are coerced to general, normal and parent;
// the names of the coerced fields are returned so the caller can report the anomaly.
func FromRemote(p MessagePayload) (MessageEnvelope, []string, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return MessageEnvelope{}, nil, fmt.Errorf("%w: missing id", errors.ErrMalformedMessage)
	}
	senderID := strings.TrimSpace(p.SenderID)
	if senderID == "" {
		return MessageEnvelope{}, nil, fmt.Errorf("%w: message %s has no sender", errors.ErrMalformedMessage, id)
	}
	if strings.TrimSpace(p.Content) == "" {
		return MessageEnvelope{}, nil, fmt.Errorf("%w: message %s has empty content", errors.ErrMalformedMessage, id)
	}

	var coerced []string
	messageType, ok := ParseMessageType(p.MessageType)
	if !ok {
		coerced = append(coerced, "messageType")
	}
	priority, ok := ParsePriority(p.Priority)
	if !ok {
		coerced = append(coerced, "priority")
	}
	role, ok := ParseRole(p.SenderMetadata.Role)
	if !ok {
		coerced = append(coerced, "role")
	}
	name := strings.TrimSpace(p.SenderMetadata.DisplayName)
	if name == "" {
		name = UnknownDisplayName
	}

	var at time.Time
	if p.Timestamp > 0 {
		at = time.UnixMilli(p.Timestamp).UTC()
	}

	return MessageEnvelope{
		ID:          id,
		SenderID:    senderID,
		SenderName:  name,
		SenderRole:  role,
		Content:     p.Content,
		MessageType: messageType,
		Priority:    priority,
		ChildRef:    normalizeRef(p.ChildRef),
		LocationRef: normalizeRef(p.LocationRef),
		Timestamp:   at,
		Origin:      OriginConfirmed,
	}, coerced, nil
}
