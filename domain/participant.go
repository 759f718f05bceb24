// Package domain contains core concepts of the pickup coordination channel.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

type Role string

const (
	RoleParent Role = "parent"
	RoleStaff  Role = "staff"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

const UnknownDisplayName = "Unknown"

// Participant is an identity on the channel, used both for authorship and presence.
type Participant struct {
	ID          string
	DisplayName string
	Role        Role
	Status      Status
}

// ParseRole accepts the legacy "admin" role as staff.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RoleParent):
		return RoleParent, true
	case string(RoleStaff), "admin":
		return RoleStaff, true
	default:
		return RoleParent, false
	}
}

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOnline:
		return StatusOnline, true
	case StatusAway:
		return StatusAway, true
	case StatusBusy:
		return StatusBusy, true
	case StatusOffline:
		return StatusOffline, true
	default:
		return StatusOnline, false
	}
}

// Metadata is what a participant announces about itself when subscribing or publishing.
func (p Participant) Metadata() SenderMetadata {
	return SenderMetadata{
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		Status:      string(p.Status),
	}
}

// ParticipantFromMetadata builds a presence entry from transport metadata.
// Missing or unknown fields fall back to "Unknown", parent and online.
func ParticipantFromMetadata(id string, meta SenderMetadata) Participant {
	name := strings.TrimSpace(meta.DisplayName)
	if name == "" {
		name = UnknownDisplayName
	}
	role, _ := ParseRole(meta.Role)
	status, _ := ParseStatus(meta.Status)
	return Participant{
		ID:          strings.TrimSpace(id),
		DisplayName: name,
		Role:        role,
		Status:      status,
	}
}
