package transport

import (
	"school-pickup/domain"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Announcement is what a participant broadcasts on the presence subject:
// once when joining, then at every heartbeat, and with Leaving set when it goes.
type Announcement struct {
	ParticipantID string                `json:"participantId"`
	Metadata      domain.SenderMetadata `json:"metadata"`
	Leaving       bool                  `json:"leaving,omitempty"`
	SentAt        int64                 `json:"sentAt"`
}

func announce(self domain.Participant, leaving bool, at time.Time) Announcement {
	return Announcement{
		ParticipantID: self.ID,
		Metadata:      self.Metadata(),
		Leaving:       leaving,
		SentAt:        at.UnixMilli(),
	}
}

type member struct {
	participant domain.Participant
	lastSeen    time.Time
}

// presenceTracker folds individual announcements into complete snapshots.
// Members silent for longer than ttl are dropped; self never expires.
type presenceTracker struct {
	mu      sync.Mutex
	selfID  string
	ttl     time.Duration
	members map[string]member
	order   []string // first seen order
}

func newPresenceTracker(self domain.Participant, ttl time.Duration, now time.Time) *presenceTracker {
	t := &presenceTracker{selfID: self.ID, ttl: ttl, members: make(map[string]member)}
	t.members[self.ID] = member{participant: self, lastSeen: now}
	t.order = append(t.order, self.ID)
	return t
}

// observe applies one announcement. It reports whether the snapshot changed
// and whether the announcer was unknown until now.
func (t *presenceTracker) observe(a Announcement, now time.Time) (changed, joined bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a.ParticipantID == t.selfID {
		return false, false
	}
	current, known := t.members[a.ParticipantID]
	if a.Leaving {
		if !known {
			return false, false
		}
		delete(t.members, a.ParticipantID)
		t.order = lo.Without(t.order, a.ParticipantID)
		return true, false
	}

	participant := domain.ParticipantFromMetadata(a.ParticipantID, a.Metadata)
	t.members[a.ParticipantID] = member{participant: participant, lastSeen: now}
	if !known {
		t.order = append(t.order, a.ParticipantID)
		return true, true
	}
	return current.participant != participant, false
}

// expire drops silent members and reports whether any was dropped.
func (t *presenceTracker) expire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, m := range t.members {
		if id != t.selfID && now.Sub(m.lastSeen) > t.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(t.members, id)
	}
	t.order = lo.Without(t.order, expired...)
	return len(expired) > 0
}

func (t *presenceTracker) snapshot() []domain.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return lo.Map(t.order, func(id string, _ int) domain.Participant { return t.members[id].participant })
}
