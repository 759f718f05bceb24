// Package presence tracks who is currently on the channel.
// Snapshots pushed by the transport are authoritative: each one replaces the previous view.
package presence

import (
	"school-pickup/domain"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

type Registry struct {
	mu           sync.RWMutex
	participants map[string]domain.Participant // map participant ID -> latest status
}

func NewRegistry() *Registry {
	return &Registry{participants: make(map[string]domain.Participant)}
}

// ApplySnapshot replaces the whole registry content with the given snapshot.
// Entries without an ID are dropped; the number of dropped entries is returned
// so the caller can report it. When an ID appears twice, the last entry wins.
func (r *Registry) ApplySnapshot(participants []domain.Participant) int {
	next := make(map[string]domain.Participant, len(participants))
	dropped := 0
	for _, p := range participants {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			dropped++
			continue
		}
		p.ID = id
		next[id] = p
	}

	r.mu.Lock()
	r.participants = next
	r.mu.Unlock()
	return dropped
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(lo.Values(r.participants), func(p domain.Participant) bool {
		return p.Status == domain.StatusOnline
	})
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Registry) Get(id string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	return p, ok
}

// Snapshot returns a copy ordered by display name, then ID.
func (r *Registry) Snapshot() []domain.Participant {
	r.mu.RLock()
	res := lo.Values(r.participants)
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].DisplayName != res[j].DisplayName {
			return res[i].DisplayName < res[j].DisplayName
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.participants = make(map[string]domain.Participant)
	r.mu.Unlock()
}
