// Package projection builds the local message log from observed events.
// Handles ordering and deduplication by correlation key.
// Does not emit events or interact with UI directly.
package projection

import (
	"fmt"
	"school-pickup/domain"
	"school-pickup/errors"
	"sync"
)

type ConfirmResult int

const (
	NotFound ConfirmResult = iota
	Upgraded
	AlreadyConfirmed
	LogFrozen
)

// Timeline is the insertion-ordered message log of one session.
// At most one entry exists per envelope ID. The only in-place mutation allowed is
// the provisional -> confirmed upgrade.
type Timeline struct {
	mu      sync.RWMutex
	entries []domain.MessageEnvelope
	index   map[string]int // envelope ID -> position in entries
	frozen  bool
}

func NewTimeline() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

// Append adds the envelope at the end of the log and returns its position.
func (t *Timeline) Append(m domain.MessageEnvelope) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return 0, errors.ErrLogFrozen
	}
	if _, ok := t.index[m.ID]; ok {
		return 0, fmt.Errorf("%w: %s", errors.ErrDuplicateEnvelope, m.ID)
	}
	t.entries = append(t.entries, m)
	pos := len(t.entries) - 1
	t.index[m.ID] = pos
	return pos, nil
}

// Confirm upgrades a provisional entry in place. Confirming an entry twice is a no-op.
func (t *Timeline) Confirm(id string) (domain.MessageEnvelope, int, ConfirmResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.index[id]
	if !ok {
		return domain.MessageEnvelope{}, 0, NotFound
	}
	current := t.entries[pos]
	if t.frozen {
		return current, pos, LogFrozen
	}
	if !current.IsProvisional() {
		return current, pos, AlreadyConfirmed
	}
	t.entries[pos] = current.Confirm()
	return t.entries[pos], pos, Upgraded
}

func (t *Timeline) Lookup(id string) (domain.MessageEnvelope, int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.index[id]
	if !ok {
		return domain.MessageEnvelope{}, 0, false
	}
	return t.entries[pos], pos, true
}

// Messages returns a copy of the log in insertion order.
func (t *Timeline) Messages() []domain.MessageEnvelope {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := make([]domain.MessageEnvelope, len(t.entries))
	copy(res, t.entries)
	return res
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Freeze turns the log into a read-only historical snapshot.
func (t *Timeline) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

func (t *Timeline) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}
