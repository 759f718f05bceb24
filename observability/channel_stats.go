// Package observability keeps live counters about a channel session.
package observability

import (
	"context"
	"log/slog"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"sync"
	"sync/atomic"
	"time"
)

const maxRecentAnomalies = 20

// RecentAnomaly is one entry of the anomaly feed shown to operators.
type RecentAnomaly struct {
	Kind      string `json:"kind"`
	MessageID string `json:"message_id,omitempty"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

// ChannelSnapshot aggregates every counter for the stats endpoint.
type ChannelSnapshot struct {
	State             string          `json:"state"`
	MessagesAppended  uint64          `json:"messages_appended"`
	MessagesConfirmed uint64          `json:"messages_confirmed"`
	PresenceUpdates   uint64          `json:"presence_updates"`
	OnlineCount       int             `json:"online_count"`
	StateChanges      uint64          `json:"state_changes"`
	Disconnects       uint64          `json:"disconnects"`
	Anomalies         uint64          `json:"anomalies"`
	RecentAnomalies   []RecentAnomaly `json:"recent_anomalies"`
}

// ChannelStats is an event sink counting what a session reports.
type ChannelStats struct {
	log *slog.Logger

	appended     uint64
	confirmed    uint64
	presence     uint64
	stateChanges uint64
	disconnects  uint64
	anomalies    uint64

	mu          sync.RWMutex
	state       domain.ConnectionState
	onlineCount int
	recent      []RecentAnomaly
}

func NewChannelStats(log *slog.Logger) *ChannelStats {
	return &ChannelStats{log: log, state: domain.Disconnected, recent: make([]RecentAnomaly, 0)}
}

func (s *ChannelStats) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageAppended:
		atomic.AddUint64(&s.appended, 1)
	case event.MessageConfirmed:
		atomic.AddUint64(&s.confirmed, 1)
	case event.PresenceChanged:
		atomic.AddUint64(&s.presence, 1)
		s.mu.Lock()
		s.onlineCount = evt.OnlineCount
		s.mu.Unlock()
	case event.ConnectionStateChanged:
		atomic.AddUint64(&s.stateChanges, 1)
		if evt.To == domain.Disconnected {
			atomic.AddUint64(&s.disconnects, 1)
		}
		s.mu.Lock()
		s.state = evt.To
		if evt.To == domain.Disconnected {
			s.onlineCount = 0
		}
		s.mu.Unlock()
	case event.AnomalyDetected:
		atomic.AddUint64(&s.anomalies, 1)
		s.addAnomaly(evt)
	default:
		s.log.Debug("Event not tracked", "event", e.Name())
	}
	return nil
}

// addAnomaly keeps the most recent anomalies first.
func (s *ChannelStats) addAnomaly(evt event.AnomalyDetected) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anomaly := RecentAnomaly{
		Kind:      string(evt.Kind),
		MessageID: evt.MessageID,
		Detail:    evt.Detail,
		Timestamp: evt.At.Format(time.TimeOnly),
	}
	s.recent = append([]RecentAnomaly{anomaly}, s.recent...)
	if len(s.recent) > maxRecentAnomalies {
		s.recent = s.recent[:maxRecentAnomalies]
	}
}

func (s *ChannelStats) GetLatest() ChannelSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ChannelSnapshot{
		State:             s.state.String(),
		MessagesAppended:  atomic.LoadUint64(&s.appended),
		MessagesConfirmed: atomic.LoadUint64(&s.confirmed),
		PresenceUpdates:   atomic.LoadUint64(&s.presence),
		OnlineCount:       s.onlineCount,
		StateChanges:      atomic.LoadUint64(&s.stateChanges),
		Disconnects:       atomic.LoadUint64(&s.disconnects),
		Anomalies:         atomic.LoadUint64(&s.anomalies),
		RecentAnomalies:   append([]RecentAnomaly(nil), s.recent...),
	}
}
