package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"school-pickup/contract"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"school-pickup/errors"
	"school-pickup/presence"
	"school-pickup/projection"
	"school-pickup/runtime/workers"
	"strings"
	"sync"
	"time"
)

type SessionConfig struct {
	ChannelID       string
	OutboxSize      int
	RestartInterval time.Duration
}

// Session owns one transport subscription for one participant.
//
// It turns transport callbacks into log and presence updates, reconciles the
// sender's own echoes with the provisional entries it appended, and reports every
// change as a domain event. All operations and callbacks are serialized by mu.
//
// A session never reconnects by itself: after a transport fault or a Disconnect
// the log is frozen and a new Connect starts a fresh log.
type Session struct {
	mu              sync.Mutex
	log             *slog.Logger
	channelID       string
	self            domain.Participant
	transport       contract.Transport
	events          chan<- event.DomainEvent
	outboxSize      int
	restartInterval time.Duration
	now             func() time.Time

	state      domain.ConnectionState
	generation uint64 // bumped on every connect and teardown, stale callbacks are ignored
	sub        contract.Subscription
	timeline   *projection.Timeline
	presence   *presence.Registry
	outbox     chan domain.MessageEnvelope
	supervisor *workers.Supervisor
}

func NewSession(log *slog.Logger, transport contract.Transport, self domain.Participant,
	events chan<- event.DomainEvent, cfg SessionConfig) *Session {
	if cfg.ChannelID == "" {
		cfg.ChannelID = domain.DefaultChannelID
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 64
	}
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = 200 * time.Millisecond
	}
	return &Session{
		log:             log.With("channel", cfg.ChannelID, "participant", self.ID),
		channelID:       cfg.ChannelID,
		self:            self,
		transport:       transport,
		events:          events,
		outboxSize:      cfg.OutboxSize,
		restartInterval: cfg.RestartInterval,
		now:             func() time.Time { return time.Now().UTC() },
		state:           domain.Disconnected,
		timeline:        projection.NewTimeline(),
		presence:        presence.NewRegistry(),
	}
}

// Connect starts a fresh session: new log, empty registry, and a transport
// subscription announcing this participant. The session becomes Subscribed once
// the transport calls OnSubscribed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if strings.TrimSpace(s.self.ID) == "" {
		s.mu.Unlock()
		return errors.ErrMissingIdentity
	}
	if s.state != domain.Disconnected {
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", errors.ErrAlreadyConnected, s.state)
	}
	s.generation++
	gen := s.generation
	s.timeline = projection.NewTimeline()
	s.presence.Clear()
	s.startOutboxLocked(ctx, gen)
	s.setStateLocked(domain.Connecting, nil)
	s.mu.Unlock()

	sub, err := s.transport.Subscribe(ctx, s.channelID, s.self, &sessionHandler{session: s, generation: gen})

	s.mu.Lock()
	if err != nil {
		if s.generation == gen {
			s.teardownLocked(err)
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: subscribe to %s: %v", errors.ErrTransport, s.channelID, err)
	}
	if s.generation != gen {
		// Torn down while the subscription was being established.
		s.mu.Unlock()
		s.log.Warn("Session torn down during subscribe, releasing subscription")
		return s.unsubscribe(ctx, sub)
	}
	s.sub = sub
	s.mu.Unlock()
	s.log.Info("Subscription requested")
	return nil
}

// Disconnect is always honored, whatever is in flight. The registry is cleared and
// the log stays readable as a frozen snapshot. Disconnecting twice is a no-op.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == domain.Disconnected {
		s.mu.Unlock()
		return nil
	}
	sub := s.teardownLocked(nil)
	s.mu.Unlock()

	s.log.Info("Session disconnected")
	if sub == nil {
		return nil
	}
	return s.unsubscribe(ctx, sub)
}

// Publish appends the envelope to the log as provisional and queues it for the
// transport. It returns as soon as the local copy is visible; the echo later
// confirms the entry in place.
func (s *Session) Publish(envelope domain.MessageEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.Subscribed {
		return fmt.Errorf("%w: cannot publish while %s", errors.ErrTransport, s.state)
	}
	if strings.TrimSpace(envelope.Content) == "" {
		return fmt.Errorf("%w: content is empty", errors.ErrPublishRejected)
	}
	if envelope.ID == "" || envelope.SenderID != s.self.ID {
		return fmt.Errorf("%w: envelope must carry an id and be authored by %s", errors.ErrPublishRejected, s.self.ID)
	}
	if len(s.outbox) == cap(s.outbox) {
		return fmt.Errorf("%w: %d envelopes waiting", errors.ErrOutboxFull, len(s.outbox))
	}

	envelope.Origin = domain.OriginLocalProvisional
	pos, err := s.timeline.Append(envelope)
	if err != nil {
		return err
	}
	s.emitLocked(event.MessageAppended{Envelope: envelope, Position: pos, At: s.now()})
	// Only sent under mu after the capacity check above, so this never blocks.
	s.outbox <- envelope
	return nil
}

func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Self() domain.Participant {
	return s.self
}

func (s *Session) ChannelID() string {
	return s.channelID
}

// Messages returns the current log, or the frozen one after a teardown.
func (s *Session) Messages() []domain.MessageEnvelope {
	s.mu.Lock()
	timeline := s.timeline
	s.mu.Unlock()
	return timeline.Messages()
}

func (s *Session) Presence() []domain.Participant {
	return s.presence.Snapshot()
}

func (s *Session) OnlineCount() int {
	return s.presence.OnlineCount()
}

func (s *Session) startOutboxLocked(ctx context.Context, gen uint64) {
	outbox := make(chan domain.MessageEnvelope, s.outboxSize)
	worker := workers.NewOutboxWorker(s.log, s.transport, s.channelID, s.self, outbox,
		func(envelope domain.MessageEnvelope, err error) {
			s.publishFailed(gen, envelope, err)
		})
	supervisor := workers.NewSupervisor(s.log, s.restartInterval)
	supervisor.Add(worker)

	s.outbox = outbox
	s.supervisor = supervisor
	// The outbox outlives the Connect call but not the session generation.
	go supervisor.Run(context.WithoutCancel(ctx))
}

// teardownLocked moves to Disconnected, stops the outbox, clears presence and
// freezes the log. It returns the subscription to release, if any.
func (s *Session) teardownLocked(cause error) contract.Subscription {
	s.generation++
	if s.supervisor != nil {
		s.supervisor.Stop()
		s.supervisor = nil
	}
	if pending := len(s.outbox); pending > 0 {
		s.log.Warn("Dropping envelopes not yet handed to transport", "pending", pending)
	}
	s.outbox = nil
	s.presence.Clear()
	s.timeline.Freeze()
	sub := s.sub
	s.sub = nil
	s.setStateLocked(domain.Disconnected, cause)
	return sub
}

func (s *Session) unsubscribe(ctx context.Context, sub contract.Subscription) error {
	if err := s.transport.Unsubscribe(ctx, sub); err != nil {
		return fmt.Errorf("%w: unsubscribe from %s: %v", errors.ErrTransport, s.channelID, err)
	}
	return nil
}

func (s *Session) setStateLocked(to domain.ConnectionState, cause error) {
	from := s.state
	s.state = to
	s.emitLocked(event.ConnectionStateChanged{From: from, To: to, Cause: cause, At: s.now()})
}

// emitLocked never blocks: a full event buffer drops the notification.
// Listeners can always recover by reading Messages and Presence.
func (s *Session) emitLocked(evt event.DomainEvent) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- evt:
	default:
		s.log.Warn("Event buffer full, dropping notification", "event", evt.Name())
	}
}

func (s *Session) anomalyLocked(kind event.AnomalyKind, messageID, detail string) {
	s.log.Warn("Channel anomaly", "kind", kind, "message_id", messageID, "detail", detail)
	s.emitLocked(event.AnomalyDetected{Kind: kind, MessageID: messageID, Detail: detail, At: s.now()})
}

func (s *Session) activeLocked(gen uint64, states ...domain.ConnectionState) bool {
	if gen != s.generation {
		return false
	}
	for _, st := range states {
		if s.state == st {
			return true
		}
	}
	return false
}

func (s *Session) onSubscribed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(gen, domain.Connecting) {
		s.log.Debug("Ignoring subscription ack of a stale attempt")
		return
	}
	s.setStateLocked(domain.Subscribed, nil)
	s.log.Info("Subscribed")
}

func (s *Session) onMessage(gen uint64, payload domain.MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.activeLocked(gen, domain.Subscribed) {
		s.anomalyLocked(event.LateDelivery, payload.ID, "message received outside an active subscription")
		return
	}

	envelope, coerced, err := domain.FromRemote(payload)
	if err != nil {
		s.anomalyLocked(event.MalformedPayload, payload.ID, err.Error())
		return
	}
	if len(coerced) > 0 {
		s.anomalyLocked(event.CoercedPayload, envelope.ID, "coerced "+strings.Join(coerced, ","))
	}

	if envelope.SenderID == s.self.ID {
		confirmed, pos, result := s.timeline.Confirm(envelope.ID)
		switch result {
		case projection.Upgraded:
			s.emitLocked(event.MessageConfirmed{Envelope: confirmed, Position: pos, At: s.now()})
			return
		case projection.AlreadyConfirmed:
			s.log.Debug("Echo already reconciled", "id", envelope.ID)
			return
		}
		// No provisional copy, e.g. sent from a previous session.
	} else if _, _, exists := s.timeline.Lookup(envelope.ID); exists {
		s.log.Debug("Duplicate delivery ignored", "id", envelope.ID, "sender", envelope.SenderID)
		return
	}

	pos, err := s.timeline.Append(envelope)
	if err != nil {
		s.anomalyLocked(event.DuplicateDelivery, envelope.ID, err.Error())
		return
	}
	s.emitLocked(event.MessageAppended{Envelope: envelope, Position: pos, At: s.now()})
}

func (s *Session) onPresence(gen uint64, participants []domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.activeLocked(gen, domain.Connecting, domain.Subscribed) {
		s.log.Debug("Ignoring presence snapshot outside an active subscription")
		return
	}
	if dropped := s.presence.ApplySnapshot(participants); dropped > 0 {
		s.anomalyLocked(event.PresenceEntryDrop, "", fmt.Sprintf("%d presence entries without id", dropped))
	}
	s.emitLocked(event.PresenceChanged{
		Participants: s.presence.Snapshot(),
		OnlineCount:  s.presence.OnlineCount(),
		At:           s.now(),
	})
}

// onTransportError ends the session. The transport that reported the fault owns
// the cleanup of its subscription, so nothing is unsubscribed here.
func (s *Session) onTransportError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.activeLocked(gen, domain.Connecting, domain.Subscribed) {
		s.log.Debug("Ignoring transport error of a stale subscription", "error", err)
		return
	}
	s.log.Error("Transport failure, session disconnected", "error", err)
	s.teardownLocked(fmt.Errorf("%w: %v", errors.ErrTransport, err))
}

func (s *Session) publishFailed(gen uint64, envelope domain.MessageEnvelope, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anomalyLocked(event.PublishFailed, envelope.ID, err.Error())
	if !s.activeLocked(gen, domain.Connecting, domain.Subscribed) {
		return
	}
	s.teardownLocked(fmt.Errorf("%w: broadcast of %s failed: %v", errors.ErrTransport, envelope.ID, err))
}

// sessionHandler binds transport callbacks to the generation that subscribed.
type sessionHandler struct {
	session    *Session
	generation uint64
}

func (h *sessionHandler) OnSubscribed() {
	h.session.onSubscribed(h.generation)
}

func (h *sessionHandler) OnMessage(payload domain.MessagePayload) {
	h.session.onMessage(h.generation, payload)
}

func (h *sessionHandler) OnPresence(participants []domain.Participant) {
	h.session.onPresence(h.generation, participants)
}

func (h *sessionHandler) OnTransportError(err error) {
	h.session.onTransportError(h.generation, err)
}
