package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"school-pickup/contract"
	"school-pickup/domain"
	"school-pickup/errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	presenceKind = "presence"
	flushTimeout = 5 * time.Second
)

type NatsConfig struct {
	SubjectPrefix string
	Heartbeat     time.Duration
	TTL           time.Duration
}

// NatsTransport broadcasts chat events over core NATS subjects.
//
// Chat events of a channel go to "<prefix>.<channel>.chat" and every subscriber,
// the publisher included, receives them. Presence is announced on
// "<prefix>.<channel>.presence" at every heartbeat and folded into complete
// snapshots by each subscriber. Reconnection is left to the NATS client; a
// closed connection fails every live subscription.
type NatsTransport struct {
	log *slog.Logger
	nc  *nats.Conn
	cfg NatsConfig

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

// ConnectNats dials the server and returns a transport owning the connection.
func ConnectNats(url, name string, log *slog.Logger, cfg NatsConfig) (*NatsTransport, error) {
	t := &NatsTransport{log: log, cfg: withDefaults(cfg), subs: make(map[*natsSubscription]struct{})}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected, reconnecting", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			t.failAll(fmt.Errorf("%w: nats connection closed", errors.ErrTransport))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to NATS: %v", errors.ErrTransport, err)
	}
	t.nc = nc
	return t, nil
}

func withDefaults(cfg NatsConfig) NatsConfig {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "pickup"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.TTL <= cfg.Heartbeat {
		cfg.TTL = 3 * cfg.Heartbeat
	}
	return cfg
}

func (t *NatsTransport) Close() {
	if t.nc != nil {
		t.nc.Close()
	}
}

func (t *NatsTransport) subject(channelID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", t.cfg.SubjectPrefix, channelID, kind)
}

func (t *NatsTransport) Subscribe(ctx context.Context, channelID string, self domain.Participant, handler contract.TransportHandler) (contract.Subscription, error) {
	if channelID == "" || handler == nil {
		return nil, fmt.Errorf("%w: channel id and handler are required", errors.ErrTransport)
	}

	// Chat events may arrive while the interest is flushed. They wait behind
	// the subscription ack so the session never sees them while connecting.
	sub := &natsSubscription{
		mailbox:   newHeldMailbox(),
		transport: t,
		channelID: channelID,
		self:      self,
		handler:   handler,
		tracker:   newPresenceTracker(self, t.cfg.TTL, time.Now()),
		stop:      make(chan struct{}),
	}

	chatSub, err := t.nc.Subscribe(t.subject(channelID, domain.EventKindChat), sub.onChat)
	if err != nil {
		sub.close()
		return nil, fmt.Errorf("%w: subscribe to chat of %s: %v", errors.ErrTransport, channelID, err)
	}
	presenceSub, err := t.nc.Subscribe(t.subject(channelID, presenceKind), sub.onAnnouncement)
	if err != nil {
		_ = chatSub.Unsubscribe()
		sub.close()
		return nil, fmt.Errorf("%w: subscribe to presence of %s: %v", errors.ErrTransport, channelID, err)
	}
	sub.natsSubs = []*nats.Subscription{chatSub, presenceSub}

	// The server must know the interest before our own echo can come back.
	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err = t.nc.FlushWithContext(flushCtx); err != nil {
		sub.release()
		return nil, fmt.Errorf("%w: flush subscriptions: %v", errors.ErrTransport, err)
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	sub.open(handler.OnSubscribed)
	sub.pushSnapshot()
	sub.announce(false)
	go sub.heartbeat(t.cfg.Heartbeat)

	t.log.Info("Subscribed to channel", "channel", channelID, "participant", self.ID)
	return sub, nil
}

func (t *NatsTransport) Publish(_ context.Context, channelID, kind string, payload domain.MessagePayload, self domain.Participant) error {
	if t.nc.IsClosed() {
		return fmt.Errorf("%w: nats connection closed", errors.ErrTransport)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload %s: %v", errors.ErrTransport, payload.ID, err)
	}
	if err = t.nc.Publish(t.subject(channelID, kind), data); err != nil {
		return fmt.Errorf("%w: publish %s for %s: %v", errors.ErrTransport, payload.ID, self.ID, err)
	}
	t.log.Debug("Published chat event", "channel", channelID, "id", payload.ID)
	return nil
}

// Unsubscribe announces the departure and releases the NATS subscriptions.
func (t *NatsTransport) Unsubscribe(_ context.Context, sub contract.Subscription) error {
	ns, ok := sub.(*natsSubscription)
	if !ok {
		return fmt.Errorf("%w: foreign subscription %T", errors.ErrTransport, sub)
	}
	if !t.forget(ns) {
		return nil
	}
	if !t.nc.IsClosed() {
		ns.announce(true)
	}
	ns.release()
	t.log.Info("Unsubscribed from channel", "channel", ns.channelID, "participant", ns.self.ID)
	return nil
}

func (t *NatsTransport) forget(sub *natsSubscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub]; !ok {
		return false
	}
	delete(t.subs, sub)
	return true
}

// failAll reports err to every live subscription and drops them.
func (t *NatsTransport) failAll(err error) {
	t.mu.Lock()
	subs := make([]*natsSubscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[*natsSubscription]struct{})
	t.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(func() { sub.handler.OnTransportError(err) })
		sub.release()
	}
	if len(subs) > 0 {
		t.log.Error("Transport failed", "subscriptions", len(subs), "error", err)
	}
}

type natsSubscription struct {
	*mailbox
	transport *NatsTransport
	channelID string
	self      domain.Participant
	handler   contract.TransportHandler
	tracker   *presenceTracker
	natsSubs  []*nats.Subscription
	stop      chan struct{}
	stopOnce  sync.Once
}

func (s *natsSubscription) ChannelID() string     { return s.channelID }
func (s *natsSubscription) ParticipantID() string { return s.self.ID }

func (s *natsSubscription) onChat(msg *nats.Msg) {
	var payload domain.MessagePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.transport.log.Warn("Dropping undecodable chat event", "subject", msg.Subject, "error", err)
		return
	}
	s.enqueue(func() { s.handler.OnMessage(payload) })
}

func (s *natsSubscription) onAnnouncement(msg *nats.Msg) {
	var a Announcement
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		s.transport.log.Warn("Dropping undecodable presence announcement", "subject", msg.Subject, "error", err)
		return
	}
	changed, joined := s.tracker.observe(a, time.Now())
	if joined {
		// Let the newcomer learn about us without waiting for the next heartbeat.
		s.announce(false)
	}
	if changed {
		s.pushSnapshot()
	}
}

func (s *natsSubscription) pushSnapshot() {
	snapshot := s.tracker.snapshot()
	s.enqueue(func() { s.handler.OnPresence(snapshot) })
}

func (s *natsSubscription) announce(leaving bool) {
	data, err := json.Marshal(announce(s.self, leaving, time.Now()))
	if err != nil {
		s.transport.log.Error("Cannot encode presence announcement", "error", err)
		return
	}
	if err = s.transport.nc.Publish(s.transport.subject(s.channelID, presenceKind), data); err != nil {
		s.transport.log.Warn("Presence announcement failed", "participant", s.self.ID, "error", err)
	}
}

func (s *natsSubscription) heartbeat(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.announce(false)
			if s.tracker.expire(now) {
				s.pushSnapshot()
			}
		}
	}
}

// release stops the heartbeat and the NATS subscriptions. Callbacks already
// queued are still delivered.
func (s *natsSubscription) release() {
	s.stopOnce.Do(func() { close(s.stop) })
	for _, ns := range s.natsSubs {
		if err := ns.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			s.transport.log.Debug("NATS unsubscribe failed", "subject", ns.Subject, "error", err)
		}
	}
	s.close()
}
