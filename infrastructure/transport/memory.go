// Package transport holds the realtime pub/sub adapters a channel session subscribes through.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"school-pickup/contract"
	"school-pickup/domain"
	"school-pickup/errors"
	"strings"
	"sync"
)

// Hub is an in-process broadcast transport.
// Every published chat event is echoed to all subscribers of the channel, the
// sender included, and every join or leave pushes a full presence snapshot.
// Each subscriber receives its callbacks from a dedicated goroutine, in order.
type Hub struct {
	mu         sync.Mutex
	log        *slog.Logger
	channels   map[string]*hubChannel
	publishErr error
}

type hubChannel struct {
	id          string
	subscribers []*hubSubscription // join order
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, channels: make(map[string]*hubChannel)}
}

func (h *Hub) Subscribe(_ context.Context, channelID string, self domain.Participant, handler contract.TransportHandler) (contract.Subscription, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("%w: empty channel id", errors.ErrTransport)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", errors.ErrTransport)
	}

	h.mu.Lock()
	sub := newHubSubscription(channelID, self, handler)
	ch := h.channelLocked(channelID)
	ch.subscribers = append(ch.subscribers, sub)
	sub.enqueue(handler.OnSubscribed)
	h.broadcastPresenceLocked(ch)
	h.mu.Unlock()

	h.log.Debug("Subscriber joined", "channel", channelID, "participant", self.ID)
	return sub, nil
}

func (h *Hub) Publish(_ context.Context, channelID, kind string, payload domain.MessagePayload, self domain.Participant) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.publishErr != nil {
		return h.publishErr
	}
	ch, ok := h.channels[channelID]
	if !ok || !ch.has(self.ID) {
		return fmt.Errorf("%w: %s is not subscribed to %s", errors.ErrTransport, self.ID, channelID)
	}
	if kind != domain.EventKindChat {
		h.log.Debug("Ignoring broadcast of unknown kind", "kind", kind)
		return nil
	}
	h.broadcastLocked(ch, payload)
	return nil
}

// Unsubscribe removes the subscriber and tells the others who is left.
// It does not wait for callbacks already queued for the leaving subscriber.
func (h *Hub) Unsubscribe(_ context.Context, sub contract.Subscription) error {
	hs, ok := sub.(*hubSubscription)
	if !ok {
		return fmt.Errorf("%w: foreign subscription %T", errors.ErrTransport, sub)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[hs.channelID]
	if !ok || !ch.remove(hs) {
		return nil
	}
	hs.close()
	h.broadcastPresenceLocked(ch)
	if len(ch.subscribers) == 0 {
		delete(h.channels, ch.id)
	}
	h.log.Debug("Subscriber left", "channel", hs.channelID, "participant", hs.self.ID)
	return nil
}

// FailPublish makes every following Publish return err. A nil err heals the hub.
func (h *Hub) FailPublish(err error) {
	h.mu.Lock()
	h.publishErr = err
	h.mu.Unlock()
}

// Fail simulates a dropped channel: every subscriber is told about err and removed.
func (h *Hub) Fail(channelID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	if !ok {
		return
	}
	for _, sub := range ch.subscribers {
		sub.enqueue(func() { sub.handler.OnTransportError(err) })
		sub.close()
	}
	delete(h.channels, channelID)
	h.log.Warn("Channel failed", "channel", channelID, "error", err)
}

// Inject delivers a raw payload to every subscriber as if another client had
// broadcast it, including payloads a well-behaved client would never send.
func (h *Hub) Inject(channelID string, payload domain.MessagePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[channelID]; ok {
		h.broadcastLocked(ch, payload)
	}
}

// InjectPresence pushes an arbitrary presence snapshot to every subscriber.
func (h *Hub) InjectPresence(channelID string, participants []domain.Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	if !ok {
		return
	}
	for _, sub := range ch.subscribers {
		snapshot := append([]domain.Participant(nil), participants...)
		sub.enqueue(func() { sub.handler.OnPresence(snapshot) })
	}
}

// Participants lists who is currently subscribed to the channel, in join order.
func (h *Hub) Participants(channelID string) []domain.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	if !ok {
		return nil
	}
	return ch.participants()
}

func (h *Hub) channelLocked(channelID string) *hubChannel {
	ch, ok := h.channels[channelID]
	if !ok {
		ch = &hubChannel{id: channelID}
		h.channels[channelID] = ch
	}
	return ch
}

func (h *Hub) broadcastLocked(ch *hubChannel, payload domain.MessagePayload) {
	for _, sub := range ch.subscribers {
		sub.enqueue(func() { sub.handler.OnMessage(payload) })
	}
}

func (h *Hub) broadcastPresenceLocked(ch *hubChannel) {
	participants := ch.participants()
	for _, sub := range ch.subscribers {
		snapshot := append([]domain.Participant(nil), participants...)
		sub.enqueue(func() { sub.handler.OnPresence(snapshot) })
	}
}

func (c *hubChannel) participants() []domain.Participant {
	res := make([]domain.Participant, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		res = append(res, sub.self)
	}
	return res
}

func (c *hubChannel) has(participantID string) bool {
	for _, sub := range c.subscribers {
		if sub.self.ID == participantID {
			return true
		}
	}
	return false
}

func (c *hubChannel) remove(target *hubSubscription) bool {
	for i, sub := range c.subscribers {
		if sub == target {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// hubSubscription is one subscriber and its ordered mailbox.
type hubSubscription struct {
	*mailbox
	channelID string
	self      domain.Participant
	handler   contract.TransportHandler
}

func newHubSubscription(channelID string, self domain.Participant, handler contract.TransportHandler) *hubSubscription {
	return &hubSubscription{
		mailbox:   newMailbox(),
		channelID: channelID,
		self:      self,
		handler:   handler,
	}
}

func (s *hubSubscription) ChannelID() string     { return s.channelID }
func (s *hubSubscription) ParticipantID() string { return s.self.ID }
