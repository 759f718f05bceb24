package workers

import (
	"context"
	"log/slog"
	"school-pickup/contract"
	"school-pickup/domain"
)

// PublishFailure is called when the transport refuses an envelope.
type PublishFailure func(envelope domain.MessageEnvelope, err error)

// OutboxWorker hands locally appended envelopes to the transport, one at a time and in
// the order they were published, so the caller never waits for the broadcast.
type OutboxWorker struct {
	log       *slog.Logger
	transport contract.Transport
	channelID string
	self      domain.Participant
	outbox    <-chan domain.MessageEnvelope
	onFailure PublishFailure
}

func NewOutboxWorker(log *slog.Logger, transport contract.Transport, channelID string,
	self domain.Participant, outbox <-chan domain.MessageEnvelope, onFailure PublishFailure) *OutboxWorker {
	return &OutboxWorker{
		log:       log,
		transport: transport,
		channelID: channelID,
		self:      self,
		outbox:    outbox,
		onFailure: onFailure,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope, ok := <-w.outbox:
			if !ok {
				return nil
			}
			err := w.transport.Publish(ctx, w.channelID, domain.EventKindChat, domain.ToPayload(envelope), w.self)
			if err == nil {
				w.log.Debug("Envelope handed to transport", "id", envelope.ID)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("Transport refused envelope", "id", envelope.ID, "error", err)
			if w.onFailure != nil {
				w.onFailure(envelope, err)
			}
		}
	}
}
