//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"school-pickup/domain"
	"school-pickup/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName returns the type name of the worker, for logging.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// TransportHandler receives the events of one subscription, in delivery order.
type TransportHandler interface {
	OnSubscribed()
	OnMessage(payload domain.MessagePayload)
	OnPresence(participants []domain.Participant)
	OnTransportError(err error)
}

// Subscription is the handle returned by a transport for one subscriber.
type Subscription interface {
	ChannelID() string
	ParticipantID() string
}

// Transport is the realtime pub/sub collaborator. It echoes every published
// message back to all subscribers of the channel, the sender included, and owns
// retries and reconnection of its own connection.
type Transport interface {
	Subscribe(ctx context.Context, channelID string, self domain.Participant, handler TransportHandler) (Subscription, error)
	Publish(ctx context.Context, channelID, kind string, payload domain.MessagePayload, self domain.Participant) error
	Unsubscribe(ctx context.Context, sub Subscription) error
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

type IRegistry interface {
	Sinks() []EventSink
	Subscribe(listenerID string, sink EventSink)
	Unsubscribe(listenerID string)
}

// Directory is the identity and reference-data collaborator.
type Directory interface {
	GetParticipant(id string) (domain.Participant, error)
	ContextRules() (domain.ContextRules, error)
}
