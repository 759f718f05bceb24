package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"school-pickup/contract"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"school-pickup/errors"
	"school-pickup/infrastructure/transport"
	"school-pickup/mocks"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	mike  = domain.Participant{ID: "parent1", DisplayName: "Mike Johnson", Role: domain.RoleParent, Status: domain.StatusOnline}
	front = domain.Participant{ID: "admin1", DisplayName: "Front Office", Role: domain.RoleStaff, Status: domain.StatusOnline}
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func newTestSession(t contract.Transport, self domain.Participant) (*Session, chan event.DomainEvent) {
	events := make(chan event.DomainEvent, 256)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewSession(log, t, self, events, SessionConfig{OutboxSize: 8, RestartInterval: 10 * time.Millisecond}), events
}

func connected(t *testing.T, hub *transport.Hub, self domain.Participant) (*Session, chan event.DomainEvent) {
	t.Helper()
	session, events := newTestSession(hub, self)
	require.NoError(t, session.Connect(context.Background()))
	require.Eventually(t, func() bool { return session.State() == domain.Subscribed }, waitFor, tick)
	return session, events
}

// nextEvent drains events until one of type T matches.
func nextEvent[T event.DomainEvent](t *testing.T, events <-chan event.DomainEvent, match func(T) bool) T {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case evt := <-events:
			if typed, ok := evt.(T); ok && match(typed) {
				return typed
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func draft(content string) domain.Draft {
	return domain.Draft{Content: content}
}

func Test_Own_Message_Is_Visible_Once_And_Confirmed_By_Echo(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, events := connected(t, hub, mike)

	// When publishing a message
	envelope := domain.NewLocalEnvelope(draft("Emma is ready"), mike, time.Now())
	req.NoError(session.Publish(envelope))

	// Then the echo confirms the entry in place
	confirmed := nextEvent(t, events, func(e event.MessageConfirmed) bool { return e.Envelope.ID == envelope.ID })
	req.Equal(0, confirmed.Position)
	messages := session.Messages()
	req.Len(messages, 1)
	req.Equal(domain.OriginConfirmed, messages[0].Origin)
	req.Equal("Emma is ready", messages[0].Content)
}

func Test_Repeated_Self_Echo_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, events := connected(t, hub, mike)
	envelope := domain.NewLocalEnvelope(draft("Emma is ready"), mike, time.Now())
	req.NoError(session.Publish(envelope))
	nextEvent(t, events, func(e event.MessageConfirmed) bool { return e.Envelope.ID == envelope.ID })

	// When the transport delivers the same echo twice more, followed by a marker
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(envelope))
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(envelope))
	marker := domain.NewLocalEnvelope(draft("marker"), front, time.Now())
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(marker))
	nextEvent(t, events, func(e event.MessageAppended) bool { return e.Envelope.ID == marker.ID })

	// Then the log still holds one confirmed copy of the message
	messages := session.Messages()
	req.Len(messages, 2)
	req.Equal(envelope.ID, messages[0].ID)
	req.Equal(domain.OriginConfirmed, messages[0].Origin)
}

func Test_Self_Echo_Without_Provisional_Copy_Is_Appended_Confirmed(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, events := connected(t, hub, mike)

	// Given a message sent by this participant from a previous session
	previous := domain.NewLocalEnvelope(draft("Sent before the reconnect"), mike, time.Now())

	// When its echo arrives twice, followed by a marker
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(previous))
	appended := nextEvent(t, events, func(e event.MessageAppended) bool { return e.Envelope.ID == previous.ID })
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(previous))
	marker := domain.NewLocalEnvelope(draft("marker"), front, time.Now())
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(marker))
	nextEvent(t, events, func(e event.MessageAppended) bool { return e.Envelope.ID == marker.ID })

	// Then it is appended once, already confirmed
	req.Equal(0, appended.Position)
	req.Equal(domain.OriginConfirmed, appended.Envelope.Origin)
	messages := session.Messages()
	req.Len(messages, 2)
	req.Equal(previous.ID, messages[0].ID)
	req.Equal(domain.OriginConfirmed, messages[0].Origin)
	req.Equal(marker.ID, messages[1].ID)
}

func Test_Foreign_Redelivery_Is_Ignored(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	parentSession, parentEvents := connected(t, hub, mike)
	staffSession, _ := connected(t, hub, front)

	// Given a message from the staff member
	envelope := domain.NewLocalEnvelope(draft("Please come to the front"), front, time.Now())
	req.NoError(staffSession.Publish(envelope))
	nextEvent(t, parentEvents, func(e event.MessageAppended) bool { return e.Envelope.ID == envelope.ID })

	// When the transport delivers it again
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(envelope))
	marker := domain.NewLocalEnvelope(draft("marker"), front, time.Now())
	hub.Inject(domain.DefaultChannelID, domain.ToPayload(marker))
	nextEvent(t, parentEvents, func(e event.MessageAppended) bool { return e.Envelope.ID == marker.ID })

	// Then the parent holds it once
	messages := parentSession.Messages()
	req.Len(messages, 2)
	req.Equal(envelope.ID, messages[0].ID)
	req.Equal(domain.OriginConfirmed, messages[0].Origin)
	req.Equal("Front Office", messages[0].SenderName)
	req.Equal(domain.RoleStaff, messages[0].SenderRole)
}

func Test_Location_Update_Reaches_Other_Participants(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	parentSession, _ := connected(t, hub, mike)
	_, staffEvents := connected(t, hub, front)
	location := "front"

	// When the parent sends a location update
	envelope := domain.NewLocalEnvelope(domain.Draft{
		Content:     "On my way",
		MessageType: string(domain.MessageTypeLocationUpdate),
		LocationRef: &location,
	}, mike, time.Now())
	req.NoError(parentSession.Publish(envelope))

	// Then the staff member sees it with its location and the parent's identity
	appended := nextEvent(t, staffEvents, func(e event.MessageAppended) bool { return e.Envelope.ID == envelope.ID })
	received := appended.Envelope
	req.Equal("On my way", received.Content)
	req.Equal(domain.MessageTypeLocationUpdate, received.MessageType)
	req.Equal(domain.PriorityNormal, received.Priority)
	req.NotNil(received.LocationRef)
	req.Equal("front", *received.LocationRef)
	req.Nil(received.ChildRef)
	req.Equal(mike.ID, received.SenderID)
	req.Equal(mike.DisplayName, received.SenderName)
	req.Equal(domain.OriginConfirmed, received.Origin)
}

func Test_Transport_Error_Freezes_Log_And_Rejects_Publish(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, events := connected(t, hub, mike)

	// Given two confirmed messages
	for _, content := range []string{"On my way", "Parked"} {
		envelope := domain.NewLocalEnvelope(draft(content), mike, time.Now())
		req.NoError(session.Publish(envelope))
		nextEvent(t, events, func(e event.MessageConfirmed) bool { return e.Envelope.ID == envelope.ID })
	}

	// When the channel fails
	hub.Fail(domain.DefaultChannelID, fmt.Errorf("socket closed"))

	// Then the session is disconnected with the cause
	changed := nextEvent(t, events, func(e event.ConnectionStateChanged) bool { return e.To == domain.Disconnected })
	req.ErrorIs(changed.Cause, errors.ErrTransport)
	req.Equal(domain.Subscribed, changed.From)

	// And the log stays readable while presence is gone
	req.Len(session.Messages(), 2)
	req.Empty(session.Presence())
	req.Zero(session.OnlineCount())

	// And publishing is refused
	err := session.Publish(domain.NewLocalEnvelope(draft("Still there?"), mike, time.Now()))
	req.ErrorIs(err, errors.ErrTransport)
	req.Len(session.Messages(), 2)
}

func Test_Late_Echo_After_Disconnect_Is_Dropped(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	mockTransport := mocks.NewMockTransport(ctrl)
	sub := mocks.NewMockSubscription(ctrl)
	var handler contract.TransportHandler

	mockTransport.EXPECT().Subscribe(gomock.Any(), domain.DefaultChannelID, mike, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ domain.Participant, h contract.TransportHandler) (contract.Subscription, error) {
			handler = h
			return sub, nil
		})
	mockTransport.EXPECT().Publish(gomock.Any(), domain.DefaultChannelID, domain.EventKindChat, gomock.Any(), mike).Return(nil).AnyTimes()
	mockTransport.EXPECT().Unsubscribe(gomock.Any(), sub).Return(nil)

	session, events := newTestSession(mockTransport, mike)
	req.NoError(session.Connect(context.Background()))
	handler.OnSubscribed()
	req.Equal(domain.Subscribed, session.State())

	// Given a provisional message
	envelope := domain.NewLocalEnvelope(draft("Emma is ready"), mike, time.Now())
	req.NoError(session.Publish(envelope))
	req.Equal(domain.OriginLocalProvisional, session.Messages()[0].Origin)

	// When the echo arrives after the disconnect
	req.NoError(session.Disconnect(context.Background()))
	handler.OnMessage(domain.ToPayload(envelope))

	// Then it is reported and the entry stays provisional
	anomaly := nextEvent(t, events, func(e event.AnomalyDetected) bool { return e.Kind == event.LateDelivery })
	req.Equal(envelope.ID, anomaly.MessageID)
	messages := session.Messages()
	req.Len(messages, 1)
	req.Equal(domain.OriginLocalProvisional, messages[0].Origin)
	req.Equal(domain.Disconnected, session.State())
}

func Test_Publish_Failure_Disconnects_Session(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, events := connected(t, hub, mike)
	hub.FailPublish(fmt.Errorf("network down"))

	// When the broadcast fails
	envelope := domain.NewLocalEnvelope(draft("Emma is ready"), mike, time.Now())
	req.NoError(session.Publish(envelope))

	// Then the failure is reported and the session disconnects
	anomaly := nextEvent(t, events, func(e event.AnomalyDetected) bool { return e.Kind == event.PublishFailed })
	req.Equal(envelope.ID, anomaly.MessageID)
	nextEvent(t, events, func(e event.ConnectionStateChanged) bool { return e.To == domain.Disconnected })
	req.Equal(domain.OriginLocalProvisional, session.Messages()[0].Origin)
}

func Test_Publish_Rejections(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, _ := newTestSession(hub, mike)

	// Publishing while disconnected
	req.ErrorIs(session.Publish(domain.NewLocalEnvelope(draft("hello"), mike, time.Now())), errors.ErrTransport)

	req.NoError(session.Connect(context.Background()))
	req.Eventually(func() bool { return session.State() == domain.Subscribed }, waitFor, tick)

	// Blank content
	req.ErrorIs(session.Publish(domain.NewLocalEnvelope(draft("  \n "), mike, time.Now())), errors.ErrPublishRejected)
	// Someone else's envelope
	req.ErrorIs(session.Publish(domain.NewLocalEnvelope(draft("hello"), front, time.Now())), errors.ErrPublishRejected)
	// Same envelope twice
	envelope := domain.NewLocalEnvelope(draft("hello"), mike, time.Now())
	req.NoError(session.Publish(envelope))
	req.ErrorIs(session.Publish(envelope), errors.ErrDuplicateEnvelope)
	req.Len(session.Messages(), 1)
}

func Test_Connect_Requires_Identity_And_Single_Subscription(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))

	anonymous, _ := newTestSession(hub, domain.Participant{DisplayName: "Nobody"})
	req.ErrorIs(anonymous.Connect(context.Background()), errors.ErrMissingIdentity)
	req.Equal(domain.Disconnected, anonymous.State())

	session, _ := connected(t, hub, mike)
	req.ErrorIs(session.Connect(context.Background()), errors.ErrAlreadyConnected)
}

func Test_Subscribe_Failure_Leaves_Session_Disconnected(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	mockTransport := mocks.NewMockTransport(ctrl)
	mockTransport.EXPECT().Subscribe(gomock.Any(), domain.DefaultChannelID, mike, gomock.Any()).
		Return(nil, fmt.Errorf("connection refused"))

	session, events := newTestSession(mockTransport, mike)

	err := session.Connect(context.Background())

	req.ErrorIs(err, errors.ErrTransport)
	req.Equal(domain.Disconnected, session.State())
	nextEvent(t, events, func(e event.ConnectionStateChanged) bool {
		return e.From == domain.Connecting && e.To == domain.Disconnected
	})
}

func Test_Malformed_And_Coerced_Payloads(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, events := connected(t, hub, mike)

	// When a payload without content and one with an unknown type arrive
	hub.Inject(domain.DefaultChannelID, domain.MessagePayload{ID: "bad", SenderID: "someone"})
	hub.Inject(domain.DefaultChannelID, domain.MessagePayload{
		ID:          "odd",
		SenderID:    "someone",
		Content:     "Hello",
		MessageType: "gossip",
		Priority:    "normal",
	})

	// Then the first is dropped and the second is kept as a general message
	nextEvent(t, events, func(e event.AnomalyDetected) bool { return e.Kind == event.MalformedPayload && e.MessageID == "bad" })
	nextEvent(t, events, func(e event.AnomalyDetected) bool { return e.Kind == event.CoercedPayload && e.MessageID == "odd" })
	appended := nextEvent(t, events, func(e event.MessageAppended) bool { return e.Envelope.ID == "odd" })
	req.Equal(domain.MessageTypeGeneral, appended.Envelope.MessageType)
	req.Equal(domain.UnknownDisplayName, appended.Envelope.SenderName)
	req.Len(session.Messages(), 1)
}

func Test_Presence_Tracks_Connected_Participants(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	parentSession, parentEvents := connected(t, hub, mike)
	staffSession, _ := connected(t, hub, front)

	// Then the parent sees both participants online
	nextEvent(t, parentEvents, func(e event.PresenceChanged) bool { return e.OnlineCount == 2 })
	req.Equal([]domain.Participant{front, mike}, parentSession.Presence())

	// When the staff member disconnects
	req.NoError(staffSession.Disconnect(context.Background()))

	// Then only the parent remains
	nextEvent(t, parentEvents, func(e event.PresenceChanged) bool { return e.OnlineCount == 1 })
	req.Equal([]domain.Participant{mike}, parentSession.Presence())

	// Blank presence entries are dropped and reported
	hub.InjectPresence(domain.DefaultChannelID, []domain.Participant{mike, {DisplayName: "ghost"}})
	nextEvent(t, parentEvents, func(e event.AnomalyDetected) bool { return e.Kind == event.PresenceEntryDrop })
}

func Test_Reconnect_Starts_A_Fresh_Log(t *testing.T) {
	req := require.New(t)
	hub := transport.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	session, events := connected(t, hub, mike)
	envelope := domain.NewLocalEnvelope(draft("Emma is ready"), mike, time.Now())
	req.NoError(session.Publish(envelope))
	nextEvent(t, events, func(e event.MessageConfirmed) bool { return e.Envelope.ID == envelope.ID })

	// When disconnecting the log is kept
	req.NoError(session.Disconnect(context.Background()))
	req.NoError(session.Disconnect(context.Background()))
	req.Len(session.Messages(), 1)

	// When connecting again the log starts empty
	req.NoError(session.Connect(context.Background()))
	req.Eventually(func() bool { return session.State() == domain.Subscribed }, waitFor, tick)
	req.Empty(session.Messages())
}
