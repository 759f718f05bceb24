package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"school-pickup/auth"
	"school-pickup/composer"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"school-pickup/errors"
	"school-pickup/infrastructure/transport"
	"school-pickup/mocks"
	"school-pickup/observability"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newGateway(t *testing.T) (*Gateway, *mocks.MockDirectory, *observability.ChannelStats) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := mocks.NewMockDirectory(gomock.NewController(t))
	stats := observability.NewChannelStats(log)
	return New(log, transport.NewHub(log), directory, composer.NewPolicy(log), stats, Config{}), directory, stats
}

func upgradeRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

func Test_Stats_Endpoint_Serves_Channel_Counters(t *testing.T) {
	req := require.New(t)
	gateway, _, stats := newGateway(t)
	req.NoError(stats.Consume(t.Context(), event.MessageAppended{At: time.Now()}))

	resp, err := gateway.App().Test(httptest.NewRequest(http.MethodGet, "/stats", nil))

	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	var snapshot observability.ChannelSnapshot
	req.NoError(json.Unmarshal(body, &snapshot))
	req.Equal(uint64(1), snapshot.MessagesAppended)
	req.Equal("disconnected", snapshot.State)
}

func Test_Websocket_Requires_Upgrade(t *testing.T) {
	req := require.New(t)
	gateway, _, _ := newGateway(t)

	resp, err := gateway.App().Test(httptest.NewRequest(http.MethodGet, "/ws?participant=parent1", nil))

	req.NoError(err)
	req.Equal(http.StatusUpgradeRequired, resp.StatusCode)
}

func Test_Websocket_Requires_Known_Participant(t *testing.T) {
	req := require.New(t)
	gateway, directory, _ := newGateway(t)
	directory.EXPECT().GetParticipant("stranger").Return(domain.Participant{}, fmt.Errorf("%w: stranger", errors.ErrUnknownParticipant))

	resp, err := gateway.App().Test(upgradeRequest("/ws?participant=stranger"))
	req.NoError(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)

	resp, err = gateway.App().Test(upgradeRequest("/ws"))
	req.NoError(err)
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func Test_Frames_For_Session_Events(t *testing.T) {
	req := require.New(t)
	location := "front"
	envelope := domain.NewLocalEnvelope(domain.Draft{
		Content:     "On my way",
		MessageType: "location_update",
		LocationRef: &location,
	}, domain.Participant{ID: "parent1", DisplayName: "Mike Johnson", Role: domain.RoleParent}, time.Now())

	frame, ok := FrameFor(event.MessageAppended{Envelope: envelope, Position: 3})
	req.True(ok)
	req.Equal(FrameMessageAppended, frame.Type)
	data, err := json.Marshal(frame)
	req.NoError(err)
	req.Contains(string(data), `"locationRef":"front"`)
	req.Contains(string(data), `"origin":"local-provisional"`)
	req.Contains(string(data), `"position":3`)

	frame, ok = FrameFor(event.ConnectionStateChanged{
		From:  domain.Subscribed,
		To:    domain.Disconnected,
		Cause: errors.ErrTransport,
	})
	req.True(ok)
	req.Equal(StateFrame{From: "subscribed", To: "disconnected", Cause: errors.ErrTransport.Error()}, frame.Data)

	frame, ok = FrameFor(event.PresenceChanged{
		Participants: []domain.Participant{{ID: "admin1", DisplayName: "Front Office", Role: domain.RoleStaff, Status: domain.StatusOnline}},
		OnlineCount:  1,
	})
	req.True(ok)
	data, err = json.Marshal(frame)
	req.NoError(err)
	req.JSONEq(`{"type":"presence","data":{"participants":[{"id":"admin1","displayName":"Front Office","role":"staff","status":"online"}],"onlineCount":1}}`, string(data))
}

type passcodes map[string]string

func (p passcodes) PasscodeHash(participantID string) (string, error) {
	hash, ok := p[participantID]
	if !ok {
		return "", errors.ErrInvalidCredentials
	}
	return hash, nil
}

func newAuthGateway(t *testing.T) (*Gateway, *mocks.MockDirectory) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	tokens, err := auth.NewTokens(strings.Repeat("s", 32), time.Hour)
	require.NoError(t, err)
	hash, err := auth.HashPasscode("482913")
	require.NoError(t, err)
	directory := mocks.NewMockDirectory(gomock.NewController(t))
	g := New(log, transport.NewHub(log), directory, composer.NewPolicy(log), observability.NewChannelStats(log), Config{},
		WithAuth(tokens, passcodes{"parent1": hash}))
	return g, directory
}

func login(t *testing.T, g *Gateway, body string) *http.Response {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	resp, err := g.App().Test(r)
	require.NoError(t, err)
	return resp
}

func Test_Login_Issues_A_Token_For_The_Websocket(t *testing.T) {
	req := require.New(t)
	g, directory := newAuthGateway(t)
	mike := domain.Participant{ID: "parent1", DisplayName: "Mike Johnson", Role: domain.RoleParent, Status: domain.StatusOnline}
	directory.EXPECT().GetParticipant("parent1").Return(mike, nil)

	// When logging in with the right passcode
	resp := login(t, g, `{"participantId":"parent1","passcode":"482913"}`)

	// Then a token identifying the participant is returned
	req.Equal(http.StatusOK, resp.StatusCode)
	var body LoginResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Equal("Mike Johnson", body.Participant.DisplayName)
	participantID, err := g.tokens.Verify(body.Token)
	req.NoError(err)
	req.Equal("parent1", participantID)
}

func Test_Login_Refusals(t *testing.T) {
	g, _ := newAuthGateway(t)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"wrong passcode", `{"participantId":"parent1","passcode":"000000"}`, http.StatusUnauthorized},
		{"no passcode stored", `{"participantId":"parent2","passcode":"482913"}`, http.StatusUnauthorized},
		{"passcode too short", `{"participantId":"parent1","passcode":"12"}`, http.StatusBadRequest},
		{"not json", `participant=parent1`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.status, login(t, g, tt.body).StatusCode)
		})
	}
}

func Test_Websocket_Requires_A_Valid_Token_When_Auth_Is_Enabled(t *testing.T) {
	req := require.New(t)
	g, _ := newAuthGateway(t)

	resp, err := g.App().Test(upgradeRequest("/ws?participant=parent1"))
	req.NoError(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, err = g.App().Test(upgradeRequest("/ws?token=not-a-jwt"))
	req.NoError(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Login_Is_Absent_Without_Auth(t *testing.T) {
	req := require.New(t)
	g, _, _ := newGateway(t)

	resp := login(t, g, `{"participantId":"parent1","passcode":"482913"}`)

	req.Equal(http.StatusNotFound, resp.StatusCode)
}
