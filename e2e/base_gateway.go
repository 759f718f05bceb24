package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"school-pickup/composer"
	"school-pickup/domain"
	"school-pickup/infrastructure/gateway"
	"school-pickup/infrastructure/transport"
	"school-pickup/observability"
	"school-pickup/repositories"
	"school-pickup/services"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

// Received is a frame as read by a websocket participant.
type Received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type BaseGatewaySuite struct {
	suite.Suite
	Config  Config
	addr    string
	gateway *gateway.Gateway
}

// SetupSuite loads the environment configuration and starts a local gateway when none is given.
func (s *BaseGatewaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.GatewayAddr != "" {
		s.addr = s.Config.GatewayAddr
		return
	}

	log := logs.GetLoggerFromLevel(slog.LevelWarn)
	s.gateway = gateway.New(log, transport.NewHub(log), repositories.NewStaticDirectory(), composer.NewPolicy(log),
		observability.NewChannelStats(log), gateway.Config{
			PingPeriod: time.Second,
			Channel: services.ChannelConfig{
				ChannelID:       domain.DefaultChannelID,
				EventBufferSize: 256,
				OutboxSize:      64,
				SinkTimeout:     2 * time.Second,
				RestartInterval: 100 * time.Millisecond,
			},
		})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.addr = ln.Addr().String()
	go func() { _ = s.gateway.App().Listener(ln) }()
}

func (s *BaseGatewaySuite) TearDownSuite() {
	if s.gateway != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.gateway.Shutdown(ctx)
	}
}

// Join opens the websocket of one participant, closed at the end of the test.
func (s *BaseGatewaySuite) Join(name, participantID string) *websocket.Conn {
	header := fmt.Sprintf("  ====== %s joins as %s ======", name, participantID)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	url := fmt.Sprintf("ws://%s/ws?participant=%s", s.addr, participantID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err, "Failed to open websocket at "+url)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

// Expect reads frames until one of the given type satisfies match.
func (s *BaseGatewaySuite) Expect(conn *websocket.Conn, frameType string, match func(data json.RawMessage) bool) json.RawMessage {
	deadline := time.Now().Add(5 * time.Second)
	s.Require().NoError(conn.SetReadDeadline(deadline))
	for {
		var frame Received
		err := conn.ReadJSON(&frame)
		s.Require().NoError(err, "No %s frame before %s", frameType, deadline.Format(time.TimeOnly))
		if s.Config.DebugJSON {
			s.T().Logf("FRAME %s %s", frame.Type, frame.Data)
		}
		if frame.Type == frameType && (match == nil || match(frame.Data)) {
			return frame.Data
		}
	}
}
