// Package gateway exposes channel sessions to browsers over websockets.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"school-pickup/auth"
	"school-pickup/composer"
	"school-pickup/contract"
	"school-pickup/domain"
	"school-pickup/errors"
	"school-pickup/observability"
	"school-pickup/services"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Config struct {
	WriteWait      time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	OutboundSize   int
	Channel        services.ChannelConfig
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 30 * time.Second
	}
	if c.PongWait <= c.PingPeriod {
		c.PongWait = c.PingPeriod * 10 / 9
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.OutboundSize <= 0 {
		c.OutboundSize = 256
	}
	return c
}

// Credentials gives access to stored passcode hashes.
type Credentials interface {
	PasscodeHash(participantID string) (string, error)
}

type Option func(*Gateway)

// WithAuth requires a token issued by POST /login to open a websocket.
func WithAuth(tokens *auth.Tokens, credentials Credentials) Option {
	return func(g *Gateway) {
		g.tokens = tokens
		g.credentials = credentials
	}
}

// Gateway opens one channel session per websocket connection. The participant
// is resolved from the directory with the "participant" query parameter, or
// from the "token" query parameter when authentication is enabled.
type Gateway struct {
	log         *slog.Logger
	transport   contract.Transport
	directory   contract.Directory
	policy      *composer.Policy
	stats       *observability.ChannelStats
	tokens      *auth.Tokens
	credentials Credentials
	cfg         Config
	app         *fiber.App
}

func New(log *slog.Logger, transport contract.Transport, directory contract.Directory,
	policy *composer.Policy, stats *observability.ChannelStats, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		log:       log,
		transport: transport,
		directory: directory,
		policy:    policy,
		stats:     stats,
		cfg:       cfg.withDefaults(),
		app:       fiber.New(fiber.Config{DisableStartupMessage: true}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.routes()
	return g
}

type LoginResponse struct {
	Token       string          `json:"token"`
	Participant ParticipantView `json:"participant"`
}

func (g *Gateway) routes() {
	g.app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(g.stats.GetLatest())
	})
	if g.tokens != nil {
		g.app.Post("/login", g.login)
	}
	g.app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		participantID, err := g.identify(c)
		if err != nil {
			return err
		}
		participant, err := g.directory.GetParticipant(participantID)
		if err != nil {
			return fiber.NewError(fiber.StatusForbidden, err.Error())
		}
		c.Locals("participant", participant)
		return c.Next()
	})
	g.app.Get("/ws", websocket.New(g.handle))
}

func (g *Gateway) identify(c *fiber.Ctx) (string, error) {
	if g.tokens == nil {
		participantID := c.Query("participant")
		if participantID == "" {
			return "", fiber.NewError(fiber.StatusBadRequest, "missing participant")
		}
		return participantID, nil
	}
	token := c.Query("token")
	if token == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing token")
	}
	participantID, err := g.tokens.Verify(token)
	if err != nil {
		return "", fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}
	return participantID, nil
}

// login exchanges a participant passcode for a websocket token.
func (g *Gateway) login(c *fiber.Ctx) error {
	var req auth.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := auth.ValidateLogin(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	// Same answer for unknown participants and wrong passcodes.
	hash, err := g.credentials.PasscodeHash(req.ParticipantID)
	if err != nil {
		g.log.Debug("Login without passcode", "participant", req.ParticipantID, "error", err)
		return fiber.NewError(fiber.StatusUnauthorized, errors.ErrInvalidCredentials.Error())
	}
	if err = auth.VerifyPasscode(req.Passcode, hash); err != nil {
		g.log.Info("Login refused", "participant", req.ParticipantID)
		return fiber.NewError(fiber.StatusUnauthorized, errors.ErrInvalidCredentials.Error())
	}
	participant, err := g.directory.GetParticipant(req.ParticipantID)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, errors.ErrInvalidCredentials.Error())
	}
	token, err := g.tokens.Issue(participant)
	if err != nil {
		return err
	}
	g.log.Info("Participant logged in", "participant", participant.ID)
	return c.JSON(LoginResponse{Token: token, Participant: toParticipantView(participant)})
}

func (g *Gateway) App() *fiber.App {
	return g.app
}

func (g *Gateway) Listen(addr string) error {
	g.log.Info("Gateway listening", "addr", addr)
	return g.app.Listen(addr)
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.app.ShutdownWithContext(ctx)
}

// handle runs for the lifetime of one websocket connection.
func (g *Gateway) handle(conn *websocket.Conn) {
	participant, ok := conn.Locals("participant").(domain.Participant)
	if !ok {
		_ = conn.WriteJSON(errorFrame(fmt.Errorf("no participant resolved")))
		return
	}
	connectionID := uuid.NewString()
	log := g.log.With("connection", connectionID, "participant", participant.ID)

	service := services.NewChannelService(log, g.transport, g.directory, g.policy, participant, g.cfg.Channel, g.stats)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	c := newClient(log, conn, service, g.cfg)
	service.Listen(connectionID, c)
	defer func() {
		service.Unlisten(connectionID)
		if err := service.Close(context.Background()); err != nil {
			log.Warn("Session did not close cleanly", "error", err)
		}
		log.Info("Websocket client gone")
	}()

	if err := service.Connect(ctx); err != nil {
		log.Error("Cannot connect session", "error", err)
		_ = conn.WriteJSON(errorFrame(err))
		return
	}
	log.Info("Websocket client connected")

	c.run()
}
