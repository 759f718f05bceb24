package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"school-pickup/client"
	"school-pickup/contract"
	"school-pickup/internal"
	"school-pickup/repositories"
	"school-pickup/services"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ParticipantID string `envconfig:"PARTICIPANT_ID" required:"true"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"WARN"`
	ChannelID     string `envconfig:"CHANNEL_ID" default:"school-pickup-messages"`
	// TRANSPORT=memory gives a local echo channel, handy without a NATS server
	Transport         string        `envconfig:"TRANSPORT" default:"nats"`
	NatsURL           string        `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	NatsSubjectPrefix string        `envconfig:"NATS_SUBJECT_PREFIX" default:"pickup"`
	PresenceHeartbeat time.Duration `envconfig:"PRESENCE_HEARTBEAT" default:"10s"`
	PresenceTTL       time.Duration `envconfig:"PRESENCE_TTL" default:"30s"`
	MaxContentLength  int           `envconfig:"MAX_CONTENT_LENGTH" default:"1000"`
	// BADGER_FILEPATH reads the directory of a gateway, read-only; empty uses the default school
	BadgerFilepath string `envconfig:"BADGER_FILEPATH"`
	// COLOURS enables colorized output
	Colours bool `envconfig:"COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	shared := internal.Config{
		LogLevel:          config.LogLevel,
		ChannelID:         config.ChannelID,
		Transport:         config.Transport,
		NatsURL:           config.NatsURL,
		NatsSubjectPrefix: config.NatsSubjectPrefix,
		PresenceHeartbeat: config.PresenceHeartbeat,
		PresenceTTL:       config.PresenceTTL,
		EventBufferSize:   64,
		OutboxSize:        16,
		SinkTimeout:       time.Second,
		RestartInterval:   time.Second,
		MaxContentLength:  config.MaxContentLength,
		CharReplacement:   "*",
	}

	// 2. Directory
	directory, closeDirectory, err := openDirectory(config.BadgerFilepath)
	if err != nil {
		return exitRuntime, err
	}
	defer closeDirectory()
	self, err := directory.GetParticipant(config.ParticipantID)
	if err != nil {
		return exitConfig, fmt.Errorf("cannot join as %q: %w", config.ParticipantID, err)
	}

	// 3. Composer & Transport
	policy, err := internal.NewPolicy(log, shared)
	if err != nil {
		return exitRuntime, err
	}
	transport, release, err := internal.OpenTransport(log, shared, "school-pickup-client-"+self.ID)
	if err != nil {
		return exitRuntime, err
	}
	defer release()

	// 4. Channel session
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := client.NewPrinter(os.Stdout, config.Colours)
	service := services.NewChannelService(log, transport, directory, policy, self, internal.ChannelConfig(shared), printer)
	service.Start(ctx)
	defer func() {
		_ = service.Close(context.Background())
	}()
	if err = service.Connect(ctx); err != nil {
		return exitRuntime, err
	}
	printer.Info(fmt.Sprintf(">>> %s joined %s (/who, /quit)", self.DisplayName, config.ChannelID))

	// 5. Read drafts until quit
	if err = client.NewTerminal(service, printer, os.Stdin).Run(ctx); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

// openDirectory opens a gateway directory read-only, so it works while the gateway runs.
func openDirectory(path string) (contract.Directory, func(), error) {
	if path == "" {
		return repositories.NewStaticDirectory(), func() {}, nil
	}
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("directory opening failed: %w", err)
	}
	return repositories.NewDirectoryRepository(db, logs.GetLoggerFromString("ERROR")), func() { _ = db.Close() }, nil
}
