package internal

import (
	"fmt"
	"time"
)

// Config is shared by every binary; each one only reads what it needs.
type Config struct {
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	ChannelID         string        `env:"CHANNEL_ID,default=school-pickup-messages"`
	Transport         string        `env:"TRANSPORT,default=memory"`
	NatsURL           string        `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	NatsSubjectPrefix string        `env:"NATS_SUBJECT_PREFIX,default=pickup"`
	PresenceHeartbeat time.Duration `env:"PRESENCE_HEARTBEAT,default=10s"`
	PresenceTTL       time.Duration `env:"PRESENCE_TTL,default=30s"`
	EventBufferSize   int           `env:"EVENT_BUFFER_SIZE,default=256"`
	OutboxSize        int           `env:"OUTBOX_SIZE,default=64"`
	SinkTimeout       time.Duration `env:"SINK_TIMEOUT,default=2s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MaxContentLength  int           `env:"MAX_CONTENT_LENGTH,default=1000"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
	WriteWait         time.Duration `env:"WRITE_WAIT,default=10s"`
	PingPeriod        time.Duration `env:"PING_PERIOD,default=30s"`
	SeedDirectory     bool          `env:"SEED_DIRECTORY,default=true"`
	DisableModeration bool          `env:"DISABLE_MODERATION,default=false"`
	ReportInterval    time.Duration `env:"REPORT_INTERVAL,default=1m"`
	// AUTH_SECRET enables POST /login and token-only websockets when set
	AuthSecret   string        `env:"AUTH_SECRET"`
	AuthTokenTTL time.Duration `env:"AUTH_TOKEN_TTL,default=12h"`
}

// CharacterRune reads CHARACTER_REPLACEMENT as a single rune.
func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}
