package internal

import (
	"fmt"
	"log/slog"
	"school-pickup/composer"
	"school-pickup/contract"
	"school-pickup/infrastructure/transport"
	"school-pickup/moderation"
	"school-pickup/services"
	"strings"
)

const (
	TransportMemory = "memory"
	TransportNats   = "nats"
)

// NewPolicy builds the composer policy, with profanity masking unless disabled.
func NewPolicy(log *slog.Logger, config Config) (*composer.Policy, error) {
	opts := []composer.Option{composer.WithMaxContentLength(config.MaxContentLength)}
	if config.DisableModeration {
		return composer.NewPolicy(log, opts...), nil
	}

	charReplacement, err := config.CharacterRune()
	if err != nil {
		return nil, err
	}
	blacklist, err := moderation.LoadEmbedded()
	if err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(blacklist.Languages), strings.Join(blacklist.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(blacklist.Words)))

	moderator, err := moderation.NewModerator(blacklist.Words, charReplacement, log)
	if err != nil {
		return nil, err
	}
	return composer.NewPolicy(log, append(opts, composer.WithCensor(moderator))...), nil
}

// OpenTransport returns the configured transport and the function releasing it.
func OpenTransport(log *slog.Logger, config Config, clientName string) (contract.Transport, func(), error) {
	switch config.Transport {
	case TransportMemory:
		return transport.NewHub(log), func() {}, nil
	case TransportNats:
		nt, err := transport.ConnectNats(config.NatsURL, clientName, log, transport.NatsConfig{
			SubjectPrefix: config.NatsSubjectPrefix,
			Heartbeat:     config.PresenceHeartbeat,
			TTL:           config.PresenceTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return nt, nt.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown TRANSPORT %q, expected %s or %s", config.Transport, TransportMemory, TransportNats)
	}
}

func ChannelConfig(config Config) services.ChannelConfig {
	return services.ChannelConfig{
		ChannelID:       config.ChannelID,
		EventBufferSize: config.EventBufferSize,
		OutboxSize:      config.OutboxSize,
		SinkTimeout:     config.SinkTimeout,
		RestartInterval: config.RestartInterval,
	}
}
