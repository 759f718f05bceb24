package services

import (
	"context"
	"log/slog"
	"school-pickup/composer"
	"school-pickup/contract"
	"school-pickup/domain"
	"school-pickup/runtime"
	"school-pickup/runtime/workers"
	"time"
)

// IChannelService is everything a display layer needs: read-only snapshots,
// sending drafts and listening to session events.
type IChannelService interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(draft domain.Draft) (domain.MessageEnvelope, error)
	Messages() []domain.MessageEnvelope
	Presence() []domain.Participant
	OnlineCount() int
	State() domain.ConnectionState
	Self() domain.Participant
	Listen(listenerID string, sink contract.EventSink)
	Unlisten(listenerID string)
}

type ChannelConfig struct {
	ChannelID       string
	EventBufferSize int
	OutboxSize      int
	SinkTimeout     time.Duration
	RestartInterval time.Duration
}

// ChannelService wires one participant's session to its event pipeline,
// the composer policy and the directory.
type ChannelService struct {
	log          *slog.Logger
	session      *runtime.Session
	orchestrator *runtime.Orchestrator
	policy       *composer.Policy
	directory    contract.Directory
}

func NewChannelService(log *slog.Logger, transport contract.Transport, directory contract.Directory,
	policy *composer.Policy, self domain.Participant, cfg ChannelConfig, sinks ...contract.EventSink) *ChannelService {
	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, cfg.RestartInterval),
		runtime.NewRegistry(), cfg.EventBufferSize, cfg.SinkTimeout)
	orchestrator.Add(sinks...)
	session := runtime.NewSession(log, transport, self, orchestrator.Events(), runtime.SessionConfig{
		ChannelID:       cfg.ChannelID,
		OutboxSize:      cfg.OutboxSize,
		RestartInterval: cfg.RestartInterval,
	})
	return &ChannelService{
		log:          log,
		session:      session,
		orchestrator: orchestrator,
		policy:       policy,
		directory:    directory,
	}
}

// Start runs the event pipeline in the background until Close or ctx is done.
func (s *ChannelService) Start(ctx context.Context) {
	go s.orchestrator.Start(ctx)
}

// Close disconnects the session and stops the event pipeline.
func (s *ChannelService) Close(ctx context.Context) error {
	err := s.session.Disconnect(ctx)
	s.orchestrator.Stop()
	return err
}

func (s *ChannelService) Connect(ctx context.Context) error {
	return s.session.Connect(ctx)
}

func (s *ChannelService) Disconnect(ctx context.Context) error {
	return s.session.Disconnect(ctx)
}

// Send validates the draft against the directory and publishes it.
// The returned envelope is already visible in Messages as provisional.
func (s *ChannelService) Send(draft domain.Draft) (domain.MessageEnvelope, error) {
	rules, err := s.directory.ContextRules()
	if err != nil {
		return domain.MessageEnvelope{}, err
	}
	envelope, err := s.policy.Prepare(s.session.Self(), draft, rules)
	if err != nil {
		s.log.Debug("Draft refused", "error", err)
		return domain.MessageEnvelope{}, err
	}
	if err = s.session.Publish(envelope); err != nil {
		return domain.MessageEnvelope{}, err
	}
	return envelope, nil
}

func (s *ChannelService) Messages() []domain.MessageEnvelope {
	return s.session.Messages()
}

func (s *ChannelService) Presence() []domain.Participant {
	return s.session.Presence()
}

func (s *ChannelService) OnlineCount() int {
	return s.session.OnlineCount()
}

func (s *ChannelService) State() domain.ConnectionState {
	return s.session.State()
}

func (s *ChannelService) Self() domain.Participant {
	return s.session.Self()
}

func (s *ChannelService) Listen(listenerID string, sink contract.EventSink) {
	s.orchestrator.RegisterListener(listenerID, sink)
}

func (s *ChannelService) Unlisten(listenerID string) {
	s.orchestrator.UnregisterListener(listenerID)
}
