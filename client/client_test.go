package client

import (
	"bytes"
	"context"
	"log/slog"
	"school-pickup/composer"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"school-pickup/infrastructure/transport"
	"school-pickup/repositories"
	"school-pickup/services"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		command Command
		draft   domain.Draft
	}{
		{name: "blank line", line: "   ", command: CommandNone},
		{name: "quit", line: "/quit", command: CommandQuit},
		{name: "who", line: " /who ", command: CommandWho},
		{name: "plain text", line: "Running 5 min late", command: CommandSend,
			draft: domain.Draft{Content: "Running 5 min late"}},
		{name: "tagged pickup", line: "/pickup !high #1 @front Picking up Emma", command: CommandSend,
			draft: domain.Draft{Content: "Picking up Emma", MessageType: "pickup_request", Priority: "high",
				ChildRef: lo.ToPtr("1"), LocationRef: lo.ToPtr("front")}},
		{name: "unknown priority stays in content", line: "!urgent come now", command: CommandSend,
			draft: domain.Draft{Content: "!urgent come now"}},
		{name: "tags only", line: "/location @side", command: CommandSend,
			draft: domain.Draft{MessageType: "location_update", LocationRef: lo.ToPtr("side")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			command, draft := ParseLine(tt.line)
			req.Equal(tt.command, command)
			req.Equal(tt.draft, draft)
		})
	}
}

func TestPrinter_Renders_Events_Without_Colours(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	printer := NewPrinter(&out, false)
	at := time.Date(2025, 3, 1, 15, 4, 5, 0, time.Local)

	// Given a staff emergency and a presence update
	_ = printer.Consume(context.Background(), event.MessageAppended{Envelope: domain.MessageEnvelope{
		ID: "abcdef123456", SenderName: "Front Office", SenderRole: domain.RoleStaff,
		Content: "Lockdown drill", MessageType: domain.MessageTypeEmergency, Priority: domain.PriorityEmergency,
		LocationRef: lo.ToPtr("gym"), Timestamp: at, Origin: domain.OriginConfirmed,
	}})
	_ = printer.Consume(context.Background(), event.PresenceChanged{
		Participants: []domain.Participant{{ID: "parent1", DisplayName: "Mike Johnson", Status: domain.StatusOnline}},
		OnlineCount:  1,
	})
	_ = printer.Consume(context.Background(), event.AnomalyDetected{Kind: event.MalformedPayload, MessageID: "abcdef123456", Detail: "missing id"})

	// Then every event is one readable line
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	req.Len(lines, 3)
	req.Equal("[15:04:05] Front Office [staff] (emergency @gym): Lockdown drill", lines[0])
	req.Equal("-- 1 online: Mike Johnson (online)", lines[1])
	req.Equal("!! MALFORMED_PAYLOAD abcdef12 missing id", lines[2])
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTerminal_Sends_Lines_Until_Quit(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := repositories.NewStaticDirectory()
	self, err := directory.GetParticipant("parent1")
	req.NoError(err)

	out := &lockedBuffer{}
	printer := NewPrinter(out, false)
	service := services.NewChannelService(log, transport.NewHub(log), directory, composer.NewPolicy(log), self,
		services.ChannelConfig{EventBufferSize: 32, OutboxSize: 8, SinkTimeout: time.Second, RestartInterval: 10 * time.Millisecond},
		printer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)
	req.NoError(service.Connect(ctx))
	req.Eventually(func() bool { return service.State() == domain.Subscribed }, time.Second, 5*time.Millisecond)

	// Given a valid draft, a draft with an unknown child and a quit
	in := strings.NewReader("/pickup #1 @front Picking up Emma\n#42 who is this\n/quit\nnever sent\n")

	// When the terminal runs
	req.NoError(NewTerminal(service, printer, in).Run(ctx))

	// Then only the valid draft reaches the channel and the refusal is printed
	req.Eventually(func() bool {
		messages := service.Messages()
		return len(messages) == 1 && !messages[0].IsProvisional()
	}, time.Second, 5*time.Millisecond)
	req.Equal("Picking up Emma", service.Messages()[0].Content)
	req.Contains(out.String(), "!! ")
	req.NoError(service.Close(context.Background()))
}
