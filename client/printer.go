package client

import (
	"context"
	"fmt"
	"io"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/samber/lo"
)

var (
	staffStyle     = color.New(color.FgCyan, color.OpBold)
	parentStyle    = color.New(color.FgGreen)
	highStyle      = color.New(color.FgYellow, color.OpBold)
	emergencyStyle = color.New(color.BgRed, color.FgWhite, color.OpBold)
	mutedStyle     = color.New(color.FgGray)
	warnStyle      = color.New(color.FgMagenta)
)

// Printer renders session events as terminal lines. It is an event sink.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	colours bool
}

func NewPrinter(out io.Writer, colours bool) *Printer {
	return &Printer{out: out, colours: colours}
}

func (p *Printer) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageAppended:
		p.println(p.message(evt.Envelope))
	case event.MessageConfirmed:
		p.println(p.paint(mutedStyle, fmt.Sprintf("  ✓ delivered %s", shortID(evt.Envelope.ID))))
	case event.PresenceChanged:
		names := lo.Map(evt.Participants, func(x domain.Participant, _ int) string {
			return fmt.Sprintf("%s (%s)", x.DisplayName, x.Status)
		})
		p.println(p.paint(mutedStyle, fmt.Sprintf("-- %d online: %s", evt.OnlineCount, strings.Join(names, ", "))))
	case event.ConnectionStateChanged:
		line := fmt.Sprintf("-- %s -> %s", evt.From, evt.To)
		if evt.Cause != nil {
			line += fmt.Sprintf(" (%v)", evt.Cause)
		}
		p.println(p.paint(mutedStyle, line))
	case event.AnomalyDetected:
		p.println(p.paint(warnStyle, fmt.Sprintf("!! %s %s %s", evt.Kind, shortID(evt.MessageID), evt.Detail)))
	}
	return nil
}

// Error reports a refused draft or a failed command.
func (p *Printer) Error(err error) {
	p.println(p.paint(warnStyle, "!! "+err.Error()))
}

func (p *Printer) Info(line string) {
	p.println(p.paint(mutedStyle, line))
}

func (p *Printer) message(m domain.MessageEnvelope) string {
	sender := p.paint(parentStyle, m.SenderName)
	if m.SenderRole == domain.RoleStaff {
		sender = p.paint(staffStyle, m.SenderName+" [staff]")
	}

	var tags []string
	if m.MessageType != domain.MessageTypeGeneral {
		tags = append(tags, string(m.MessageType))
	}
	if m.ChildRef != nil {
		tags = append(tags, "#"+*m.ChildRef)
	}
	if m.LocationRef != nil {
		tags = append(tags, "@"+*m.LocationRef)
	}

	content := m.Content
	switch m.Priority {
	case domain.PriorityEmergency:
		content = p.paint(emergencyStyle, content)
	case domain.PriorityHigh:
		content = p.paint(highStyle, content)
	}

	line := fmt.Sprintf("[%s] %s", m.Timestamp.Local().Format(time.TimeOnly), sender)
	if len(tags) > 0 {
		line += " " + p.paint(mutedStyle, "("+strings.Join(tags, " ")+")")
	}
	line += ": " + content
	if m.IsProvisional() {
		line += p.paint(mutedStyle, " …")
	}
	return line
}

func (p *Printer) paint(style color.Style, s string) string {
	if !p.colours {
		return s
	}
	return style.Render(s)
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
