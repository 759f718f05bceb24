// Package client is a line-oriented terminal front end for a channel service.
//
// A line is sent as a draft. Leading tokens tag it:
//
//	/pickup /location /emergency /broadcast   message type
//	!low !high !emergency                      priority
//	#<child id>                                child reference
//	@<location id>                             pickup location
//
// "/who" lists online participants and "/quit" leaves.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"school-pickup/domain"
	"school-pickup/services"
	"strings"

	"github.com/samber/lo"
)

var typeShortcuts = map[string]domain.MessageType{
	"/pickup":    domain.MessageTypePickupRequest,
	"/location":  domain.MessageTypeLocationUpdate,
	"/emergency": domain.MessageTypeEmergency,
	"/broadcast": domain.MessageTypeBroadcast,
}

type Command int

const (
	CommandSend Command = iota
	CommandWho
	CommandQuit
	CommandNone
)

// ParseLine turns an input line into a command and, for CommandSend, a draft.
// Unknown slash tokens are kept as content.
func ParseLine(line string) (Command, domain.Draft) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandNone, domain.Draft{}
	}
	switch fields[0] {
	case "/quit", "/exit":
		return CommandQuit, domain.Draft{}
	case "/who":
		return CommandWho, domain.Draft{}
	}

	var draft domain.Draft
	i := 0
	for ; i < len(fields); i++ {
		token := fields[i]
		if messageType, ok := typeShortcuts[token]; ok {
			draft.MessageType = string(messageType)
			continue
		}
		if len(token) < 2 {
			break
		}
		value := token[1:]
		if token[0] == '!' {
			if priority, ok := domain.ParsePriority(value); ok {
				draft.Priority = string(priority)
				continue
			}
			break
		}
		if token[0] == '#' {
			draft.ChildRef = lo.ToPtr(value)
			continue
		}
		if token[0] == '@' {
			draft.LocationRef = lo.ToPtr(value)
			continue
		}
		break
	}
	draft.Content = strings.Join(fields[i:], " ")
	return CommandSend, draft
}

// Terminal reads drafts from in and reports failures on the printer.
// Session events reach the printer through the service listener.
type Terminal struct {
	service services.IChannelService
	printer *Printer
	in      io.Reader
}

func NewTerminal(service services.IChannelService, printer *Printer, in io.Reader) *Terminal {
	return &Terminal{service: service, printer: printer, in: in}
}

// Run returns on "/quit", at the end of input or when ctx is done.
func (t *Terminal) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			command, draft := ParseLine(line)
			switch command {
			case CommandQuit:
				return nil
			case CommandWho:
				t.who()
			case CommandSend:
				if _, err := t.service.Send(draft); err != nil {
					t.printer.Error(err)
				}
			}
		}
	}
}

func (t *Terminal) who() {
	names := lo.Map(t.service.Presence(), func(p domain.Participant, _ int) string {
		return fmt.Sprintf("%s (%s, %s)", p.DisplayName, p.Role, p.Status)
	})
	t.printer.Info(fmt.Sprintf("-- %d online: %s", t.service.OnlineCount(), strings.Join(names, ", ")))
}
