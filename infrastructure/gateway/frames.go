package gateway

import (
	"school-pickup/domain"
	"school-pickup/domain/event"

	"github.com/samber/lo"
)

const (
	FrameMessageAppended  = "message_appended"
	FrameMessageConfirmed = "message_confirmed"
	FramePresence         = "presence"
	FrameState            = "state"
	FrameAnomaly          = "anomaly"
	FrameError            = "error"
)

// Frame is one JSON object written to the websocket.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type MessageView struct {
	domain.MessagePayload
	Origin string `json:"origin"`
}

type MessageFrame struct {
	Position int         `json:"position"`
	Message  MessageView `json:"message"`
}

type ParticipantView struct {
	ID string `json:"id"`
	domain.SenderMetadata
}

type PresenceFrame struct {
	Participants []ParticipantView `json:"participants"`
	OnlineCount  int               `json:"onlineCount"`
}

type StateFrame struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Cause string `json:"cause,omitempty"`
}

type AnomalyFrame struct {
	Kind      string `json:"kind"`
	MessageID string `json:"messageId,omitempty"`
	Detail    string `json:"detail"`
}

type ErrorFrame struct {
	Error string `json:"error"`
}

func errorFrame(err error) Frame {
	return Frame{Type: FrameError, Data: ErrorFrame{Error: err.Error()}}
}

func toParticipantView(p domain.Participant) ParticipantView {
	return ParticipantView{ID: p.ID, SenderMetadata: p.Metadata()}
}

func messageView(m domain.MessageEnvelope) MessageView {
	return MessageView{MessagePayload: domain.ToPayload(m), Origin: string(m.Origin)}
}

// FrameFor maps a session event to its websocket frame.
func FrameFor(e event.DomainEvent) (Frame, bool) {
	switch evt := e.(type) {
	case event.MessageAppended:
		return Frame{Type: FrameMessageAppended, Data: MessageFrame{Position: evt.Position, Message: messageView(evt.Envelope)}}, true
	case event.MessageConfirmed:
		return Frame{Type: FrameMessageConfirmed, Data: MessageFrame{Position: evt.Position, Message: messageView(evt.Envelope)}}, true
	case event.PresenceChanged:
		return Frame{Type: FramePresence, Data: PresenceFrame{
			Participants: lo.Map(evt.Participants, func(p domain.Participant, _ int) ParticipantView {
				return toParticipantView(p)
			}),
			OnlineCount: evt.OnlineCount,
		}}, true
	case event.ConnectionStateChanged:
		state := StateFrame{From: evt.From.String(), To: evt.To.String()}
		if evt.Cause != nil {
			state.Cause = evt.Cause.Error()
		}
		return Frame{Type: FrameState, Data: state}, true
	case event.AnomalyDetected:
		return Frame{Type: FrameAnomaly, Data: AnomalyFrame{Kind: string(evt.Kind), MessageID: evt.MessageID, Detail: evt.Detail}}, true
	default:
		return Frame{}, false
	}
}
