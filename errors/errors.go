package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Envelope and composer validation
	ErrMalformedMessage  = fmt.Errorf("malformed message")
	ErrPublishRejected   = fmt.Errorf("publish rejected")
	ErrInvalidReference  = fmt.Errorf("invalid reference")
	ErrInvalidDraft      = fmt.Errorf("invalid draft")
	ErrDuplicateEnvelope = fmt.Errorf("envelope already in log")

	// Session lifecycle
	ErrTransport          = fmt.Errorf("transport error")
	ErrMissingIdentity    = fmt.Errorf("participant identity is required before connecting")
	ErrAlreadyConnected   = fmt.Errorf("session already connecting or subscribed")
	ErrOutboxFull         = fmt.Errorf("outbox full")
	ErrLogFrozen          = fmt.Errorf("message log is frozen")
	ErrUnknownParticipant = fmt.Errorf("unknown participant")
	ErrEmptyWords         = fmt.Errorf("no words have been found")

	// Gateway authentication
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidToken       = fmt.Errorf("invalid or expired token")
	ErrWeakSecret         = fmt.Errorf("token secret must be at least 32 bytes")
)
