// Package composer turns a participant's draft into a ready-to-publish envelope.
// It validates and classifies, it never publishes.
package composer

import (
	"fmt"
	"log/slog"
	"school-pickup/domain"
	"school-pickup/errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Censor masks forbidden words and returns the matches.
type Censor interface {
	Censor(original string) (string, []string)
}

type Option func(*Policy)

func WithCensor(c Censor) Option {
	return func(p *Policy) { p.censor = c }
}

// WithMaxContentLength caps the content length in runes. Zero disables the cap.
func WithMaxContentLength(n int) Option {
	return func(p *Policy) { p.maxContentLength = n }
}

func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

type Policy struct {
	log              *slog.Logger
	validate         *validator.Validate
	censor           Censor
	maxContentLength int
	now              func() time.Time

	mu        sync.Mutex
	lastStamp map[string]time.Time // sender ID -> last timestamp handed out
}

func NewPolicy(log *slog.Logger, opts ...Option) *Policy {
	p := &Policy{
		log:       log,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
		lastStamp: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare validates a draft against the context rules and builds a local-provisional envelope.
//
// Message type and priority default to general and normal but must belong to the
// taxonomy when set (ErrInvalidDraft). Child and location tags are optional; when present
// they must name an entry of rules (ErrInvalidReference), a dangling tag is never silently
// dropped. Content must not be blank (ErrPublishRejected).
func (p *Policy) Prepare(sender domain.Participant, draft domain.Draft, rules domain.ContextRules) (domain.MessageEnvelope, error) {
	if strings.TrimSpace(sender.ID) == "" {
		return domain.MessageEnvelope{}, errors.ErrMissingIdentity
	}
	if err := p.validate.Struct(draft); err != nil {
		return domain.MessageEnvelope{}, fmt.Errorf("%w: %v", errors.ErrInvalidDraft, err)
	}
	// Tags are checked first so a dangling reference is reported even on an unfinished draft.
	if err := checkReferences(draft, rules); err != nil {
		return domain.MessageEnvelope{}, err
	}
	if strings.TrimSpace(draft.Content) == "" {
		return domain.MessageEnvelope{}, fmt.Errorf("%w: content is empty", errors.ErrPublishRejected)
	}
	if p.maxContentLength > 0 && utf8.RuneCountInString(draft.Content) > p.maxContentLength {
		return domain.MessageEnvelope{}, fmt.Errorf("%w: content exceeds %d characters",
			errors.ErrPublishRejected, p.maxContentLength)
	}

	if p.censor != nil {
		censored, words := p.censor.Censor(draft.Content)
		if len(words) > 0 {
			p.log.Info("Draft content masked", "sender", sender.ID, "matches", len(words))
		}
		draft.Content = censored
	}

	return domain.NewLocalEnvelope(draft, sender, p.stamp(sender.ID)), nil
}

func checkReferences(draft domain.Draft, rules domain.ContextRules) error {
	if ref := trimmedRef(draft.ChildRef); ref != "" && !rules.HasChild(ref) {
		return fmt.Errorf("%w: unknown child %q", errors.ErrInvalidReference, ref)
	}
	if ref := trimmedRef(draft.LocationRef); ref != "" && !rules.HasLocation(ref) {
		return fmt.Errorf("%w: unknown pickup location %q", errors.ErrInvalidReference, ref)
	}
	return nil
}

func trimmedRef(ref *string) string {
	if ref == nil {
		return ""
	}
	return strings.TrimSpace(*ref)
}

// stamp keeps timestamps non-decreasing per sender even if the wall clock steps back.
func (p *Policy) stamp(senderID string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if last, ok := p.lastStamp[senderID]; ok && now.Before(last) {
		now = last
	}
	p.lastStamp[senderID] = now
	return now
}
