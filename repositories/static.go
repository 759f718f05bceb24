package repositories

import (
	"fmt"
	"school-pickup/domain"
	"school-pickup/errors"

	"github.com/samber/lo"
)

// StaticDirectory serves the default school directory from memory.
// Used by processes that cannot hold the BadgerDB lock, like the terminal client.
type StaticDirectory struct {
	participants map[string]domain.Participant
	rules        domain.ContextRules
}

func NewStaticDirectory() StaticDirectory {
	return StaticDirectory{
		participants: lo.KeyBy(DefaultParticipants(), func(p domain.Participant) string { return p.ID }),
		rules:        domain.ContextRulesFrom(DefaultChildren(), DefaultLocations()),
	}
}

func (d StaticDirectory) GetParticipant(id string) (domain.Participant, error) {
	p, ok := d.participants[id]
	if !ok {
		return domain.Participant{}, fmt.Errorf("%w: %s", errors.ErrUnknownParticipant, id)
	}
	return p, nil
}

func (d StaticDirectory) ContextRules() (domain.ContextRules, error) {
	return d.rules, nil
}
