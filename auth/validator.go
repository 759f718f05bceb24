package auth

import (
	"fmt"
	"school-pickup/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type LoginRequest struct {
	ParticipantID string `json:"participantId" validate:"required,max=64"`
	Passcode      string `json:"passcode" validate:"required,min=6,max=72"`
}

func ValidateLogin(req LoginRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}
	return nil
}

// ValidatePasscode checks a passcode before it is hashed and stored.
func ValidatePasscode(passcode string) error {
	return validate.Var(passcode, "required,min=6,max=72")
}
