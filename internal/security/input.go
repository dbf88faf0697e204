// Package security validates free text that devices and users send in.
package security

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

var (
	ErrInputTooLarge     = errors.New("input exceeds maximum size")
	ErrNullByteDetected  = errors.New("null byte detected in input")
	ErrControlCharacter  = errors.New("control character in input")
	ErrRepetitiveContent = errors.New("excessive repetition detected")
	ErrInvalidUTF8       = errors.New("input is not valid UTF-8")
)

// Limits for the text fields pillpal stores.
const (
	MaxNameLength    = 100
	MaxMessageLength = 1000
)

type InputValidator struct {
	MaxLength     int // in runes
	MaxRepetition int
	AllowNewlines bool
}

// NewNameValidator covers user, device and pill names.
func NewNameValidator() *InputValidator {
	return &InputValidator{MaxLength: MaxNameLength, MaxRepetition: 20}
}

// NewMessageValidator covers dispenser notification bodies.
func NewMessageValidator() *InputValidator {
	return &InputValidator{MaxLength: MaxMessageLength, MaxRepetition: 100, AllowNewlines: true}
}

func (v *InputValidator) Validate(input string) error {
	if !utf8.ValidString(input) {
		return ErrInvalidUTF8
	}
	if v.MaxLength > 0 && utf8.RuneCountInString(input) > v.MaxLength {
		return ErrInputTooLarge
	}

	for _, r := range input {
		switch {
		case r == 0:
			return ErrNullByteDetected
		case r == '\t':
		case r == '\n' || r == '\r':
			if !v.AllowNewlines {
				return ErrControlCharacter
			}
		case unicode.IsControl(r):
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}
	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	var prev rune = -1
	consecutiveCount := 0
	for _, r := range input {
		if r == prev {
			consecutiveCount++
			if consecutiveCount > maxLen {
				return true
			}
		} else {
			prev = r
			consecutiveCount = 1
		}
	}

	return false
}

// ValidateName rejects a name field as GEN_002.
func ValidateName(field, value string) error {
	return asBadRequest(field, NewNameValidator().Validate(value))
}

// ValidateMessage rejects a message body as GEN_002.
func ValidateMessage(field, value string) error {
	return asBadRequest(field, NewMessageValidator().Validate(value))
}

func asBadRequest(field string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.ErrBadRequest.WithCause(fmt.Errorf("%s: %w", field, err))
}
