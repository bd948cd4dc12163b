package mms

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nemomobile/mms/parts"
)

// MessageLimits holds all message validation limits.
// Used to pass limits to validation functions.
type MessageLimits struct {
	MaxSubjectLength int
	MaxPartCount     int
}

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength: DefaultMaxSubjectLength,
		MaxPartCount:     DefaultMaxPartCount,
	}
}

// ValidateSubject validates a message subject using default limits.
// For configurable limits, use ValidateSubjectWithLimits.
func ValidateSubject(subject string) error {
	return ValidateSubjectWithLimits(subject, DefaultLimits())
}

// ValidateSubjectWithLimits validates a message subject against configurable
// limits. An empty subject is valid; MMS does not require one.
func ValidateSubjectWithLimits(subject string, limits MessageLimits) error {
	if subject == "" {
		return nil
	}

	if len(subject) > limits.MaxSubjectLength {
		return fmt.Errorf("%w: subject length %d exceeds max %d", ErrSubjectTooLong, len(subject), limits.MaxSubjectLength)
	}

	// Check for valid UTF-8 and no control characters
	if !utf8.ValidString(subject) {
		return fmt.Errorf("%w: subject contains invalid UTF-8", ErrInvalidContent)
	}

	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' {
			return fmt.Errorf("%w: subject contains control character U+%04X", ErrInvalidContent, r)
		}
	}

	return nil
}

// ValidateRecipients validates the combined recipient lists of a send
// request. Exactly one recipient is accepted across to, cc and bcc; group
// conversations are rejected outright rather than silently degraded.
func ValidateRecipients(to, cc, bcc []string) error {
	total := len(to) + len(cc) + len(bcc)
	if total == 0 {
		return ErrNoRecipients
	}
	if total > 1 {
		return ErrGroupMMSNotSupported
	}

	for _, list := range [][]string{to, cc, bcc} {
		for _, addr := range list {
			if strings.TrimSpace(addr) == "" {
				return fmt.Errorf("%w: empty recipient", ErrInvalidAddress)
			}
		}
	}

	return nil
}

// ValidateSources validates the content part sources of a send request.
func ValidateSources(sources []parts.Source, limits MessageLimits) error {
	if len(sources) == 0 {
		return ErrNoParts
	}
	if len(sources) > limits.MaxPartCount {
		return fmt.Errorf("%w: part count %d exceeds max %d", ErrTooManyParts, len(sources), limits.MaxPartCount)
	}

	for i, src := range sources {
		if strings.TrimSpace(src.Path) == "" {
			return fmt.Errorf("%w: part %d has no path", ErrInvalidSource, i)
		}
	}

	return nil
}

// validateSendRequest performs full validation of a send request before any
// record is created.
func validateSendRequest(to, cc, bcc []string, subject string, sources []parts.Source, limits MessageLimits) error {
	if err := ValidateRecipients(to, cc, bcc); err != nil {
		return err
	}
	if err := ValidateSubjectWithLimits(subject, limits); err != nil {
		return err
	}
	return ValidateSources(sources, limits)
}
