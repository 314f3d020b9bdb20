// Package phone canonicalizes Nigerian mobile numbers to E.164.
package phone

import (
	"fmt"
	"strings"

	"github.com/sabi-money/sabi-server/internal/model"
)

const countryCode = "234"

// Canonicalize parses a raw Nigerian phone number and returns its E.164 form
// (+234...). Accepted inputs: "0801...", "234801...", "+234801...".
// Returns model.ErrInvalidInput for anything else.
func Canonicalize(raw string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(s, "+"+countryCode):
		s = s[len(countryCode)+1:]
	case strings.HasPrefix(s, countryCode):
		s = s[len(countryCode):]
	case strings.HasPrefix(s, "0"):
		s = s[1:]
	default:
		return "", fmt.Errorf("%w: phone number %q has no recognized prefix", model.ErrInvalidInput, raw)
	}

	// National significant number: 10 digits starting with 7, 8 or 9.
	if len(s) != 10 {
		return "", fmt.Errorf("%w: phone number %q has wrong length", model.ErrInvalidInput, raw)
	}
	if s[0] != '7' && s[0] != '8' && s[0] != '9' {
		return "", fmt.Errorf("%w: phone number %q is not a Nigerian mobile number", model.ErrInvalidInput, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: phone number %q contains non-digits", model.ErrInvalidInput, raw)
		}
	}

	return "+" + countryCode + s, nil
}
