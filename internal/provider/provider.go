package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned when a provider name is not recognised.
var ErrUnknown = errors.New("unknown calendar provider")

// Provider identifies an external calendar service.
type Provider string

const (
	Google  Provider = "google"
	Outlook Provider = "outlook"
)

// All returns every supported provider in a stable order.
func All() []Provider {
	return []Provider{Google, Outlook}
}

// Parse converts a path or config value into a Provider.
func Parse(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case Google, Outlook:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknown, s)
	}
}

func (p Provider) String() string {
	return string(p)
}

// DisplayName is the human readable name used in messages.
func (p Provider) DisplayName() string {
	switch p {
	case Google:
		return "Google Calendar"
	case Outlook:
		return "Outlook Calendar"
	default:
		return string(p)
	}
}
