package backend

import (
	"fmt"
	"net/url"

	"github.com/ppiankov/sentinel/internal/model"
)

// Build constructs the backend for reg. Static registrations get the mock
// filesystem tools.
func Build(reg model.BackendRegistration) (Backend, error) {
	switch reg.Kind {
	case model.BackendStatic:
		return MockFS(reg.Name), nil
	case model.BackendRemote, "":
		if _, err := ValidateBaseURL(reg.BaseURL); err != nil {
			return nil, err
		}
		return NewRemote(reg.Name, reg.BaseURL, reg.AuthHeader, reg.AuthToken, false)
	case model.BackendSSE:
		if _, err := ValidateBaseURL(reg.BaseURL); err != nil {
			return nil, err
		}
		return NewRemote(reg.Name, reg.BaseURL, reg.AuthHeader, reg.AuthToken, true)
	case model.BackendStream:
		return NewStream(reg.Name, reg.Command)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", reg.Kind)
	}
}

// ValidateBaseURL accepts absolute http or https URLs with a host.
func ValidateBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid base url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: missing host", raw)
	}
	return u.String(), nil
}
