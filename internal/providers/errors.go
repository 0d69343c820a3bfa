package providers

import (
	"errors"
	"fmt"
)

// ErrUnsupportedProvider is matched by every UnsupportedProviderError.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("provider configuration error")

// UnsupportedProviderError reports a backend name the factory cannot build.
type UnsupportedProviderError struct {
	Kind string // "generation", "embedding" or "vectordb"
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported %s provider %q", e.Kind, e.Name)
}

func (e *UnsupportedProviderError) Is(target error) bool { return target == ErrUnsupportedProvider }

// ConfigurationError reports a missing or invalid setting for a backend.
type ConfigurationError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s is required", e.Provider, e.Field)
	}
	return fmt.Sprintf("%s: %s %s", e.Provider, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
