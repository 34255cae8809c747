// Package service holds the error types shared by the engine's services.
package service

import "fmt"

// ValidationError reports a problem with caller input.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ConfigError reports a provider that cannot be served as configured, e.g. a missing
// calendar credential. No state is written when it is returned.
type ConfigError struct {
	ProviderID string
	msg        string
	err        error
}

func (e *ConfigError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.ProviderID, e.msg, e.err)
	}
	return fmt.Sprintf("provider %s: %s", e.ProviderID, e.msg)
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

func NewConfigError(providerID, msg string, err error) error {
	return &ConfigError{ProviderID: providerID, msg: msg, err: err}
}
