package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates the configuration file was not found.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed. The
	// coordinator exits with code 2 when initialisation fails with this.
	ErrValidationFailed = errors.New("configuration validation failed")
)

// ValidationError wraps a configuration validation failure with its section
// and field.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s': %v", e.Section, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Section, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func invalid(section, field, msg string) error {
	return &ValidationError{Section: section, Field: field, Err: errors.New(msg)}
}

// IsValidationError reports whether err stems from configuration validation,
// as opposed to a load or I/O failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}
