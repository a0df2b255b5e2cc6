package config

import (
	"fmt"
)

// ConfigurationError reports an invalid or unresolvable run parameter.
// It is fatal and raised before any epoch runs.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Value != "" && e.Err != nil:
		return fmt.Sprintf("configuration: %s=%q: %v", e.Field, e.Value, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("configuration: invalid %s %q", e.Field, e.Value)
	}
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Unknown builds the error returned when a registry lookup fails.
func Unknown(field, value string, known []string) *ConfigurationError {
	return &ConfigurationError{
		Field: field,
		Value: value,
		Err:   fmt.Errorf("unknown identifier, expected one of %v", known),
	}
}
