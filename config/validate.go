package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. Every violation is reported as a
// *ConfigurationError; several violations are joined.
func (c *Configuration) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ConfigurationError{Field: "config", Err: err}
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, &ConfigurationError{
			Field: fe.Namespace(),
			Value: fmt.Sprint(fe.Value()),
			Err:   fmt.Errorf("failed %q constraint %s", fe.Tag(), fe.Param()),
		})
	}
	return errors.Join(errs...)
}
