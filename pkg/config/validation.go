package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cynidn2x/precice/pkg/errors"
)

// ValidationError represents a single failed validation rule.
type ValidationError struct {
	Field   string
	Tag     string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s failed validation on tag %q", e.Field, e.Tag)
}

// ValidationErrors collects every rule violation found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("configuration validation failed: %s", strings.Join(messages, "; "))
}

// Validator validates SchemeConfig values against struct tags plus the
// construction-time cross-field rules that tags alone can't express.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a configuration validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate runs struct-tag validation followed by the cross-field rules.
func (v *Validator) Validate(cfg *SchemeConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrConfiguration, "configuration is nil")
	}

	var validationErrors ValidationErrors

	if err := v.validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range errs {
				validationErrors = append(validationErrors, ValidationError{
					Field:   e.Namespace(),
					Tag:     e.Tag(),
					Value:   e.Value(),
					Message: fmt.Sprintf("%s failed %q validation", e.Namespace(), e.Tag()),
				})
			}
		} else {
			validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
		}
	}

	validationErrors = append(validationErrors, crossFieldRules(cfg)...)

	if len(validationErrors) > 0 {
		return errors.WithFields(
			errors.New(errors.ErrConfiguration, validationErrors.Error()),
			errors.Fields{"participant": cfg.LocalParticipantName},
		)
	}

	return nil
}

// crossFieldRules implements the §4.3 construction-time checks that
// depend on more than one field and so can't be expressed as validator
// struct tags alone.
func crossFieldRules(cfg *SchemeConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.DtMethod == "fixed" && cfg.TimeWindowSize == nil {
		errs = append(errs, ValidationError{
			Field:   "TimeWindowSize",
			Tag:     "required_with_fixed_dt",
			Message: "time_window_size must be defined when dt_method is fixed",
		})
	}

	switch cfg.CouplingMode {
	case "explicit":
		if cfg.MinIterations != nil || cfg.MaxIterations != nil {
			errs = append(errs, ValidationError{
				Field:   "MinIterations/MaxIterations",
				Tag:     "undefined_for_explicit",
				Message: "min_iterations and max_iterations must be undefined for explicit coupling",
			})
		}
	case "implicit":
		if cfg.MinIterations == nil || *cfg.MinIterations < 1 {
			errs = append(errs, ValidationError{
				Field:   "MinIterations",
				Tag:     "gte_1",
				Message: "min_iterations must be at least 1 for implicit coupling",
			})
		}
		if cfg.MaxIterations == nil {
			errs = append(errs, ValidationError{
				Field:   "MaxIterations",
				Tag:     "required",
				Message: "max_iterations must be defined (use -1 for INFINITE) for implicit coupling",
			})
		} else if *cfg.MaxIterations != -1 && *cfg.MaxIterations < 1 {
			errs = append(errs, ValidationError{
				Field:   "MaxIterations",
				Tag:     "gte_1_or_infinite",
				Message: "max_iterations must be -1 (infinite) or at least 1",
			})
		} else if cfg.MinIterations != nil && *cfg.MaxIterations != -1 && *cfg.MinIterations > *cfg.MaxIterations {
			errs = append(errs, ValidationError{
				Field:   "MinIterations",
				Tag:     "lte_max_iterations",
				Message: "min_iterations must not exceed max_iterations",
			})
		}
	}

	return errs
}
