// Package validation checks and sanitizes user-supplied finance input before
// it is sent to the backend.
package validation

import (
	"errors"
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	xssRegex      = regexp.MustCompile(`(?i)(<script|<iframe|<object|<embed|javascript:|vbscript:|on\w+\s*=)`)
)

// Validator wraps a validator.Validate with the finance rules registered.
type Validator struct {
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationErrors is returned by ValidateStruct.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// NewValidator creates a validator. Decimal fields are compared as numbers,
// so tags like gt=0 work on decimal.Decimal.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.registerCustomValidators()
	return v
}

func (v *Validator) registerCustomValidators() {
	// ISO 4217 style code, upper case
	v.validate.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		return currencyRegex.MatchString(fl.Field().String())
	})
	// free text without markup or script
	v.validate.RegisterValidation("secure_string", func(fl validator.FieldLevel) bool {
		return !xssRegex.MatchString(fl.Field().String())
	})
}

// ValidateStruct runs the struct tags of s.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

// Sanitize strips markup from free text such as notes and descriptions.
func (v *Validator) Sanitize(input string) string {
	if input == "" {
		return input
	}
	cleaned := html.UnescapeString(v.sanitizer.Sanitize(input))
	if cleaned != input {
		v.logger.Debug("sanitized free text input", zap.Int("removed", len(input)-len(cleaned)))
	}
	return strings.TrimSpace(cleaned)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt", "gte":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "currency_code":
		return fmt.Sprintf("%s must be a three letter currency code", fe.Field())
	case "secure_string":
		return fmt.Sprintf("%s contains markup or script", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
