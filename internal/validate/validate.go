// Package validate implements structural checks on request payloads. Checks
// run in declaration order and validation stops at the first violated field,
// so the reported message always names a single field.
package validate

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FieldError reports the first violated field of a payload.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// Check is a single field validation.
type Check func() *FieldError

// First runs checks in order and returns the first failure, or nil.
func First(checks ...Check) *FieldError {
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// MinLen requires the value to have at least min characters.
func MinLen(field, value string, min int, message string) Check {
	return func() *FieldError {
		if utf8.RuneCountInString(value) < min {
			return &FieldError{Field: field, Message: message}
		}
		return nil
	}
}

// Required requires a non-empty value.
func Required(field, value, message string) Check {
	return MinLen(field, value, 1, message)
}

// Email requires a syntactically valid email address.
func Email(field, value string) Check {
	return func() *FieldError {
		if !emailPattern.MatchString(value) {
			return &FieldError{Field: field, Message: "Invalid email"}
		}
		return nil
	}
}

// OneOf requires the value to be one of the allowed strings.
func OneOf(field, value string, allowed ...string) Check {
	return func() *FieldError {
		for _, candidate := range allowed {
			if value == candidate {
				return nil
			}
		}
		return &FieldError{Field: field, Message: fmt.Sprintf("Invalid %s", field)}
	}
}

// Optional skips the check when the value is absent.
func Optional(value *string, check func(string) Check) Check {
	return func() *FieldError {
		if value == nil {
			return nil
		}
		return check(*value)()
	}
}
