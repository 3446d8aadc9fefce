package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// StructValidator runs struct-tag validation and reports errors keyed by JSON field path
type StructValidator struct {
	v      *playground.Validate
	phones *PhoneValidator
}

// NewStructValidator creates a validator with the "phone" tag registered
func NewStructValidator() *StructValidator {
	v := playground.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	phones := NewPhoneValidator()
	// registration only fails for an empty tag or nil func
	_ = v.RegisterValidation("phone", func(fl playground.FieldLevel) bool {
		return phones.IsValid(fl.Field().String())
	})

	return &StructValidator{v: v, phones: phones}
}

// Phones exposes the phone validator used for the "phone" tag
func (s *StructValidator) Phones() *PhoneValidator {
	return s.phones
}

// Validate returns field path -> message, or nil when the struct is valid
func (s *StructValidator) Validate(i interface{}) map[string]string {
	err := s.v.Struct(i)
	if err == nil {
		return nil
	}

	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		key := fieldPath(fe.Namespace())
		if _, exists := fields[key]; !exists {
			fields[key] = fieldMessage(fe)
		}
	}
	return fields
}

// fieldPath drops the root type name: "BookingDraft.guest_details.email" -> "guest_details.email"
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func fieldMessage(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be an international number, e.g. +27821234567"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
