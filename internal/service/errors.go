package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/untibullet/request-desk/internal/auth"
	"github.com/untibullet/request-desk/internal/models"
)

var (
	ErrUnauthenticated    = auth.ErrUnauthenticated
	ErrForbidden          = errors.New("operation is not permitted")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("attachment storage is not configured")
)

// ValidationError отклоненный до обращения к хранилищу ввод
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// В сообщениях используем имена полей из json
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("request_type", func(fl validator.FieldLevel) bool {
		return models.RequestType(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("urgency", func(fl validator.FieldLevel) bool {
		return models.Urgency(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		return models.Stage(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("quote_status", func(fl validator.FieldLevel) bool {
		return models.QuoteStatus(fl.Field().String()).IsValid()
	})
	return v
}

// validateStruct превращает ошибки validator в ValidationError
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid("%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return &ValidationError{Message: strings.Join(msgs, "; ")}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "request_type", "urgency", "stage", "quote_status":
		return fmt.Sprintf("%s has unknown value %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, fe.Tag())
	}
}
