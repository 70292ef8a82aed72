package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/armiapp/armi/internal/model"
)

// Validator checks decoded request bodies against their `validate` tags.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		return ValidateVerificationCode(fl.Field().String()) == nil
	})
	_ = validate.RegisterValidation("listtype", func(fl validator.FieldLevel) bool {
		_, err := model.ParseListType(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: validate}
}

func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		return newRequestError(errs)
	}
	return err
}

// RequestError maps json field names to messages.
type RequestError struct {
	Fields map[string]string `json:"fields"`
}

func (e *RequestError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	messages := make([]string, 0, len(keys))
	for _, k := range keys {
		messages = append(messages, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(messages, ", ")
}

func newRequestError(errs validator.ValidationErrors) *RequestError {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &RequestError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param() + " characters long"
	case "max":
		return "must be at most " + fe.Param() + " characters long"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "otp":
		return "must be 6 digits"
	case "listtype":
		return "must be one of: All, Roster, Network, People"
	default:
		return "is invalid"
	}
}
