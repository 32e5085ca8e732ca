package http

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs the `validate` tags on a request DTO and reports the
// failing fields.
func ValidateStruct(v any) (map[string]any, error) {
	err := validate.Struct(v)
	if err == nil {
		return nil, nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil, err
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil, err
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[fe.Field()] = fe.Tag()
	}
	return details, err
}
