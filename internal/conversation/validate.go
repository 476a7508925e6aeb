// ABOUTME: Request validation for the message and conversation services
// ABOUTME: Wraps go-playground/validator failures in ErrValidation with readable field messages

package conversation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// ErrValidation is returned when a request violates a message or conversation invariant.
var ErrValidation = errors.New("validation failed")

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError converts validator output into an ErrValidation-wrapped error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return describe(fe)
	})
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_without":
		return "exactly one conversation id is required"
	case "excluded_with":
		return fe.Field() + " cannot be combined with another conversation id"
	case "required_if":
		return fe.Field() + " is required for this author kind"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "min":
		return fe.Field() + " needs at least " + fe.Param() + " entries"
	case "max":
		return fe.Field() + " allows at most " + fe.Param() + " entries"
	case "unique":
		return fe.Field() + " must not contain duplicates"
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}
