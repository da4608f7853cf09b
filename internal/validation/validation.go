package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their json name so messages match request bodies.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

// Error lists every rule a value broke.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return strings.Join(e.Problems, ", ")
}

// Struct validates s against its validate tags. Rule failures come back as
// *Error; anything else (a non-struct argument) is returned as is.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Error{}
	for _, fe := range verrs {
		field := fe.Field()
		param := fe.Param()

		switch fe.Tag() {
		case "required":
			out.Problems = append(out.Problems, field+" is required")
		case "min":
			out.Problems = append(out.Problems, field+" must have at least "+param+" entries or characters")
		case "max":
			out.Problems = append(out.Problems, field+" must be at most "+param+" characters")
		case "email":
			out.Problems = append(out.Problems, field+" must be a valid email")
		case "oneof":
			out.Problems = append(out.Problems, field+" must be one of: "+param)
		case "gtfield":
			out.Problems = append(out.Problems, field+" must be after "+strings.ToLower(param))
		default:
			out.Problems = append(out.Problems, field+" is invalid")
		}
	}
	return out
}
