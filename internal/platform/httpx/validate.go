package httpx

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator for request DTOs.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a validator that reports json field names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Decode reads the JSON body into dst and validates it. On failure it writes
// the problem response and returns false.
func (v *Validator) Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := DecodeJSON(r, dst); err != nil {
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	if err := v.v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return false
		}
		errs := make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			errs[fieldPath(fieldErr.Namespace())] = fieldErr.Tag()
		}
		ProblemWith(w, ProblemDetail{
			Type:   "validation",
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Errors: errs,
		})
		return false
	}
	return true
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
