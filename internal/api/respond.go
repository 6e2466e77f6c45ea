package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/provider-availability/internal/availability"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report violations under their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var errBadBody = errors.New("could not parse JSON")

// decodeJSON reads the body into dst and runs struct validation. Validation
// failures come back as *availability.ValidationError so they render like
// domain validation errors.
func decodeJSON(r *http.Request, dst any) error {
	return decode(r, dst, false)
}

// decodeOptionalJSON is decodeJSON for endpoints where the body may be empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	return decode(r, dst, true)
}

func decode(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body != nil {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		err := dec.Decode(dst)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && allowEmpty:
		default:
			return fmt.Errorf("%w: %v", errBadBody, err)
		}
	} else if !allowEmpty {
		return fmt.Errorf("%w: empty body", errBadBody)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	vErr := &availability.ValidationError{}
	for _, fe := range fieldErrs {
		vErr.Add(fieldPath(fe.Namespace()), "failed %s", describeTag(fe))
	}
	return vErr
}

// fieldPath drops the Go type name validator puts in front of the namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeValidationError(w http.ResponseWriter, vErr *availability.ValidationError) {
	resp := ErrorResponse{
		Error:      "validation_failed",
		Violations: make([]ViolationResponse, 0, len(vErr.Violations)),
	}
	for _, v := range vErr.Violations {
		resp.Violations = append(resp.Violations, ViolationResponse{Field: v.Field, Message: v.Message})
	}
	writeJSON(w, http.StatusUnprocessableEntity, resp)
}
