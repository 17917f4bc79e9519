package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks struct tags. Field paths are reported with their
// manifest names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// structProblems turns validator errors into problems.
func structProblems(err error) []error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{Problem{Message: err.Error()}}
	}
	problems := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, Problem{
			Path:    manifestPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return problems
}

// manifestPath drops the root type and the inlined identity struct from a
// validator namespace: "Manifest.applications[0].Meta.id" becomes
// "applications[0].id".
func manifestPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	out := parts[:0]
	for _, p := range parts {
		if p == "Meta" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "semver":
		return fmt.Sprintf("%v is not a semantic version", fe.Value())
	case "hostname", "fqdn":
		return fmt.Sprintf("%v is not a valid domain name", fe.Value())
	case "dns_rfc1035_label":
		return fmt.Sprintf("%v is not a valid namespace name", fe.Value())
	default:
		return fmt.Sprintf("failed on the %s rule", fe.Tag())
	}
}
