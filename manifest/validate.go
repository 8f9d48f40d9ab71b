package manifest

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

var fieldTypes = map[string]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeInteger: true,
	TypeBoolean: true,
	TypeArray:   true,
	TypeObject:  true,
	TypeAny:     true,
}

// structValidator is safe for concurrent use and caches struct metadata.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "toolname", func(fl validator.FieldLevel) bool {
		return toolNamePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "fieldtype", func(fl validator.FieldLevel) bool {
		return fieldTypes[fl.Field().String()]
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("manifest: register %s validation: %v", tag, err))
	}
}

// Diagnostic is one structural problem found in a manifest.
type Diagnostic struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every diagnostic found for one manifest.
type ValidationError struct {
	Name        string       `json:"name"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("manifest: %q is invalid", e.Name)
	}
	first := e.Diagnostics[0]
	if len(e.Diagnostics) == 1 {
		return fmt.Sprintf("manifest: %q is invalid: %s: %s", e.Name, first.Field, first.Message)
	}
	return fmt.Sprintf("manifest: %q has %d problems (first: %s: %s)", e.Name, len(e.Diagnostics), first.Field, first.Message)
}

// Validate checks the structure of m: required fields, the tool name pattern,
// a positive default timeout, unique capability tags and known field types.
// It does not look at request payloads.
func Validate(m Manifest) error {
	err := structValidator.Struct(m)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("manifest: validate %q: %w", m.Name, err)
	}

	diags := make([]Diagnostic, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		diags = append(diags, Diagnostic{
			Field:   strings.TrimPrefix(fe.Namespace(), "Manifest."),
			Message: describe(fe),
		})
	}
	return &ValidationError{Name: m.Name, Diagnostics: diags}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "toolname":
		return "must match " + toolNamePattern.String()
	case "fieldtype":
		return fmt.Sprintf("unknown type %q", fe.Value())
	case "gt":
		return "must be greater than " + fe.Param()
	case "unique":
		return "must not contain duplicates"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
