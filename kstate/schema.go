package kstate

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/multierr"
)

// Schema validates state trees against a JSON schema before they are
// stored or hydrated into atoms.
type Schema struct {
	schema *gojsonschema.Schema
}

// CompileSchema parses a JSON schema document.
func CompileSchema(src []byte) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// Validate checks v. Every violation is reported; the returned error
// matches ErrSchemaViolation.
func (s *Schema) Validate(v any) error {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var violations error
	for _, re := range result.Errors() {
		violations = multierr.Append(violations, errors.New(re.String()))
	}
	return fmt.Errorf("%w: %w", ErrSchemaViolation, violations)
}

// Violations returns the individual violations of an error returned by
// Validate, or nil when err is not a schema violation.
func Violations(err error) []error {
	if !errors.Is(err, ErrSchemaViolation) {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return nil
	}
	var out []error
	for _, e := range joined.Unwrap() {
		if e != ErrSchemaViolation {
			out = append(out, multierr.Errors(e)...)
		}
	}
	return out
}
