package schema

import (
	"fmt"
	"strings"
)

// Code classifies a violation.
type Code string

// Record violation codes. Rule failures use the rule kind as their code.
const (
	CodeRequired      Code = Code(RuleRequired)
	CodeUnique        Code = Code(RuleUnique)
	CodeMin           Code = Code(RuleMin)
	CodeMax           Code = Code(RuleMax)
	CodePattern       Code = Code(RulePattern)
	CodeCustom        Code = Code(RuleCustom)
	CodeTypeMismatch  Code = "type-mismatch"
	CodeUnknownField  Code = "unknown-field"
	CodeReadOnlyField Code = "read-only-field"
)

// Definition violation codes.
const (
	CodeName         Code = "name"
	CodeType         Code = "type"
	CodeOptions      Code = "options"
	CodeValidation   Code = "validation"
	CodeDefaultValue Code = "default-value"
	CodeReference    Code = "reference"
	CodeView         Code = "view"
)

// Violation is one user-correctable problem, carrying enough structure to be
// shown next to the offending form input.
type Violation struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.Code, v.Message)
	}
	return fmt.Sprintf("%s (%s): %s", v.Field, v.Code, v.Message)
}

// Violations is an ordered list of violations.
type Violations []Violation

func (vs Violations) Error() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// ByField groups the violations by field name, keeping their order.
func (vs Violations) ByField() map[string]Violations {
	out := map[string]Violations{}
	for _, v := range vs {
		out[v.Field] = append(out[v.Field], v)
	}
	return out
}

// Codes returns the code of every violation in order.
func (vs Violations) Codes() []Code {
	out := make([]Code, len(vs))
	for i, v := range vs {
		out[i] = v.Code
	}
	return out
}

// Outcome is the result of validating a record: either valid with the
// coerced record, or invalid with the complete list of violations.
type Outcome struct {
	Record     Record     `json:"record,omitempty"`
	Violations Violations `json:"violations,omitempty"`
}

// Valid builds a valid outcome.
func Valid(r Record) Outcome { return Outcome{Record: r} }

// Invalid builds an invalid outcome.
func Invalid(vs Violations) Outcome { return Outcome{Violations: vs} }

// IsValid reports whether the record satisfied the schema.
func (o Outcome) IsValid() bool { return len(o.Violations) == 0 }

// Err returns a *RecordError for invalid outcomes and nil otherwise.
func (o Outcome) Err(collectionID string) error {
	if o.IsValid() {
		return nil
	}
	return &RecordError{CollectionID: collectionID, Violations: o.Violations}
}
