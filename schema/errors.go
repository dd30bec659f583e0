package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks.
var (
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrFieldNotFound       = errors.New("field not found")
	ErrViewNotFound        = errors.New("view not found")
	ErrSchemaIntegrity     = errors.New("schema integrity violation")
	ErrCircularComputation = errors.New("circular computation")
	ErrUnknownType         = errors.New("unknown field type")
	ErrInvalidDefinition   = errors.New("invalid definition")
	ErrInvalidRecord       = errors.New("invalid record")
)

// DefinitionError rejects a malformed field, view or collection definition.
type DefinitionError struct {
	Subject    string
	Violations Violations
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid definition %q: %s", e.Subject, e.Violations.Error())
}

func (e *DefinitionError) Is(target error) bool { return target == ErrInvalidDefinition }

// RecordError rejects a record payload that does not satisfy its schema.
type RecordError struct {
	CollectionID string
	Violations   Violations
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("invalid record for collection %s: %s", e.CollectionID, e.Violations.Error())
}

func (e *RecordError) Is(target error) bool { return target == ErrInvalidRecord }

// IntegrityKind classifies schema integrity errors.
type IntegrityKind string

const (
	// FieldInUse: a field cannot go because views or computed fields use it.
	FieldInUse IntegrityKind = "field-in-use"
	// UnknownReferenceTarget: a relational field targets a missing or inactive collection.
	UnknownReferenceTarget IntegrityKind = "unknown-reference-target"
	// DuplicateSlug: another collection already owns the slug.
	DuplicateSlug IntegrityKind = "duplicate-slug"
	// DuplicateName: a field or view name is already taken.
	DuplicateName IntegrityKind = "duplicate-name"
)

// IntegrityError blocks a schema mutation that would break a structural
// invariant.
type IntegrityError struct {
	Kind       IntegrityKind
	Collection string
	Field      string
	// Dependents names the views or fields that block the mutation.
	Dependents []string
	Message    string
}

func (e *IntegrityError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if len(e.Dependents) > 0 {
		msg += " (used by " + strings.Join(e.Dependents, ", ") + ")"
	}
	return fmt.Sprintf("schema integrity: %s", msg)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrSchemaIntegrity }

// CircularComputationError reports a dependency cycle between computed fields.
type CircularComputationError struct {
	Collection string
	Cycle      []string
}

func (e *CircularComputationError) Error() string {
	return fmt.Sprintf("circular computation: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CircularComputationError) Is(target error) bool { return target == ErrCircularComputation }

// UnknownTypeError signals a field type outside the taxonomy. It indicates a
// caller or stored-data bug and is never turned into a default.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown field type %q", e.Name)
}

func (e *UnknownTypeError) Is(target error) bool { return target == ErrUnknownType }
