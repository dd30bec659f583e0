// Package events announces schema and record changes to interested
// components such as the computed-field cache.
package events

import (
	"context"
	"time"
)

// Kind identifies what changed.
type Kind string

const (
	CollectionCreated Kind = "collection.created"
	CollectionUpdated Kind = "collection.updated"
	CollectionDeleted Kind = "collection.deleted"
	FieldCreated      Kind = "field.created"
	FieldUpdated      Kind = "field.updated"
	FieldDeleted      Kind = "field.deleted"
	ViewCreated       Kind = "view.created"
	ViewUpdated       Kind = "view.updated"
	ViewDeleted       Kind = "view.deleted"
	RecordCreated     Kind = "record.created"
	RecordUpdated     Kind = "record.updated"
	RecordDeleted     Kind = "record.deleted"
)

// SchemaChange reports whether the event changes a collection schema.
func (k Kind) SchemaChange() bool {
	switch k {
	case RecordCreated, RecordUpdated, RecordDeleted:
		return false
	}
	return true
}

// Event describes one committed change.
type Event struct {
	Kind         Kind      `json:"kind"`
	CollectionID string    `json:"collectionId"`
	Slug         string    `json:"slug,omitempty"`
	Field        string    `json:"field,omitempty"`
	View         string    `json:"view,omitempty"`
	RecordID     string    `json:"recordId,omitempty"`
	Version      int64     `json:"version,omitempty"`
	At           time.Time `json:"at"`
}

// Bus publishes events. Implementations are passed to the components that
// announce changes; there is no package-level bus.
type Bus interface {
	Publish(ctx context.Context, e Event) error
}

// Handler receives events from a LocalBus.
type Handler func(ctx context.Context, e Event)

// Nop is a bus that drops every event.
type Nop struct{}

// Publish implements Bus.
func (Nop) Publish(context.Context, Event) error { return nil }
