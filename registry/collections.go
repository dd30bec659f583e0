package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/schema"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Slugify derives a slug from a collection name.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// CollectionInput describes a new collection.
type CollectionInput struct {
	// ID is generated when empty.
	ID          string
	Name        string
	Slug        string
	Description string
	Fields      []schema.FieldDefinition
	Views       []schema.ViewDefinition
	// Inactive collections cannot be the target of new relational fields.
	Inactive bool
}

// CollectionPatch changes collection properties; nil members stay as they are.
type CollectionPatch struct {
	Name        *string
	Slug        *string
	Description *string
	IsActive    *bool
}

func validateCollectionName(name, slug string) schema.Violations {
	var vs schema.Violations
	if strings.TrimSpace(name) == "" {
		vs = append(vs, schema.Violation{Code: schema.CodeName, Message: "collection name cannot be empty"})
	}
	if !slugPattern.MatchString(slug) {
		vs = append(vs, schema.Violation{Code: schema.CodeName, Message: fmt.Sprintf("slug %q must be lowercase letters, digits and single dashes", slug)})
	}
	return vs
}

// CreateCollection admits a new collection with its fields and views. The
// fields are validated in declaration order and the views against the final
// field set; every problem is reported together.
func (r *Registry) CreateCollection(ctx context.Context, in CollectionInput) (s schema.CollectionSchema, err error) {
	defer func() { r.observe("createCollection", in.Name, err) }()

	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.Name)
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()
	next := schema.CollectionSchema{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Slug:        slug,
		Description: in.Description,
		IsActive:    !in.Inactive,
		CreatedAt:   now,
	}

	vs := validateCollectionName(in.Name, slug)
	for _, def := range in.Fields {
		if err := r.validator.Field(def, next.FieldNames()); err != nil {
			if !collect(&vs, err) {
				return schema.CollectionSchema{}, err
			}
			continue
		}
		next.Fields = append(next.Fields, def.Clone())
	}
	for _, def := range next.Fields {
		vs = append(vs, checkLocalReferences(next, def)...)
	}
	for _, view := range in.Views {
		if err := r.validator.View(view, next.Fields, next.ViewNames()); err != nil {
			if !collect(&vs, err) {
				return schema.CollectionSchema{}, err
			}
			continue
		}
		next.Views = append(next.Views, view.Clone())
	}
	if len(vs) > 0 {
		return schema.CollectionSchema{}, &schema.DefinitionError{Subject: in.Name, Violations: vs}
	}
	r.graph.Lock()
	defer r.graph.Unlock()
	for _, def := range next.Fields {
		if err := r.checkTarget(ctx, next, def); err != nil {
			return schema.CollectionSchema{}, err
		}
	}
	if err := r.detectCycles(next); err != nil {
		return schema.CollectionSchema{}, err
	}

	r.mu.RLock()
	_, slugTaken := r.slugs[slug]
	_, idTaken := r.collections[id]
	r.mu.RUnlock()
	if slugTaken {
		return schema.CollectionSchema{}, &schema.IntegrityError{
			Kind:       schema.DuplicateSlug,
			Collection: slug,
			Message:    fmt.Sprintf("slug %s is already used by another collection", slug),
		}
	}
	if idTaken {
		return schema.CollectionSchema{}, &schema.IntegrityError{
			Kind:       schema.DuplicateName,
			Collection: slug,
			Message:    fmt.Sprintf("collection id %s is already taken", id),
		}
	}
	// Slug and id stay free while r.graph is held; the collection becomes
	// visible only once it is persisted.
	c := &collection{}
	// Version becomes 1 on commit.
	e, err := r.commit(ctx, c, next, events.Event{Kind: events.CollectionCreated})
	if err != nil {
		return schema.CollectionSchema{}, err
	}
	r.mu.Lock()
	r.collections[id] = c
	r.slugs[slug] = id
	r.mu.Unlock()
	r.publish(ctx, e)
	return c.snap.Load().Schema.Clone(), nil
}

// collect appends the violations of a *schema.DefinitionError to vs and
// reports whether err was one.
func collect(vs *schema.Violations, err error) bool {
	de, ok := err.(*schema.DefinitionError)
	if ok {
		*vs = append(*vs, de.Violations...)
	}
	return ok
}

// UpdateCollection changes the name, slug, description or active flag of a
// collection.
func (r *Registry) UpdateCollection(ctx context.Context, ref string, patch CollectionPatch) (s schema.CollectionSchema, err error) {
	defer func() { r.observe("updateCollection", ref, err) }()

	r.graph.Lock()
	defer r.graph.Unlock()
	var id, oldSlug, newSlug string
	s, e, err := r.mutateLocked(ctx, ref, func(next *schema.CollectionSchema) (events.Event, error) {
		oldSlug = next.Slug
		if patch.Name != nil {
			next.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Slug != nil {
			next.Slug = *patch.Slug
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.IsActive != nil {
			next.IsActive = *patch.IsActive
		}
		if vs := validateCollectionName(next.Name, next.Slug); len(vs) > 0 {
			return events.Event{}, &schema.DefinitionError{Subject: next.Name, Violations: vs}
		}
		if next.Slug != oldSlug {
			if refs := r.referrers(schema.CollectionSchema{ID: next.ID, Slug: oldSlug}); len(refs) > 0 {
				// fields holding the old slug would dangle
				for _, ref := range refs {
					if r.referencesBySlug(ref, oldSlug) {
						return events.Event{}, &schema.IntegrityError{
							Kind:       schema.FieldInUse,
							Collection: oldSlug,
							Dependents: refs,
							Message:    fmt.Sprintf("slug %s is referenced by other collections", oldSlug),
						}
					}
				}
			}
			if err := r.claimSlug(next.ID, oldSlug, next.Slug); err != nil {
				return events.Event{}, err
			}
			id, newSlug = next.ID, next.Slug
		}
		return events.Event{Kind: events.CollectionUpdated}, nil
	})
	if err != nil {
		if newSlug != "" {
			// the commit failed after the new slug was claimed
			r.mu.Lock()
			delete(r.slugs, newSlug)
			r.slugs[oldSlug] = id
			r.mu.Unlock()
		}
		return schema.CollectionSchema{}, err
	}
	r.publish(ctx, e)
	return s, nil
}

// referencesBySlug reports whether the field named "slug.field" targets
// the collection through slug rather than id.
func (r *Registry) referencesBySlug(qualified, slug string) bool {
	dot := strings.LastIndex(qualified, ".")
	if dot < 0 {
		return false
	}
	s, err := r.BySlug(qualified[:dot])
	if err != nil {
		return false
	}
	def, ok := s.Field(qualified[dot+1:])
	return ok && schema.ReferencedCollection(def.Options) == slug
}

// claimSlug moves the slug index entry of a collection.
func (r *Registry) claimSlug(id, oldSlug, newSlug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, taken := r.slugs[newSlug]; taken && owner != id {
		return &schema.IntegrityError{
			Kind:       schema.DuplicateSlug,
			Collection: newSlug,
			Message:    fmt.Sprintf("slug %s is already used by another collection", newSlug),
		}
	}
	delete(r.slugs, oldSlug)
	r.slugs[newSlug] = id
	return nil
}

// DeleteCollection removes a collection with its fields, views and stored
// records. Collections still targeted by relational fields of other
// collections cannot be deleted.
func (r *Registry) DeleteCollection(ctx context.Context, ref string) (err error) {
	defer func() { r.observe("deleteCollection", ref, err) }()

	r.graph.Lock()
	defer r.graph.Unlock()
	c, err := r.collection(ref)
	if err != nil {
		return err
	}
	s := c.snap.Load().Schema
	if refs := r.referrers(s); len(refs) > 0 {
		return &schema.IntegrityError{
			Kind:       schema.FieldInUse,
			Collection: s.Slug,
			Dependents: refs,
			Message:    fmt.Sprintf("collection %s is referenced by other collections", s.Slug),
		}
	}
	if r.store != nil {
		if err := r.store.DeleteSchema(ctx, s.ID); err != nil {
			return fmt.Errorf("failed to delete schema %s: %w", s.Slug, err)
		}
	}
	r.mu.Lock()
	delete(r.collections, s.ID)
	delete(r.slugs, s.Slug)
	r.mu.Unlock()
	r.publish(ctx, events.Event{Kind: events.CollectionDeleted, CollectionID: s.ID, Slug: s.Slug, Version: s.Version})
	return nil
}
