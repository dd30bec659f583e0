package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/schema"
)

// backends returns every store the contract tests run against. PostgreSQL
// joins when DATABASE_URL is set.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return out
}

// collectionID keeps runs against a shared database apart.
func collectionID(t *testing.T) string {
	return t.Name() + "-" + time.Now().Format("150405.000000000")
}

func TestStoreRecords(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			c := collectionID(t)

			first, err := s.Insert(ctx, c, schema.Record{"name": "Ada", "age": 36.0, "tags": []string{"x"}}, WriteOptions{Actor: "u1"})
			require.NoError(t, err)
			assert.NotEmpty(t, first.Meta.ID)
			assert.Equal(t, int64(1), first.Meta.Seq)
			assert.Equal(t, "u1", first.Meta.CreatedBy)
			assert.Equal(t, []any{"x"}, first.Data["tags"], "data is stored in JSON form")

			second, err := s.Insert(ctx, c, schema.Record{"name": "Grace", "age": 45.0}, WriteOptions{})
			require.NoError(t, err)
			assert.Equal(t, int64(2), second.Meta.Seq)

			got, err := s.FetchByID(ctx, c, first.Meta.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Data["name"])
			assert.Equal(t, 36.0, got.Data["age"])

			list, err := s.List(ctx, c)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, first.Meta.ID, list[0].Meta.ID)
			assert.Equal(t, second.Meta.ID, list[1].Meta.ID)

			updated, err := s.Update(ctx, c, first.Meta.ID, schema.Record{"name": "Ada L."}, WriteOptions{Actor: "u2"})
			require.NoError(t, err)
			assert.Equal(t, schema.Record{"name": "Ada L."}, updated.Data)
			assert.Equal(t, "u2", updated.Meta.UpdatedBy)
			assert.Equal(t, int64(1), updated.Meta.Seq)

			require.NoError(t, s.Delete(ctx, c, second.Meta.ID))
			_, err = s.FetchByID(ctx, c, second.Meta.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, c, second.Meta.ID), ErrNotFound)
			_, err = s.Update(ctx, c, "missing", schema.Record{}, WriteOptions{})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreUnique(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			c := collectionID(t)
			opts := WriteOptions{Unique: []string{"email"}}

			a, err := s.Insert(ctx, c, schema.Record{"email": "a@x.io"}, opts)
			require.NoError(t, err)
			_, err = s.Insert(ctx, c, schema.Record{"email": "b@x.io"}, opts)
			require.NoError(t, err)

			_, err = s.Insert(ctx, c, schema.Record{"email": "a@x.io"}, opts)
			require.ErrorIs(t, err, ErrUniqueViolation)
			var ue *UniqueError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, "email", ue.Field)

			// a record may keep its own value
			_, err = s.Update(ctx, c, a.Meta.ID, schema.Record{"email": "a@x.io", "n": 1.0}, opts)
			require.NoError(t, err)
			_, err = s.Update(ctx, c, a.Meta.ID, schema.Record{"email": "b@x.io"}, opts)
			assert.ErrorIs(t, err, ErrUniqueViolation)

			// absent values never collide
			_, err = s.Insert(ctx, c, schema.Record{}, opts)
			require.NoError(t, err)
			_, err = s.Insert(ctx, c, schema.Record{}, opts)
			require.NoError(t, err)
		})
	}
}

func TestStoreFetchRelated(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			c := collectionID(t)

			for _, order := range []string{"o1", "o2", "o1"} {
				_, err := s.Insert(ctx, c, schema.Record{"order": order, "amount": 10.0}, WriteOptions{})
				require.NoError(t, err)
			}
			related, err := s.FetchRelated(ctx, c, Match{Field: "order", Value: "o1"})
			require.NoError(t, err)
			assert.Len(t, related, 2)
			assert.Less(t, related[0].Meta.Seq, related[1].Meta.Seq)

			none, err := s.FetchRelated(ctx, c, Match{Field: "order", Value: "o9"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreSchemas(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			id := collectionID(t)
			cs := schema.CollectionSchema{
				ID:       id,
				Name:     "People",
				Slug:     "people-" + id,
				IsActive: true,
				Version:  2,
				Fields: []schema.FieldDefinition{
					{Name: "age", Type: schema.TypeNumber, Required: true, Validations: []schema.ValidationRule{{Kind: schema.RuleMin, Value: "0"}}},
					{Name: "status", Type: schema.TypeSelect, Options: &schema.SelectOptions{Choices: []schema.Choice{{Value: "a"}}}},
				},
				Views:     []schema.ViewDefinition{{Name: "All", Type: schema.ViewTable, VisibleFields: []string{"age"}}},
				UpdatedAt: time.Now().UTC(),
			}
			require.NoError(t, s.SaveSchema(ctx, cs))
			cs.Version = 3
			require.NoError(t, s.SaveSchema(ctx, cs))

			_, err := s.Insert(ctx, id, schema.Record{"age": 1.0}, WriteOptions{})
			require.NoError(t, err)

			loaded, err := s.LoadSchemas(ctx)
			require.NoError(t, err)
			var found *schema.CollectionSchema
			for i := range loaded {
				if loaded[i].ID == id {
					found = &loaded[i]
				}
			}
			require.NotNil(t, found)
			assert.Equal(t, int64(3), found.Version)
			require.Len(t, found.Fields, 2)
			assert.Equal(t, schema.TypeSelect, found.Fields[1].Type)
			assert.IsType(t, &schema.SelectOptions{}, found.Fields[1].Options)
			assert.Equal(t, []string{"age"}, found.Views[0].VisibleFields)

			require.NoError(t, s.DeleteSchema(ctx, id))
			records, err := s.List(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, records)
			assert.ErrorIs(t, s.DeleteSchema(ctx, id), ErrNotFound)
		})
	}
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().FetchByID(ctx, "c", "r")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseDriver(t *testing.T) {
	tests := map[string]Driver{"": DriverMemory, "Postgres": DriverPostgres, "pg": DriverPostgres, "sqlite": DriverSQLite}
	for in, want := range tests {
		got, err := ParseDriver(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDriver("mysql")
	assert.Error(t, err)
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, s.Ping(context.Background()))
}
