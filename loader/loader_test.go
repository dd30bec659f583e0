package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/schema"
)

const tasksYAML = `collections:
  - name: Project Tasks
    description: Work to do
    fields:
      - name: title
        type: text
        required: true
      - name: status
        type: select
        options:
          choices: [todo, doing, done]
      - name: estimate
        type: number
        validations:
          - kind: min
            value: "0"
            message: estimates cannot be negative
    views:
      - name: Board
        type: kanban
        group:
          field: status
  - name: Archive
    slug: old-tasks
    active: false
    fields:
      - name: note
        type: text
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParseCollections(t *testing.T) {
	defs, err := ParseCollections("tasks.yaml", []byte(tasksYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	tasks := defs[0].Input
	assert.Equal(t, "project-tasks", tasks.Slug)
	assert.False(t, tasks.Inactive)
	require.Len(t, tasks.Fields, 3)
	assert.Equal(t, schema.TypeSelect, tasks.Fields[1].Type)
	opts, ok := tasks.Fields[1].Options.(*schema.SelectOptions)
	require.True(t, ok)
	assert.Equal(t, 2, opts.Index("done"))
	assert.Equal(t, "estimates cannot be negative", tasks.Fields[2].Validations[0].Message)
	require.Len(t, tasks.Views, 1)
	assert.Equal(t, "status", tasks.Views[0].Group.Field)

	archive := defs[1].Input
	assert.Equal(t, "old-tasks", archive.Slug)
	assert.True(t, archive.Inactive)
}

func TestParseCollectionsRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		is   error
	}{
		{
			name: "unknown type",
			yaml: "collections:\n  - name: a\n    fields:\n      - name: x\n        type: texxt\n",
			is:   schema.ErrUnknownType,
		},
		{
			name: "illegal option",
			yaml: "collections:\n  - name: a\n    fields:\n      - name: x\n        type: text\n        options:\n          precision: 2\n",
			is:   schema.ErrInvalidDefinition,
		},
		{
			name: "duplicate field",
			yaml: "collections:\n  - name: a\n    fields:\n      - name: x\n        type: text\n      - name: x\n        type: number\n",
			is:   schema.ErrInvalidDefinition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCollections("bad.yaml", []byte(tt.yaml))
			assert.ErrorIs(t, err, tt.is)
			assert.Contains(t, err.Error(), "bad.yaml: collection a")
		})
	}

	t.Run("unknown key", func(t *testing.T) {
		_, err := ParseCollections("bad.yaml", []byte("collections:\n  - name: a\n    feilds: []\n"))
		assert.Error(t, err)
	})
}

func TestLoadCollectionsGlob(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "b/tasks.yaml", tasksYAML)
	write(t, dir, "a/people.yml", "collections:\n  - name: People\n    fields:\n      - name: email\n        type: email\n")
	write(t, dir, "a/readme.txt", "not yaml")

	defs, err := LoadCollections(filepath.Join(dir, "**", "*.{yaml,yml}"))
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "people", defs[0].Input.Slug, "files load in path order")
	assert.Equal(t, filepath.Join(dir, "a", "people.yml"), defs[0].Source)

	byDir, err := LoadCollections(dir)
	require.NoError(t, err)
	assert.Len(t, byDir, 3)

	_, err = LoadCollections(filepath.Join(dir, "*.json"))
	assert.ErrorIs(t, err, ErrNoFiles)

	write(t, dir, "c/dup.yaml", "collections:\n  - name: People\n    fields: []\n")
	_, err = LoadCollections(dir)
	assert.ErrorContains(t, err, "already defined")
}

func TestMarshalRoundTrip(t *testing.T) {
	defs, err := ParseCollections("tasks.yaml", []byte(tasksYAML))
	require.NoError(t, err)
	schemas := make([]schema.CollectionSchema, len(defs))
	for i, d := range defs {
		schemas[i] = schema.CollectionSchema{
			Name:     d.Input.Name,
			Slug:     d.Input.Slug,
			Fields:   d.Input.Fields,
			Views:    d.Input.Views,
			IsActive: !d.Input.Inactive,
		}
	}

	data, err := Marshal(schemas)
	require.NoError(t, err)
	again, err := ParseCollections("export.yaml", data)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, defs[0].Input.Fields, again[0].Input.Fields)
	assert.True(t, again[1].Input.Inactive)
}

func TestLoadRecords(t *testing.T) {
	dir := t.TempDir()

	list, err := LoadRecords(write(t, dir, "list.json", `[{"title":"a","estimate":2},{"title":"b"}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2.0, list[0]["estimate"])

	one, err := LoadRecords(write(t, dir, "one.json", `{"title":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"title": "a"}}, one)

	yml, err := LoadRecords(write(t, dir, "list.yaml", "- title: a\n  tags: [x, y]\n- title: b\n"))
	require.NoError(t, err)
	require.Len(t, yml, 2)
	assert.Equal(t, []any{"x", "y"}, yml[0]["tags"])

	_, err = LoadRecords(write(t, dir, "scalar.yaml", "just text\n"))
	assert.Error(t, err)

	_, err = LoadRecords(write(t, dir, "records.csv", "title\na\n"))
	assert.ErrorContains(t, err, "must be .json")
}
