package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoots(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(file, []byte("collections: []\n"), 0o644))

	roots := Roots([]string{
		dir,
		file,
		filepath.Join(dir, "schemas", "**", "*.yaml"),
	})
	assert.Equal(t, []string{dir, filepath.Join(dir, "schemas")}, roots)
}

func TestRunReportsYAMLChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batches := make(chan []string, 10)
	go func() {
		_ = w.Run(ctx, func(_ context.Context, changed []string) { batches <- changed })
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	yamlPath := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("collections: []\n"), 0o644))

	select {
	case changed := <-batches:
		assert.Equal(t, []string{yamlPath}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	w, err := New([]string{t.TempDir()})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx, func(context.Context, []string) {}), context.Canceled)
}
