package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/cbnsndwch/struktura/diff"
	"github.com/cbnsndwch/struktura/schema"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printViolations lists the violations carried by err, if any, and reports
// whether it printed anything.
func printViolations(w io.Writer, err error) bool {
	var vs schema.Violations
	var rec *schema.RecordError
	var def *schema.DefinitionError
	switch {
	case errors.As(err, &rec):
		vs = rec.Violations
	case errors.As(err, &def):
		vs = def.Violations
	default:
		return false
	}
	for _, v := range vs {
		field := v.Field
		if field == "" {
			field = "-"
		}
		red.Fprint(w, "  ✗ ")
		fmt.Fprintf(w, "%s ", bold.Sprint(field))
		yellow.Fprintf(w, "[%s] ", v.Code)
		fmt.Fprintln(w, v.Message)
	}
	return len(vs) > 0
}

// violationsOf extracts the violations carried by err for JSON output.
func violationsOf(err error) schema.Violations {
	var rec *schema.RecordError
	if errors.As(err, &rec) {
		return rec.Violations
	}
	var def *schema.DefinitionError
	if errors.As(err, &def) {
		return def.Violations
	}
	return nil
}

func printOperations(w io.Writer, ops []diff.Operation) {
	for _, op := range ops {
		c := green
		sign := "+"
		switch op.Type {
		case diff.DropCollection, diff.DropField, diff.DropView:
			c, sign = red, "-"
		case diff.UpdateCollection, diff.UpdateField, diff.UpdateView, diff.ReplaceField:
			c, sign = yellow, "~"
		}
		c.Fprintf(w, "  %s %s\n", sign, op)
	}
}

// writeOutput writes data to path, or to w when path is empty or "-".
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
