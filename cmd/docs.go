package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/schema"
)

func newDocsCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		output string
		stored bool
	)
	cmd := &cobra.Command{
		Use:   "docs [paths...]",
		Short: "Generate documentation from collection definitions",
		Long: `Generate an entity relationship diagram and a field reference.

Supported formats:
  - mermaid: Mermaid ER diagram of collections and their references
  - markdown: field reference with types, rules and options
  - all: both, written to the --output directory

Examples:
  struktura docs --format mermaid --output erd.mmd
  struktura docs --format markdown --output COLLECTIONS.md
  struktura docs --format all --output docs/
  struktura docs --stored
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var schemas []schema.CollectionSchema
			if stored {
				a, err := opts.open(ctx)
				if err != nil {
					return err
				}
				defer a.Close()
				schemas = a.registry.List()
			} else {
				defs, err := opts.definitions(args)
				if err != nil {
					return err
				}
				reg, err := plan(ctx, defs)
				if err != nil {
					printViolations(cmd.ErrOrStderr(), err)
					return err
				}
				schemas = reg.List()
			}
			if len(schemas) == 0 {
				return fmt.Errorf("no collections to document")
			}

			out := cmd.OutOrStdout()
			switch format {
			case "mermaid":
				return writeOutput(out, output, mermaid(schemas))
			case "markdown":
				return writeOutput(out, output, markdown(schemas))
			case "all":
				if output == "" || output == "-" {
					return fmt.Errorf("--format all needs an --output directory")
				}
				for name, data := range map[string][]byte{
					"erd.mmd":        mermaid(schemas),
					"collections.md": markdown(schemas),
				} {
					path := filepath.Join(output, name)
					if err := writeOutput(out, path, data); err != nil {
						return err
					}
					green.Fprintln(out, "✅ Wrote", path)
				}
				return nil
			}
			return fmt.Errorf("unsupported format %q, use mermaid, markdown or all", format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "mermaid", "Documentation format (mermaid, markdown, all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or directory for --format all (default stdout)")
	cmd.Flags().BoolVar(&stored, "stored", false, "Document the stored collections instead of the definition files")
	return cmd
}

func entityName(slug string) string {
	return strings.ReplaceAll(slug, "-", "_")
}

func mermaid(schemas []schema.CollectionSchema) []byte {
	var b bytes.Buffer
	b.WriteString("erDiagram\n")
	for _, s := range schemas {
		fmt.Fprintf(&b, "    %s {\n", entityName(s.Slug))
		for _, f := range s.Fields {
			var marks []string
			if f.Type == schema.TypeReference {
				marks = append(marks, "FK")
			}
			if f.HasRule(schema.RuleUnique) {
				marks = append(marks, "UK")
			}
			fmt.Fprintf(&b, "        %s %s", f.Type, f.Name)
			if len(marks) > 0 {
				fmt.Fprintf(&b, " %s", strings.Join(marks, ","))
			}
			b.WriteString("\n")
		}
		b.WriteString("    }\n")
	}
	for _, s := range schemas {
		for _, f := range s.Fields {
			o, ok := f.Options.(*schema.ReferenceOptions)
			if !ok {
				continue
			}
			card := "}o--o|"
			if f.Required {
				card = "}o--||"
			}
			fmt.Fprintf(&b, "    %s %s %s : %s\n", entityName(s.Slug), card, entityName(o.ReferencedCollection), f.Name)
		}
	}
	return b.Bytes()
}

func markdown(schemas []schema.CollectionSchema) []byte {
	var b bytes.Buffer
	b.WriteString("# Collections\n\n")
	for _, s := range schemas {
		fmt.Fprintf(&b, "## %s\n\n", s.Name)
		fmt.Fprintf(&b, "Slug: `%s`", s.Slug)
		if !s.IsActive {
			b.WriteString(" (inactive)")
		}
		b.WriteString("\n\n")
		if s.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", s.Description)
		}
		b.WriteString("| Field | Type | Required | Details |\n")
		b.WriteString("|-------|------|----------|---------|\n")
		for _, f := range s.Fields {
			required := ""
			if f.Required {
				required = "yes"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", f.Name, f.Type, required, details(f))
		}
		b.WriteString("\n")
		if len(s.Views) > 0 {
			b.WriteString("Views:\n\n")
			for _, v := range s.Views {
				fmt.Fprintf(&b, "- **%s** (%s)\n", v.Name, v.Type)
			}
			b.WriteString("\n")
		}
	}
	return b.Bytes()
}

// details summarises the options, rules and default of a field for the
// field reference table.
func details(f schema.FieldDefinition) string {
	var parts []string
	if f.Description != "" {
		parts = append(parts, f.Description)
	}
	switch o := f.Options.(type) {
	case *schema.SelectOptions:
		values := make([]string, len(o.Choices))
		for i, c := range o.Choices {
			values[i] = c.Value
		}
		parts = append(parts, "choices: "+strings.Join(values, ", "))
	case *schema.ReferenceOptions:
		parts = append(parts, "→ "+o.ReferencedCollection)
	case *schema.LookupOptions:
		parts = append(parts, fmt.Sprintf("%s → %s.%s", o.ReferenceField, o.ReferencedCollection, o.DisplayField))
	case *schema.RollupOptions:
		parts = append(parts, fmt.Sprintf("%s(%s.%s by %s)", o.Function, o.ReferencedCollection, o.TargetField, o.RelationField))
	case *schema.FormulaOptions:
		parts = append(parts, "`"+o.Formula+"`")
	case *schema.AutoIncrementOptions:
		if o.Prefix != "" {
			parts = append(parts, "prefix "+o.Prefix)
		}
	}
	for _, r := range f.Validations {
		if r.Value != "" {
			parts = append(parts, fmt.Sprintf("%s %s", r.Kind, r.Value))
		} else {
			parts = append(parts, string(r.Kind))
		}
	}
	if f.DefaultValue != nil {
		parts = append(parts, fmt.Sprintf("default %v", f.DefaultValue))
	}
	return strings.ReplaceAll(strings.Join(parts, "; "), "|", `\|`)
}
