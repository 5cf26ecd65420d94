package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SchemaSummary describes one declared type.
type SchemaSummary struct {
	Name    string   `json:"name"`
	Fields  int      `json:"fields"`
	Indexed []string `json:"indexed,omitempty"`
	Edges   []string `json:"edges,omitempty"`
}

// NewCheckConfigCommand creates the check-config command.
func NewCheckConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and its schema declarations",
		Long: `Load the configuration, apply flag overrides and validate it,
including every declared record type. Nothing is opened.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(rootOpts, cmd.OutOrStdout())
		},
	}

	return cmd
}

func runCheckConfig(opts *RootOptions, w io.Writer) error {
	schemas, err := opts.Config.TypeSchemas()
	if err != nil {
		return err
	}

	summaries := make([]SchemaSummary, 0, len(schemas))
	for _, ts := range schemas {
		s := SchemaSummary{Name: ts.Name, Fields: len(ts.Fields), Indexed: ts.IndexedFields()}
		for _, ed := range ts.Edges {
			s.Edges = append(s.Edges, fmt.Sprintf("%s -> %s (%s, %s)", ed.Name, ed.Target, ed.Cardinality, ed.Policy))
		}
		summaries = append(summaries, s)
	}

	if opts.Format == "json" {
		return json.NewEncoder(w).Encode(map[string]any{"valid": true, "schemas": summaries})
	}

	fmt.Fprintf(w, "config ok: journal in %s, %d types\n", opts.Config.Store.WALDir, len(summaries))
	for _, s := range summaries {
		fmt.Fprintf(w, "  %s: %d fields", s.Name, s.Fields)
		if len(s.Indexed) > 0 {
			fmt.Fprintf(w, ", indexed %v", s.Indexed)
		}
		fmt.Fprintln(w)
		for _, e := range s.Edges {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	return nil
}
