package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/entgraph/pkg/codec"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/query"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	Output string
	Types  []string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every record as protobuf JSON lines",
		Long: `Replay the journal and write one protobuf JSON object per record,
in insertion order. --type restricts the export to the given types.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringSliceVarP(&opts.Types, "type", "t", nil, "export only these types")

	return cmd
}

func runExport(rootOpts *RootOptions, opts *ExportOptions, cmd *cobra.Command) error {
	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("create %s: %w", opts.Output, err)
		}
		defer f.Close()
		w = f
	}

	j, err := openStore(rootOpts, rootOpts.Config.Logger(), nil)
	if err != nil {
		return err
	}
	defer j.Close()

	x := codec.NewExporter(w)
	if len(opts.Types) == 0 {
		var werr error
		err = j.Scan(func(e *ent.Ent) bool {
			werr = x.Write(e)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
	} else {
		var found []*ent.Ent
		found, err = j.FindAll(typesQuery(opts.Types))
		for _, e := range found {
			if werr := x.Write(e); werr != nil {
				return werr
			}
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records\n", x.Count())
	return nil
}

// typesQuery matches records of any of the given types
func typesQuery(types []string) query.Query {
	or := make(query.Or, 0, len(types))
	for _, t := range types {
		or = append(or, query.HasType{Name: t})
	}
	return query.New(or)
}
