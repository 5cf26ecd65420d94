package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nainya/entgraph/pkg/store"
	"github.com/nainya/entgraph/pkg/wal"
)

// InspectResult is the JSON form of the inspect output.
type InspectResult struct {
	Path   string            `json:"path"`
	Replay wal.RecoveryStats `json:"replay"`
	Store  store.Stats       `json:"store"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Replay the journal and summarise the store",
		Long: `Open the journaled store, replay its write-ahead log and print the
replay statistics together with record, index and adjacency counts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, cmd.OutOrStdout())
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, w io.Writer) error {
	j, err := openStore(opts, opts.Config.Logger(), nil)
	if err != nil {
		return err
	}
	defer j.Close()

	result := InspectResult{
		Path:   j.Path(),
		Replay: j.ReplayStats(),
		Store:  j.Stats(),
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	st := result.Store
	fmt.Fprintf(w, "journal:      %s\n", result.Path)
	fmt.Fprintf(w, "replayed:     %d operations in %d transactions (%d uncommitted, %d damaged files)\n",
		result.Replay.ReplayedOperations, result.Replay.CommittedTxns,
		result.Replay.UncommittedTxns, result.Replay.DamagedFiles)
	fmt.Fprintf(w, "store:        %s\n", st.StoreID)
	fmt.Fprintf(w, "records:      %d\n", st.Records)

	types := make([]string, 0, len(st.Types))
	for typ := range st.Types {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(w, "  %-12s%d\n", typ, st.Types[typ])
	}

	fmt.Fprintf(w, "indices:      %d fields, %d buckets, %d ordered keys\n", st.IndexedFields, st.IndexBuckets, st.OrderedKeys)
	fmt.Fprintf(w, "references:   %d into %d targets (%d dangling)\n", st.References, st.Targets, st.Dangling)
	fmt.Fprintf(w, "ids:          high water %d, %d reclaimable\n", st.HighWater, st.Reclaimable)
	return nil
}
