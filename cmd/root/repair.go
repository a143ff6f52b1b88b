package root

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

type repairFlags struct {
	commonFlags
	files   []string
	force   bool
	verbose bool
}

func newRepairExtractionsCmd() *cobra.Command {
	var flags repairFlags

	cmd := &cobra.Command{
		Use:   "repair-extractions",
		Short: "Complete interrupted extraction runs",
		Long:  "Inspect every journal under the output directory, ingest completed batches, and re-run chunks with missing or retryable failed responses. Chunks that failed permanently are only re-queued with --force.",
		Args:  cobra.NoArgs,
		RunE:  flags.runRepairCommand,
	}

	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringSliceVar(&flags.files, "files", nil, "Only repair these source file stems")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Also re-queue chunks that failed permanently")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging for this run")

	return cmd
}

func (f *repairFlags) runRepairCommand(cmd *cobra.Command, _ []string) error {
	if f.verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	proc, _, err := f.setup(cmd.Context())
	if err != nil {
		return err
	}

	results, err := proc.Repair(cmd.Context(), f.files, f.force)
	if err != nil {
		return RuntimeErrorf(cmd, err)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to repair")
		return nil
	}

	printSummary(cmd, results)
	return nil
}
