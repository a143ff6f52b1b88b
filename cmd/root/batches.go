package root

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chronominer/chronominer/pkg/batch"
	"github.com/chronominer/chronominer/pkg/processor"
)

type checkBatchesFlags struct {
	commonFlags
	files []string
}

func newCheckBatchesCmd() *cobra.Command {
	var flags checkBatchesFlags

	cmd := &cobra.Command{
		Use:   "check-batches",
		Short: "Poll pending batch jobs and ingest completed results",
		Long:  "Scan the output directory for journals with tracked batches, poll their provider status, download completed results, and rebuild datasets that became complete.",
		Args:  cobra.NoArgs,
		RunE:  flags.runCheckCommand,
	}

	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringSliceVar(&flags.files, "files", nil, "Only check batches for these source file stems")

	return cmd
}

func (f *checkBatchesFlags) runCheckCommand(cmd *cobra.Command, _ []string) error {
	proc, _, err := f.setup(cmd.Context())
	if err != nil {
		return err
	}

	rows, err := proc.CheckBatches(cmd.Context(), f.files)
	if err != nil {
		return RuntimeErrorf(cmd, err)
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tracked batches found")
		return nil
	}

	printBatchTable(cmd, rows)
	return nil
}

func printBatchTable(cmd *cobra.Command, rows []processor.BatchRow) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tBATCH ID\tPROVIDER\tSTATUS\tCHUNKS\tINGESTED")

	for _, row := range rows {
		ingested := ""
		if row.Downloaded {
			ingested = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			row.SourceFile, row.BatchID, row.Provider, colorStatus(row.Status), row.ChunkCount, ingested)
	}

	w.Flush()
}

func colorStatus(status string) string {
	switch batch.Status(status) {
	case batch.StatusCompleted:
		return color.GreenString(status)
	case batch.StatusFailed, batch.StatusExpired:
		return color.RedString(status)
	case batch.StatusCancelled:
		return color.YellowString(status)
	default:
		return status
	}
}

type cancelBatchesFlags struct {
	commonFlags
	files []string
	force bool
}

func newCancelBatchesCmd() *cobra.Command {
	var flags cancelBatchesFlags

	cmd := &cobra.Command{
		Use:   "cancel-batches",
		Short: "Cancel pending batch jobs",
		Args:  cobra.NoArgs,
		RunE:  flags.runCancelCommand,
	}

	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringSliceVar(&flags.files, "files", nil, "Only cancel batches for these source file stems")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Cancel without asking for confirmation")

	return cmd
}

func (f *cancelBatchesFlags) runCancelCommand(cmd *cobra.Command, _ []string) error {
	if !f.force && !confirm(cmd, "Cancel all pending batches?") {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	}

	proc, _, err := f.setup(cmd.Context())
	if err != nil {
		return err
	}

	cancelled, err := proc.CancelBatches(cmd.Context(), f.files)
	if err != nil {
		return RuntimeErrorf(cmd, err)
	}

	if len(cancelled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending batches to cancel")
		return nil
	}

	for _, row := range cancelled {
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s (%s)\n", row.BatchID, row.SourceFile)
	}
	return nil
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)

	reader := bufio.NewReader(cmd.InOrStdin())
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
