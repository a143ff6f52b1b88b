package root

import (
	"fmt"

	"github.com/spf13/cobra"
)

type generateRangesFlags struct {
	commonFlags
	tokens int
}

func newGenerateLineRangesCmd() *cobra.Command {
	var flags generateRangesFlags

	cmd := &cobra.Command{
		Use:   "generate-line-ranges <file>",
		Short: "Write a token-bounded line ranges file for a source file",
		Long:  "Run the automatic chunker over the file and write the resulting start-end pairs to <stem>_line_ranges.txt for manual editing.",
		Args:  cobra.ExactArgs(1),
		RunE:  flags.runGenerateCommand,
	}

	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().IntVar(&flags.tokens, "tokens", 0, "Token budget per chunk (default: chunking.tokens_per_chunk)")

	return cmd
}

func (f *generateRangesFlags) runGenerateCommand(cmd *cobra.Command, args []string) error {
	proc, _, err := f.setup(cmd.Context())
	if err != nil {
		return err
	}

	path, ranges, err := proc.GenerateLineRanges(args[0], f.tokens)
	if err != nil {
		return RuntimeErrorf(cmd, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d ranges to %s\n", len(ranges), path)
	return nil
}

type readjustRangesFlags struct {
	commonFlags
	contextWindow int
	boundaryType  string
	dryRun        bool
}

func newReadjustLineRangesCmd() *cobra.Command {
	var flags readjustRangesFlags

	cmd := &cobra.Command{
		Use:   "readjust-line-ranges <schema> <file>",
		Short: "Refine a line ranges file with the boundary model",
		Long:  "Ask the configured model to align each range boundary with the nearest semantic marker and rewrite the range file. With --dry-run the proposed changes are printed without touching the file.",
		Args:  cobra.ExactArgs(2),
		RunE:  flags.runReadjustCommand,
	}

	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().IntVar(&flags.contextWindow, "context-window", 0, "Lines of context around each boundary (default: refine.context_window)")
	cmd.Flags().StringVar(&flags.boundaryType, "boundary-type", "", "Kind of unit the boundaries separate, e.g. \"diary entry\" (default: refine.boundary_type)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print proposed changes without rewriting the range file")

	return cmd
}

func (f *readjustRangesFlags) runReadjustCommand(cmd *cobra.Command, args []string) error {
	proc, _, err := f.setup(cmd.Context())
	if err != nil {
		return err
	}

	changes, err := proc.ReadjustLineRanges(cmd.Context(), args[0], args[1], f.contextWindow, f.boundaryType, f.dryRun)
	if err != nil {
		return RuntimeErrorf(cmd, err)
	}

	out := cmd.OutOrStdout()
	if len(changes) == 0 {
		fmt.Fprintln(out, "All boundaries already aligned, nothing to change")
		return nil
	}

	for _, change := range changes {
		fmt.Fprintln(out, change.String())
	}
	if f.dryRun {
		fmt.Fprintf(out, "%d proposed changes (dry run, file untouched)\n", len(changes))
	} else {
		fmt.Fprintf(out, "%d boundaries adjusted\n", len(changes))
	}

	return nil
}

// RuntimeErrorf reports err on stderr and wraps it so the root error handler
// does not print it twice.
func RuntimeErrorf(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err)
	return RuntimeError{Err: err}
}
