package root

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chronominer/chronominer/pkg/processor"
)

// ErrPartial signals that the run finished but at least one chunk or file is
// incomplete. main maps it to a distinct exit code.
var ErrPartial = errors.New("extraction completed partially")

type processFlags struct {
	commonFlags
	chunking      string
	batch         bool
	noWait        bool
	contextInline string
	contextSource string
	verbose       bool
	quiet         bool
}

func newProcessCmd() *cobra.Command {
	var flags processFlags

	cmd := &cobra.Command{
		Use:   "process <schema> <input>",
		Short: "Extract structured records from text files",
		Long:  "Chunk each input file, send every chunk to the configured model, and aggregate the responses into one JSON dataset per file. <input> is a file, a directory, or a glob pattern.",
		Example: `  chronominer process diary_entries sources/
  chronominer process diary_entries sources/1850_diary.txt --chunking line_ranges
  chronominer process diary_entries "sources/**/*.txt" --batch --no-wait`,
		Args: cobra.ExactArgs(2),
		RunE: flags.runProcessCommand,
	}

	addCommonFlags(cmd, &flags.commonFlags)
	cmd.Flags().StringVar(&flags.chunking, "chunking", "", "Chunking strategy override (auto, auto-adjust, line_ranges, adjust-line-ranges, per-file)")
	cmd.Flags().BoolVar(&flags.batch, "batch", false, "Submit chunks as one asynchronous provider batch job")
	cmd.Flags().BoolVar(&flags.noWait, "no-wait", false, "Do not wait: return after batch submission, or stop instead of blocking on the daily token limit")
	cmd.Flags().StringVar(&flags.contextInline, "context", "", "Extra context text injected into every prompt")
	cmd.Flags().StringVar(&flags.contextSource, "context-source", "", "File whose contents are injected into every prompt")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging for this run")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Only log warnings and errors")

	return cmd
}

func (f *processFlags) runProcessCommand(cmd *cobra.Command, args []string) error {
	f.applyVerbosity(cmd)

	ctx := cmd.Context()
	schemaName, input := args[0], args[1]

	proc, _, err := f.setup(ctx)
	if err != nil {
		return err
	}

	files, err := proc.Discover(input)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no input files found under %s", input)
	}

	opts := processor.Options{
		Strategy:      f.chunking,
		Batch:         f.batch,
		NoWait:        f.noWait,
		ContextInline: f.contextInline,
		ContextSource: f.contextSource,
	}

	results, runErr := proc.ProcessAll(ctx, schemaName, files, opts)
	printSummary(cmd, results)

	if runErr != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), runErr)
		return RuntimeError{Err: runErr}
	}

	for _, res := range results {
		if !res.Complete && !res.Submitted {
			return RuntimeError{Err: ErrPartial}
		}
	}

	return nil
}

func (f *processFlags) applyVerbosity(cmd *cobra.Command) {
	switch {
	case f.verbose:
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
	case f.quiet:
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn})))
	}
}

func printSummary(cmd *cobra.Command, results []*processor.FileResult) {
	if len(results) == 0 {
		return
	}

	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, res := range results {
		switch {
		case res.Submitted:
			fmt.Fprintf(out, "%s %s (%d chunks submitted, run check-batches to collect)\n", yellow("pending"), res.SourceFile, res.ChunkCount)
		case res.Complete:
			fmt.Fprintf(out, "%s %s (%d chunks)\n", green("done"), res.SourceFile, res.ChunkCount)
		default:
			fmt.Fprintf(out, "%s %s (%d of %d chunks failed)\n", red("partial"), res.SourceFile, res.Failed, res.ChunkCount)
		}
	}
}
