// Package root wires the chronominer command tree.
package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	debugMode   bool
	logFilePath string
	logFile     io.Closer
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "chronominer",
		Short: "chronominer - structured extraction from historical text sources",
		Long:  "chronominer chunks large text files, extracts schema-conformant JSON through LLM providers, and aggregates the results into per-file datasets",
		Example: `  chronominer process diary_entries sources/
  chronominer process diary_entries sources/1850_diary.txt --batch --no-wait
  chronominer check-batches`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.setupLogging(cmd.ErrOrStderr()); err != nil {
				// Fall back to stderr so we still get logs.
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
					Level: flags.level(),
				})))
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Write logs to this file instead of stderr")

	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newGenerateLineRangesCmd())
	cmd.AddCommand(newReadjustLineRangesCmd())
	cmd.AddCommand(newCheckBatchesCmd())
	cmd.AddCommand(newCancelBatchesCmd())
	cmd.AddCommand(newRepairExtractionsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetContext(ctx)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		return processErr(ctx, err, stderr)
	}
	return nil
}

func processErr(ctx context.Context, err error, stderr io.Writer) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := asRuntimeError(err); ok {
		// Runtime errors were already reported by the command itself.
		return err
	}

	fmt.Fprintln(stderr, err)
	return err
}

func (f *rootFlags) level() slog.Level {
	if f.debugMode {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// setupLogging configures slog. Logs go to stderr, or to --log-file when set.
func (f *rootFlags) setupLogging(stderr io.Writer) error {
	out := stderr

	if f.logFilePath != "" {
		logFile, err := os.OpenFile(f.logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		f.logFile = logFile
		out = logFile
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: f.level()})))
	return nil
}

// RuntimeError wraps runtime errors to distinguish them from usage errors.
type RuntimeError struct {
	Err error
}

func (e RuntimeError) Error() string {
	return e.Err.Error()
}

func (e RuntimeError) Unwrap() error {
	return e.Err
}

func asRuntimeError(err error) (RuntimeError, bool) {
	var re RuntimeError
	ok := errors.As(err, &re)
	return re, ok
}
