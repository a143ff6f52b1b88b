package root

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/ledger"
	"github.com/chronominer/chronominer/pkg/processor"
	"github.com/chronominer/chronominer/pkg/schema"
)

// defaultConfigFile is looked up in the working directory when --config is
// not given; absence falls back to built-in defaults.
const defaultConfigFile = "chronominer.yaml"

// commonFlags are shared by every command that touches providers or the
// output directory.
type commonFlags struct {
	configPath string
	envFiles   []string
}

func addCommonFlags(cmd *cobra.Command, f *commonFlags) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to the configuration file (default: ./"+defaultConfigFile+")")
	cmd.Flags().StringSliceVar(&f.envFiles, "env-from-file", nil, "Load environment variables from these files")
}

// loadConfig reads the configuration file, tolerating a missing default file.
func (f *commonFlags) loadConfig(ctx context.Context) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		path = defaultConfigFile
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			slog.Debug("No configuration file found, using defaults")
			return config.Default(), nil
		}
	}

	return config.Load(ctx, config.FileReader{Path: path})
}

// setup builds the processor and its collaborators from the configuration.
func (f *commonFlags) setup(ctx context.Context) (*processor.Processor, *config.Config, error) {
	cfg, err := f.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	env, err := environment.NewDefaultProvider(f.envFiles...)
	if err != nil {
		return nil, nil, err
	}

	registry, err := schema.LoadDir(cfg.Paths.SchemasDir)
	if err != nil {
		return nil, nil, err
	}

	var led ledger.Ledger = ledger.Disabled{}
	if cfg.DailyLimit.Enabled {
		if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
			return nil, nil, err
		}
		led = ledger.New(filepath.Join(cfg.Paths.OutputDir, ledger.StateFileName), cfg.DailyLimit.Tokens)
	}

	return processor.New(cfg, env, registry, led), cfg, nil
}
