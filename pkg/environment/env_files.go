package environment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// EnvFilesProvider resolves variables from one or more dotenv files.
// Files are read once at construction; later files never override earlier ones.
type EnvFilesProvider struct {
	values map[string]string
}

func NewEnvFilesProvider(paths ...string) (*EnvFilesProvider, error) {
	values := map[string]string{}

	for _, path := range paths {
		fileValues, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("reading env file %s: %w", path, err)
		}

		for k, v := range fileValues {
			if _, ok := values[k]; !ok {
				values[k] = v
			}
		}
	}

	slog.Debug("Loaded environment files", "files", len(paths), "variables", len(values))

	return &EnvFilesProvider{values: values}, nil
}

func (p *EnvFilesProvider) Get(_ context.Context, name string) string {
	return p.values[name]
}
