package environment

import "context"

// Provider resolves named credentials and other environment values.
type Provider interface {
	// Get retrieves the value of an environment variable by name.
	// Returns an empty string when the variable is not set.
	Get(ctx context.Context, name string) string
}
