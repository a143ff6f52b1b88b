package environment

// NewDefaultProvider returns the provider chain used by the CLI: dotenv files
// first (when given), then the process environment.
func NewDefaultProvider(envFiles ...string) (Provider, error) {
	if len(envFiles) == 0 {
		return NewOsEnvProvider(), nil
	}

	files, err := NewEnvFilesProvider(envFiles...)
	if err != nil {
		return nil, err
	}

	return NewMultiProvider(files, NewOsEnvProvider()), nil
}
