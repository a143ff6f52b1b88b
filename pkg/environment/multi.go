package environment

import "context"

// MultiProvider chains credential sources; the first non-empty value wins.
type MultiProvider struct {
	chain []Provider
}

func NewMultiProvider(providers ...Provider) *MultiProvider {
	return &MultiProvider{chain: providers}
}

func (p *MultiProvider) Get(ctx context.Context, name string) string {
	for _, source := range p.chain {
		if value := source.Get(ctx, name); value != "" {
			return value
		}
	}
	return ""
}
