package threatmodel

import "context"

// Invoker port (interface untuk model backend)
type Invoker interface {
	// Invoke sends one prompt and returns the raw text of the first reply.
	Invoke(ctx context.Context, prompt string) (string, error)
}

// ExportStore port (interface untuk penyimpanan hasil export)
type ExportStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}
