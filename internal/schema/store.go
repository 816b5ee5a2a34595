package schema

import "context"

// Store serves schema definition bundles. Implementations are read-mostly;
// the pipeline only ever loads, while the schema CLI may also write through
// backend-specific methods.
type Store interface {
	Load(ctx context.Context) (*Bundle, error)
	Close() error
}
