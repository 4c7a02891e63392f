package ports

import "context"

// SourceFetcher retrieves the container document from a remote source.
type SourceFetcher interface {
	// Fetch returns the raw YAML document holding the container list.
	Fetch(ctx context.Context) ([]byte, error)
}
