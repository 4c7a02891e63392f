package ports

import (
	"context"

	"github.com/melih/harbormaster/internal/core/domain"
)

// FactStore persists the restart-needed marker read by post-run hooks.
type FactStore interface {
	Write(ctx context.Context, fact domain.Fact) error
	// Read returns the marker on disk. ok is false when there is none.
	Read(ctx context.Context) (fact domain.Fact, ok bool, err error)
	// Clean removes the marker. A missing marker is not an error.
	Clean(ctx context.Context) error
	Path() string
}
