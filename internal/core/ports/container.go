package ports

import (
	"context"
	"io"

	"github.com/melih/harbormaster/internal/core/domain"
)

// ContainerRuntime is the control surface of the container engine. The
// reconciler only ever talks to the runtime through it, so Docker, Podman or
// a test double can sit behind it.
type ContainerRuntime interface {
	// Ping checks that the runtime answers at all.
	Ping(ctx context.Context) error
	// List returns the observed state of the named containers. Names that do
	// not exist are simply missing from the result.
	List(ctx context.Context, names []string) ([]domain.ObservedContainer, error)
	// ImageDigest returns the local content digest of ref, or "" when the
	// image is not present locally.
	ImageDigest(ctx context.Context, ref string) (string, error)
	Pull(ctx context.Context, ref string, auth *domain.Registry) error
	Login(ctx context.Context, reg domain.Registry) error
	// Create creates the container and returns its ID. It does not start it.
	Create(ctx context.Context, spec domain.ContainerSpec) (string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// LogReader is implemented by runtimes that can stream container output.
type LogReader interface {
	Logs(ctx context.Context, name, tail string) (io.ReadCloser, error)
}
