package ports

import "context"

// Hook phases.
const (
	PhasePre  = "pre"
	PhasePost = "post"
)

// HookRunner executes operator supplied tasks around a run.
type HookRunner interface {
	Run(ctx context.Context, phase string, commands []string) error
}
