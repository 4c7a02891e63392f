package ports

import "github.com/melih/harbormaster/internal/core/domain"

// Provisioner manages the host side of a container: directories and the
// generated environment, property and config files. Every Sync method
// reports whether file content changed.
type Provisioner interface {
	EnsureDirectory(path string, own domain.Ownership) (bool, error)
	SyncEnvironment(container string, env map[string]string, own domain.Ownership) (bool, error)
	SyncProperties(container, file string, props map[string]string, own domain.Ownership) (bool, error)
	SyncConfigFiles(container string, files []domain.ConfigFile, own domain.Ownership) (bool, error)

	// Pending returns the fields whose files were rewritten by an earlier
	// run that never got the container converged.
	Pending(container string) ([]domain.Field, error)
	MarkPending(container string, fields []domain.Field) error
	// ClearPending forgets the marker. A missing marker is not an error.
	ClearPending(container string) error
}
