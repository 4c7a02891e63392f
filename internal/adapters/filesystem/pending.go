package filesystem

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
)

// pendingFile sits next to the generated files. Generated files never start
// with a dot, so it cannot collide with one.
const pendingFile = ".pending"

// Pending reads the fields remembered by MarkPending.
func (p *Provisioner) Pending(container string) ([]domain.Field, error) {
	dir, err := p.containerDir(container)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, pendingFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var fields []domain.Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrapf(err, "malformed %s", path)
	}
	return fields, nil
}

// MarkPending records that the files behind fields changed while the
// container still runs with the old ones.
func (p *Provisioner) MarkPending(container string, fields []domain.Field) error {
	dir, err := p.containerDir(container)
	if err != nil {
		return err
	}
	if _, err := p.EnsureDirectory(dir, p.dirs); err != nil {
		return err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "failed to encode pending fields")
	}
	path := filepath.Join(dir, pendingFile)
	if err := atomicwriter.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	p.logger.Warn("file changes pending", zap.String("container", container), zap.Any("fields", fields))
	return nil
}

func (p *Provisioner) ClearPending(container string) error {
	dir, err := p.containerDir(container)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, pendingFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	return nil
}
