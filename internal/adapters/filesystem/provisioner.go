// Package filesystem provisions the host side of containers: volume and
// mount directories plus the generated environment, property and config
// files under the container environment directory.
package filesystem

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/moby/sys/atomicwriter"
	"github.com/moby/sys/user"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

const header = "# generated by harbormaster, do not edit\n"

var _ ports.Provisioner = (*Provisioner)(nil)

// Provisioner writes below envDir, one subdirectory per container.
type Provisioner struct {
	envDir string
	dirs   domain.Ownership
	logger *zap.Logger
}

// NewProvisioner returns a provisioner rooted at envDir. dirs is applied to
// the per-container directories it creates.
func NewProvisioner(envDir string, dirs domain.Ownership) *Provisioner {
	return &Provisioner{envDir: envDir, dirs: dirs, logger: logging.ComponentLogger("filesystem")}
}

// EnsureDirectory creates path with its parents and applies own to the
// leaf. It reports whether anything was created or adjusted.
func (p *Provisioner) EnsureDirectory(path string, own domain.Ownership) (bool, error) {
	mode, err := own.FileMode(0o755)
	if err != nil {
		return false, err
	}
	uid, gid, err := resolve(own)
	if err != nil {
		return false, err
	}

	changed := false
	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, mode); err != nil {
			return false, errors.Wrapf(err, "failed to create %s", path)
		}
		changed = true
		p.logger.Info("created directory", zap.String("path", path))
	case err != nil:
		return false, errors.Wrapf(err, "failed to stat %s", path)
	case !fi.IsDir():
		return false, errors.Errorf("%s exists and is not a directory", path)
	}

	adjusted, err := apply(path, mode|os.ModeDir, uid, gid)
	return changed || adjusted, err
}

// SyncEnvironment writes <container>/container.env as KEY=value lines.
//
// The Sync methods report content changes only. A mode or owner drift is
// repaired without being reported.
func (p *Provisioner) SyncEnvironment(container string, env map[string]string, own domain.Ownership) (bool, error) {
	var b bytes.Buffer
	b.WriteString(header)
	for _, k := range sortedKeys(env) {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	return p.sync(container, "container.env", b.Bytes(), own)
}

// SyncProperties writes a properties file as "key: value" lines.
func (p *Provisioner) SyncProperties(container, file string, props map[string]string, own domain.Ownership) (bool, error) {
	var b bytes.Buffer
	b.WriteString(header)
	for _, k := range sortedKeys(props) {
		fmt.Fprintf(&b, "%s: %s\n", k, props[k])
	}
	return p.sync(container, file, b.Bytes(), own)
}

// SyncConfigFiles renders every config file in its declared format.
func (p *Provisioner) SyncConfigFiles(container string, files []domain.ConfigFile, own domain.Ownership) (bool, error) {
	changed := false
	for _, cf := range files {
		data, err := Render(cf)
		if err != nil {
			return changed, errors.WithMessagef(err, "render %s", cf.Name)
		}
		c, err := p.sync(container, cf.Name, data, own)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}

// Path returns where a generated file of container lives.
func (p *Provisioner) Path(container, file string) string {
	return filepath.Join(p.envDir, container, file)
}

func (p *Provisioner) sync(container, file string, data []byte, own domain.Ownership) (bool, error) {
	if file == "" || strings.HasPrefix(file, ".") || strings.ContainsRune(file, os.PathSeparator) {
		return false, errors.Errorf("invalid file name %q", file)
	}
	dir, err := p.containerDir(container)
	if err != nil {
		return false, err
	}
	if _, err := p.EnsureDirectory(dir, p.dirs); err != nil {
		return false, err
	}

	mode, err := own.FileMode(0o640)
	if err != nil {
		return false, err
	}
	uid, gid, err := resolve(own)
	if err != nil {
		return false, err
	}

	target := p.Path(container, file)
	changed := false
	current, err := os.ReadFile(target)
	switch {
	case err == nil && sha256.Sum256(current) == sha256.Sum256(data):
	case err == nil || os.IsNotExist(err):
		if err := atomicwriter.WriteFile(target, data, mode); err != nil {
			return false, errors.Wrapf(err, "failed to write %s", target)
		}
		changed = true
		p.logger.Info("updated file", zap.String("container", container), zap.String("path", target))
	default:
		return false, errors.Wrapf(err, "failed to read %s", target)
	}

	// Mode and owner are fixed in place. The container only sees content.
	if _, err := apply(target, mode, uid, gid); err != nil {
		return false, err
	}
	return changed, nil
}

// containerDir is the directory of container below envDir. A name that
// resolves anywhere else is refused.
func (p *Provisioner) containerDir(container string) (string, error) {
	if container == "" || strings.ContainsAny(container, `/\`) {
		return "", errors.Errorf("invalid container name %q", container)
	}
	dir := filepath.Join(p.envDir, container)
	rel, err := filepath.Rel(p.envDir, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.Errorf("container %q resolves outside %s", container, p.envDir)
	}
	return dir, nil
}

// apply sets mode and ownership on path when they differ. An id of -1 leaves
// that side alone.
func apply(path string, mode os.FileMode, uid, gid int) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat %s", path)
	}

	changed := false
	if fi.Mode().Perm() != mode.Perm() {
		if err := os.Chmod(path, mode.Perm()); err != nil {
			return false, errors.Wrapf(err, "failed to chmod %s", path)
		}
		changed = true
	}

	curUID, curGID := -1, -1
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		curUID, curGID = int(st.Uid), int(st.Gid)
	}
	if (uid >= 0 && uid != curUID) || (gid >= 0 && gid != curGID) {
		if err := os.Chown(path, uid, gid); err != nil {
			return false, errors.Wrapf(err, "failed to chown %s", path)
		}
		changed = true
	}
	return changed, nil
}

// resolve maps owner and group names to ids. Numeric values are taken as
// ids, empty values as "leave unchanged".
func resolve(own domain.Ownership) (int, int, error) {
	uid, gid := -1, -1
	if own.Owner != "" {
		if n, err := strconv.Atoi(own.Owner); err == nil {
			uid = n
		} else {
			u, err := user.LookupUser(own.Owner)
			if err != nil {
				return 0, 0, errors.Wrapf(err, "unknown owner %q", own.Owner)
			}
			uid = u.Uid
		}
	}
	if own.Group != "" {
		if n, err := strconv.Atoi(own.Group); err == nil {
			gid = n
		} else {
			g, err := user.LookupGroup(own.Group)
			if err != nil {
				return 0, 0, errors.Wrapf(err, "unknown group %q", own.Group)
			}
			gid = g.Gid
		}
	}
	return uid, gid, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
