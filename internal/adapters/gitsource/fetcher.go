// Package gitsource reads the container document from a git repository.
package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

var _ ports.SourceFetcher = (*Fetcher)(nil)

// Options describe where the document lives.
type Options struct {
	URL string
	// Ref is a branch, a tag or a full reference name. Empty means the
	// remote HEAD.
	Ref  string
	Path string
	// Depth 0 fetches the full history.
	Depth    int
	Username string
	Password string
}

type Fetcher struct {
	opts   Options
	logger *zap.Logger
}

func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.URL == "" {
		return nil, errors.New("git source: url is required")
	}
	if opts.Path == "" {
		opts.Path = "containers.yml"
	}
	if filepath.IsAbs(opts.Path) || strings.HasPrefix(filepath.Clean(opts.Path), "..") {
		return nil, errors.Errorf("git source: path %q must stay inside the repository", opts.Path)
	}
	return &Fetcher{opts: opts, logger: logging.ComponentLogger("gitsource")}, nil
}

// Fetch clones the repository into a temporary directory and returns the
// document at Path.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "harbormaster-source-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp dir")
	}
	defer os.RemoveAll(tmpDir)

	var repo *git.Repository
	for _, ref := range candidates(f.opts.Ref) {
		clone := &git.CloneOptions{
			URL:   f.opts.URL,
			Depth: f.opts.Depth,
		}
		if ref != "" {
			clone.ReferenceName = ref
			clone.SingleBranch = true
		}
		if f.opts.Username != "" || f.opts.Password != "" {
			clone.Auth = &http.BasicAuth{Username: f.opts.Username, Password: f.opts.Password}
		}

		repo, err = git.PlainCloneContext(ctx, tmpDir, false, clone)
		if err == nil {
			break
		}
		if errors.Is(err, plumbing.ErrReferenceNotFound) || strings.Contains(err.Error(), "couldn't find remote ref") {
			// try the next interpretation of Ref on a clean directory
			if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
				return nil, errors.Wrap(rmErr, "failed to reset clone directory")
			}
			if mkErr := os.MkdirAll(tmpDir, 0o700); mkErr != nil {
				return nil, errors.Wrap(mkErr, "failed to reset clone directory")
			}
			continue
		}
		return nil, errors.Wrapf(err, "failed to clone %s", f.opts.URL)
	}
	if repo == nil {
		return nil, errors.Wrapf(err, "failed to clone %s at %s", f.opts.URL, f.opts.Ref)
	}

	if head, err := repo.Head(); err == nil {
		f.logger.Info("fetched container document",
			zap.String("url", f.opts.URL),
			zap.String("commit", head.Hash().String()),
			zap.String("path", f.opts.Path),
		)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, filepath.Clean(f.opts.Path)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s from %s", f.opts.Path, f.opts.URL)
	}
	return data, nil
}

// candidates lists the reference names ref may denote, most likely first.
func candidates(ref string) []plumbing.ReferenceName {
	switch {
	case ref == "":
		return []plumbing.ReferenceName{""}
	case strings.HasPrefix(ref, "refs/"):
		return []plumbing.ReferenceName{plumbing.ReferenceName(ref)}
	default:
		return []plumbing.ReferenceName{plumbing.NewBranchReferenceName(ref), plumbing.NewTagReferenceName(ref)}
	}
}
