package reconcile

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/distribution/reference"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/core/volume"
	"github.com/melih/harbormaster/internal/logging"
)

// ApplierOptions carries the policy blocks the applier needs.
type ApplierOptions struct {
	Fail        domain.FailPolicy
	Pull        domain.PullPolicy
	Files       domain.Ownership
	Directories domain.Ownership
	PreTasks    []string
}

// Applier converges the working set one container at a time, in declaration
// order.
type Applier struct {
	runtime     ports.ContainerRuntime
	provisioner ports.Provisioner
	hooks       ports.HookRunner
	differ      *Differ
	opts        ApplierOptions
	logger      *zap.Logger
}

func NewApplier(runtime ports.ContainerRuntime, provisioner ports.Provisioner, hooks ports.HookRunner, differ *Differ, opts ApplierOptions) *Applier {
	return &Applier{
		runtime:     runtime,
		provisioner: provisioner,
		hooks:       hooks,
		differ:      differ,
		opts:        opts,
		logger:      logging.ComponentLogger("applier"),
	}
}

// Apply converges diffs and records one outcome per diff in report. The
// returned error is fatal for the run: a failed pre-hook, a LoginFailure, or
// a LaunchFailure when error_at_launch is set. Containers not reached are
// recorded as skipped.
func (a *Applier) Apply(ctx context.Context, diffs []domain.Diff, report *domain.RunReport) error {
	if len(a.opts.PreTasks) > 0 && a.hooks != nil {
		if err := a.hooks.Run(ctx, ports.PhasePre, a.opts.PreTasks); err != nil {
			skipAll(report, diffs, "pre-run tasks failed")
			return pkgerrors.WithMessage(err, "pre-run tasks")
		}
	}

	if err := a.login(ctx, diffs); err != nil {
		skipAll(report, diffs, "registry login failed")
		return err
	}

	var fatal error
	for i, diff := range diffs {
		if err := ctx.Err(); err != nil {
			skipAll(report, diffs[i:], "run cancelled")
			return err
		}

		outcome, entry := a.converge(ctx, diff)
		report.Record(outcome)
		if entry != nil {
			report.Pending = append(report.Pending, *entry)
		}
		if outcome.Result == domain.ResultFailed && a.opts.Fail.ErrorAtLaunch {
			fatal = outcome.Err
			skipAll(report, diffs[i+1:], "aborted after launch failure of "+diff.Name())
			break
		}
	}
	return fatal
}

func (a *Applier) converge(ctx context.Context, diff domain.Diff) (domain.Outcome, *domain.FactEntry) {
	spec := diff.Spec
	log := logging.LoggerFromContext(ctx).With(zap.String("component", "applier"), zap.String("container", spec.Name))

	var changed, pending []domain.Field
	if spec.State.Exists() {
		var err error
		if pending, err = a.provisioner.Pending(spec.Name); err != nil {
			return a.failed(log, diff, err), nil
		}
		changed, err = a.provision(spec)
		changed = mergeFields(pending, changed)
		if err != nil {
			a.remember(log, spec.Name, changed, pending)
			return a.failed(log, diff, err), nil
		}
		diff = a.differ.Refine(diff, changed)
	}

	if !diff.Action.Mutates() {
		a.forget(log, spec.Name, pending)
		log.Debug("container up to date")
		return domain.Outcome{Container: spec.Name, Display: spec.DisplayName(), Action: diff.Action, Result: domain.ResultUnchanged}, nil
	}

	log.Info("converging container",
		zap.String("action", string(diff.Action)),
		zap.Any("drift", diff.Fields()),
		zap.Bool("digest_mismatch", diff.DigestMismatch),
	)
	if err := a.act(ctx, diff); err != nil {
		a.remember(log, spec.Name, changed, pending)
		return a.failed(log, diff, err), nil
	}
	a.forget(log, spec.Name, pending)

	entry := &domain.FactEntry{
		Name:     spec.Name,
		Image:    spec.Image,
		Action:   diff.Action,
		Recreate: diff.Action == domain.ActionRecreate,
	}
	return domain.Outcome{
		Container: spec.Name,
		Display:   spec.DisplayName(),
		Action:    diff.Action,
		Result:    domain.ResultChanged,
		Message:   describeDrift(diff),
	}, entry
}

func (a *Applier) act(ctx context.Context, diff domain.Diff) error {
	spec := diff.Spec
	running := diff.Observed != nil && diff.Observed.Running

	switch diff.Action {
	case domain.ActionCreate:
		if err := a.ensureImage(ctx, diff); err != nil {
			return err
		}
		return a.create(ctx, spec)

	case domain.ActionRecreate:
		if err := a.ensureImage(ctx, diff); err != nil {
			return err
		}
		if running {
			if err := a.runtime.Stop(ctx, spec.Name); err != nil {
				return pkgerrors.WithMessage(err, "stop")
			}
		}
		if err := a.runtime.Remove(ctx, spec.Name); err != nil {
			return pkgerrors.WithMessage(err, "remove")
		}
		return a.create(ctx, spec)

	case domain.ActionRemove:
		if running {
			if err := a.runtime.Stop(ctx, spec.Name); err != nil {
				return pkgerrors.WithMessage(err, "stop")
			}
		}
		return pkgerrors.WithMessage(a.runtime.Remove(ctx, spec.Name), "remove")

	case domain.ActionStart:
		return pkgerrors.WithMessage(a.runtime.Start(ctx, spec.Name), "start")

	case domain.ActionStop:
		return pkgerrors.WithMessage(a.runtime.Stop(ctx, spec.Name), "stop")
	}
	return nil
}

func (a *Applier) create(ctx context.Context, spec domain.ContainerSpec) error {
	if _, err := a.runtime.Create(ctx, spec); err != nil {
		return pkgerrors.WithMessage(err, "create")
	}
	if spec.State == domain.StateStarted {
		return pkgerrors.WithMessage(a.runtime.Start(ctx, spec.Name), "start")
	}
	return nil
}

// ensureImage pulls the desired image when it is not present locally.
// Downloads are the only operation retried.
func (a *Applier) ensureImage(ctx context.Context, diff domain.Diff) error {
	if diff.ImagePresent {
		return nil
	}
	spec := diff.Spec
	auth := registryFor(spec)

	retries := a.opts.Pull.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.opts.Pull.Delay), uint64(retries)),
		ctx,
	)

	attempt := 0
	op := func() error {
		attempt++
		err := a.runtime.Pull(ctx, spec.Image, auth)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		a.logger.Warn("image pull failed",
			zap.String("container", spec.Name),
			zap.String("image", spec.Image),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return pkgerrors.Wrapf(err, "pull %s", spec.Image)
	}
	return nil
}

// remember keeps file changes the container has not picked up yet, so the
// next run still recreates it.
func (a *Applier) remember(log *zap.Logger, container string, changed, pending []domain.Field) {
	if len(changed) == 0 || len(changed) == len(pending) {
		return
	}
	if err := a.provisioner.MarkPending(container, changed); err != nil {
		log.Error("failed to remember pending file changes", zap.Error(err))
	}
}

func (a *Applier) forget(log *zap.Logger, container string, pending []domain.Field) {
	if len(pending) == 0 {
		return
	}
	if err := a.provisioner.ClearPending(container); err != nil {
		log.Warn("failed to clear pending file changes", zap.Error(err))
	}
}

func mergeFields(a, b []domain.Field) []domain.Field {
	out := append([]domain.Field(nil), a...)
	for _, f := range b {
		if !containsField(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func containsField(fields []domain.Field, f domain.Field) bool {
	for _, c := range fields {
		if c == f {
			return true
		}
	}
	return false
}

// provision prepares directories and generated files and returns the fields
// whose files changed on disk. On error the fields changed so far are
// returned as well.
func (a *Applier) provision(spec domain.ContainerSpec) ([]domain.Field, error) {
	for _, v := range spec.Volumes {
		if !volume.Managed(v) {
			continue
		}
		if _, err := a.provisioner.EnsureDirectory(v.Source, volume.Ownership(v, a.opts.Directories)); err != nil {
			return nil, pkgerrors.WithMessagef(err, "volume %s", v.Source)
		}
	}
	for _, m := range spec.Mounts {
		if m.Type != domain.MountBind || !m.SourceHandling.Create {
			continue
		}
		own := domain.Ownership{Owner: m.SourceHandling.Owner, Group: m.SourceHandling.Group, Mode: m.SourceHandling.Mode}
		if _, err := a.provisioner.EnsureDirectory(m.Source, own.Or(a.opts.Directories)); err != nil {
			return nil, pkgerrors.WithMessagef(err, "mount %s", m.Source)
		}
	}

	var changed []domain.Field
	mark := func(f domain.Field) {
		if !containsField(changed, f) {
			changed = append(changed, f)
		}
	}

	if len(spec.Environment) > 0 {
		ok, err := a.provisioner.SyncEnvironment(spec.Name, spec.Environment, a.opts.Files)
		if err != nil {
			return changed, pkgerrors.WithMessage(err, "environment")
		}
		if ok {
			mark(domain.FieldEnvironment)
		}
	}
	if len(spec.Properties) > 0 {
		ok, err := a.provisioner.SyncProperties(spec.Name, spec.Name+".properties", spec.Properties, a.opts.Files)
		if err != nil {
			return changed, pkgerrors.WithMessage(err, "properties")
		}
		if ok {
			mark(domain.FieldProperties)
		}
	}
	for _, pf := range spec.PropertyFiles {
		ok, err := a.provisioner.SyncProperties(spec.Name, propertyFileName(pf.Name), pf.Properties, a.opts.Files)
		if err != nil {
			return changed, pkgerrors.WithMessagef(err, "property file %s", pf.Name)
		}
		if ok {
			mark(domain.FieldProperties)
		}
	}
	if len(spec.ConfigFiles) > 0 {
		ok, err := a.provisioner.SyncConfigFiles(spec.Name, spec.ConfigFiles, a.opts.Files)
		if err != nil {
			return changed, pkgerrors.WithMessage(err, "config files")
		}
		if ok {
			mark(domain.FieldProperties)
		}
	}
	return changed, nil
}

// login authenticates against every registry a pending pull depends on.
// Each host is logged in once.
func (a *Applier) login(ctx context.Context, diffs []domain.Diff) error {
	type need struct {
		reg        domain.Registry
		containers []string
	}
	var order []string
	needs := map[string]*need{}
	for _, d := range diffs {
		if !d.Action.NeedsImage() || d.ImagePresent {
			continue
		}
		reg := registryFor(d.Spec)
		if reg == nil {
			continue
		}
		host := registryHost(reg.Host)
		n, ok := needs[host]
		if !ok {
			n = &need{reg: *reg}
			needs[host] = n
			order = append(order, host)
		}
		n.containers = append(n.containers, d.Name())
	}

	for _, host := range order {
		n := needs[host]
		if n.reg.Username == "" && n.reg.Password == "" {
			continue
		}
		if err := a.runtime.Login(ctx, n.reg); err != nil {
			a.logger.Error("registry login failed",
				zap.String("registry", n.reg.Host),
				zap.Strings("containers", n.containers),
				zap.Error(err),
			)
			return &domain.LoginFailure{Registry: n.reg.Host, Containers: n.containers, Err: err}
		}
		a.logger.Info("logged in to registry", zap.String("registry", n.reg.Host))
	}
	return nil
}

func (a *Applier) failed(log *zap.Logger, diff domain.Diff, err error) domain.Outcome {
	lf := &domain.LaunchFailure{Container: diff.Name(), Action: diff.Action, Err: err}
	log.Error("container failed", zap.String("action", string(diff.Action)), zap.Error(err))
	return domain.Outcome{
		Container: diff.Name(),
		Display:   diff.Spec.DisplayName(),
		Action:    diff.Action,
		Result:    domain.ResultFailed,
		Message:   err.Error(),
		Err:       lf,
	}
}

func skipAll(report *domain.RunReport, diffs []domain.Diff, reason string) {
	for _, d := range diffs {
		report.Record(domain.Outcome{
			Container: d.Name(),
			Display:   d.Spec.DisplayName(),
			Action:    d.Action,
			Result:    domain.ResultSkipped,
			Message:   reason,
		})
	}
}

// registryFor picks the credentials matching the registry of the container
// image, if any.
func registryFor(spec domain.ContainerSpec) *domain.Registry {
	named, err := reference.ParseNormalizedNamed(spec.Image)
	if err != nil {
		return nil
	}
	want := registryHost(reference.Domain(named))
	for i := range spec.Registries {
		if registryHost(spec.Registries[i].Host) == want {
			return &spec.Registries[i]
		}
	}
	return nil
}

// registryHost reduces a registry address to its host[:port] and folds the
// Docker Hub aliases together.
func registryHost(s string) string {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	switch s {
	case "index.docker.io", "registry-1.docker.io", "registry.hub.docker.com":
		return "docker.io"
	}
	return strings.ToLower(s)
}

func propertyFileName(name string) string {
	if path.Ext(name) == "" {
		return name + ".properties"
	}
	return name
}

func describeDrift(diff domain.Diff) string {
	if len(diff.Drifts) == 0 {
		if diff.DigestMismatch && diff.Action == domain.ActionRecreate {
			return "image digest changed"
		}
		return ""
	}
	parts := make([]string, 0, len(diff.Drifts))
	for _, d := range diff.Drifts {
		parts = append(parts, string(d.Field))
	}
	return "drift: " + strings.Join(parts, ", ")
}
