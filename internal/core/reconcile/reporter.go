package reconcile

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

// RunObserver receives every finished run, successful or not.
type RunObserver interface {
	ObserveRun(report *domain.RunReport, err error)
}

// ReporterOptions carries the reporting policy.
type ReporterOptions struct {
	Reporting domain.ReportingPolicy
	CleanFact bool
	PostTasks []string
}

// Reporter summarises a run and drives the restart-needed fact.
type Reporter struct {
	facts    ports.FactStore
	hooks    ports.HookRunner
	observer RunObserver
	opts     ReporterOptions
	now      func() time.Time
	logger   *zap.Logger
}

func NewReporter(facts ports.FactStore, hooks ports.HookRunner, observer RunObserver, opts ReporterOptions) *Reporter {
	return &Reporter{
		facts:    facts,
		hooks:    hooks,
		observer: observer,
		opts:     opts,
		now:      time.Now,
		logger:   logging.ComponentLogger("reporter"),
	}
}

// Report logs the summaries, writes the fact when anything changed, runs
// the post-run tasks and cleans the fact again unless told to keep it.
func (r *Reporter) Report(ctx context.Context, report *domain.RunReport, runErr error) error {
	r.summarise(report, runErr)
	r.previous(ctx, len(report.Pending) > 0)

	var errs error
	wrote := false
	if len(report.Pending) > 0 && r.facts != nil {
		fact := domain.Fact{Updated: r.now().UTC(), Containers: report.Pending}
		if err := r.facts.Write(ctx, fact); err != nil {
			errs = multierr.Append(errs, pkgerrors.WithMessage(err, "write fact"))
		} else {
			wrote = true
			r.logger.Info("restart-needed fact written",
				zap.String("path", r.facts.Path()),
				zap.Int("containers", len(fact.Containers)),
			)
		}
	}

	if len(r.opts.PostTasks) > 0 && r.hooks != nil {
		if err := r.hooks.Run(ctx, ports.PhasePost, r.opts.PostTasks); err != nil {
			errs = multierr.Append(errs, pkgerrors.WithMessage(err, "post-run tasks"))
		}
	}

	if wrote && r.opts.CleanFact {
		if err := r.facts.Clean(ctx); err != nil {
			errs = multierr.Append(errs, pkgerrors.WithMessage(err, "clean fact"))
		}
	}

	r.Observe(report, runErr)
	return errs
}

// Observe forwards a run to the observer without side effects on disk. It is
// used directly for runs that stopped before anything was applied.
func (r *Reporter) Observe(report *domain.RunReport, runErr error) {
	if r.observer != nil {
		r.observer.ObserveRun(report, runErr)
	}
}

// previous logs a fact left on disk by an earlier run. Post-run tasks did not
// consume it, so the operator may still have restarts to do.
func (r *Reporter) previous(ctx context.Context, replacing bool) {
	if r.facts == nil {
		return
	}
	fact, ok, err := r.facts.Read(ctx)
	if err != nil {
		r.logger.Warn("unreadable restart-needed fact", zap.String("path", r.facts.Path()), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	names := make([]string, 0, len(fact.Containers))
	for _, c := range fact.Containers {
		names = append(names, c.Name)
	}
	r.logger.Info("restart-needed fact left by a previous run",
		zap.String("path", r.facts.Path()),
		zap.Time("updated", fact.Updated),
		zap.Strings("containers", names),
		zap.Bool("replacing", replacing),
	)
}

func (r *Reporter) summarise(report *domain.RunReport, runErr error) {
	if r.opts.Reporting.Changes && len(report.Changed) > 0 {
		r.logger.Info("changed containers",
			zap.Strings("containers", report.Changed),
			zap.Strings("labels", report.Labels(report.Changed)),
		)
	}
	if r.opts.Reporting.Failed && len(report.Failed) > 0 {
		failed := report.FailedNames()
		r.logger.Warn("failed containers",
			zap.Any("failures", report.Failed),
			zap.Strings("labels", report.Labels(failed)),
		)
	}
	fields := []zap.Field{
		zap.String("run", report.ID),
		zap.Int("changed", len(report.Changed)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Duration("duration", report.Finished.Sub(report.Started)),
	}
	if runErr != nil {
		r.logger.Error("run aborted", append(fields, zap.Error(runErr))...)
		return
	}
	r.logger.Info("run finished", fields...)
}
