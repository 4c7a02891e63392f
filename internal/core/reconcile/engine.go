package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/domain"
	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

// StaticSource serves a container document held in memory, typically the
// one read from the configuration file.
type StaticSource []byte

func (s StaticSource) Fetch(context.Context) ([]byte, error) { return s, nil }

// Plan is the result of a dry run.
type Plan struct {
	Diffs   []domain.Diff `json:"diffs"`
	Skipped []string      `json:"skipped"`
}

// Engine wires the pipeline Loader → Collector → Differ → Filter → Applier →
// Reporter. Only one run or plan executes at a time.
type Engine struct {
	mu        sync.Mutex
	source    ports.SourceFetcher
	loader    *Loader
	collector *Collector
	differ    *Differ
	filter    domain.FilterPolicy
	applier   *Applier
	reporter  *Reporter
	now       func() time.Time
	logger    *zap.Logger

	lastMu sync.RWMutex
	last   *domain.RunReport
}

// EngineOptions groups the policy blocks handed to the pipeline stages.
type EngineOptions struct {
	Comparisons domain.Comparisons
	Registries  []domain.Registry
	Filter      domain.FilterPolicy
	Applier     ApplierOptions
	Reporter    ReporterOptions
}

func NewEngine(
	source ports.SourceFetcher,
	runtime ports.ContainerRuntime,
	provisioner ports.Provisioner,
	facts ports.FactStore,
	hooks ports.HookRunner,
	observer RunObserver,
	opts EngineOptions,
) *Engine {
	differ := NewDiffer()
	return &Engine{
		source:    source,
		loader:    NewLoader(opts.Comparisons, opts.Registries),
		collector: NewCollector(runtime),
		differ:    differ,
		filter:    opts.Filter,
		applier:   NewApplier(runtime, provisioner, hooks, differ, opts.Applier),
		reporter:  NewReporter(facts, hooks, observer, opts.Reporter),
		now:       time.Now,
		logger:    logging.ComponentLogger("engine"),
	}
}

// Run performs one full reconciliation. The report is always returned; the
// error is the fatal one that ended the run early, if any.
func (e *Engine) Run(ctx context.Context) (*domain.RunReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := domain.NewRunReport(e.now())
	report.ID = uuid.NewString()
	ctx = logging.ContextWithLogger(ctx, logging.GetLogger().With(zap.String("run", report.ID)))
	specs, diffs, skipped, err := e.plan(ctx)
	if err != nil {
		return e.finish(report, err), err
	}

	runErr := e.applier.Apply(ctx, diffs, report)
	skipAll(report, skipped, "filtered out")
	report.SortBy(declarationOrder(specs))

	report.Finished = e.now()
	if runErr != nil {
		report.Error = runErr.Error()
	}
	if err := e.reporter.Report(ctx, report, runErr); err != nil {
		e.logger.Error("reporting failed", zap.Error(err))
	}
	e.setLast(report)
	return report, runErr
}

// Plan runs the read-only stages and returns what Run would do.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, diffs, skipped, err := e.plan(ctx)
	if err != nil {
		return nil, err
	}
	p := &Plan{Diffs: diffs, Skipped: make([]string, 0, len(skipped))}
	if p.Diffs == nil {
		p.Diffs = []domain.Diff{}
	}
	for _, d := range skipped {
		p.Skipped = append(p.Skipped, d.Name())
	}
	return p, nil
}

// Observe returns the runtime state of the declared containers.
func (e *Engine) Observe(ctx context.Context) ([]domain.ObservedContainer, error) {
	specs, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	obs, err := e.collector.Collect(ctx, specs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ObservedContainer, 0, len(obs.Containers))
	for _, s := range specs {
		if o, ok := obs.Containers[s.Name]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// LastReport returns the report of the most recent run, nil before the
// first one.
func (e *Engine) LastReport() *domain.RunReport {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	return e.last
}

func (e *Engine) plan(ctx context.Context) ([]domain.ContainerSpec, []domain.Diff, []domain.Diff, error) {
	specs, err := e.load(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	obs, err := e.collector.Collect(ctx, specs)
	if err != nil {
		return nil, nil, nil, err
	}
	diffs := e.differ.Compute(specs, obs)
	kept, skipped, err := Filter(e.filter, diffs)
	if err != nil {
		return nil, nil, nil, err
	}
	return specs, kept, skipped, nil
}

func (e *Engine) load(ctx context.Context) ([]domain.ContainerSpec, error) {
	doc, err := e.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return e.loader.Parse(doc)
}

func (e *Engine) finish(report *domain.RunReport, err error) *domain.RunReport {
	report.Finished = e.now()
	report.Error = err.Error()
	e.logger.Error("run failed before applying changes", zap.String("run", report.ID), zap.Error(err))
	e.reporter.Observe(report, err)
	e.setLast(report)
	return report
}

func (e *Engine) setLast(r *domain.RunReport) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	e.last = r
}

func declarationOrder(specs []domain.ContainerSpec) map[string]int {
	order := make(map[string]int, len(specs))
	for i, s := range specs {
		order[s.Name] = i
	}
	return order
}
