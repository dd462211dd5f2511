// Package runner is the single execution entry point of a load-probe run.
//
// Pipeline: Plan → scenarios (execution modes) → probe iterations → Aggregator
//
//	→ [threshold watcher + sample outputs + timeline + failure groups] → Result
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/load-probe/internal/config"
	"yqhp/load-probe/internal/execution"
	"yqhp/load-probe/internal/httpclient"
	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/internal/output/summary"
	"yqhp/load-probe/internal/probe"
	"yqhp/load-probe/internal/selfmon"
	"yqhp/load-probe/internal/threshold"
	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/output"
	"yqhp/load-probe/pkg/types"
)

// ErrAlreadyStarted is returned when Run is called twice on one Runner.
var ErrAlreadyStarted = errors.New("runner: run already started")

// RunOptions configures a run.
type RunOptions struct {
	// Plan to execute (required). It is expected to be validated.
	Plan *config.Plan

	// Config is the engine configuration. Defaults apply when nil.
	Config *config.Config

	// Iteration replaces the probe iteration. The probe is not built when set.
	Iteration execution.IterationFunc

	// Outputs receive every sample. Samples specs from Config.Output are
	// created in addition to these.
	Outputs []output.Output

	// Modes resolves executor kinds. Defaults to execution.DefaultRegistry.
	Modes *execution.Registry

	// Listeners receive every aggregated sample.
	Listeners []engine.SampleListener

	// OnProgress is called periodically while scenarios run.
	OnProgress func(p Progress)

	// ProgressInterval controls how often VU gauges are refreshed and
	// OnProgress is called. Defaults to 1s.
	ProgressInterval time.Duration

	Logger *zap.Logger
}

// Progress is a periodic view of a running test.
type Progress struct {
	Elapsed    time.Duration
	VUs        int
	VUsMax     int
	Iterations int64
}

// Result contains the outcome of a run.
type Result struct {
	RunID      string
	Plan       string
	Status     types.RunStatus
	StartTime  time.Time
	EndTime    time.Time
	Scenarios  []types.Scenario
	Snapshot   *metrics.Snapshot
	Thresholds *threshold.Report
	Timeline   []*engine.Point
	Failures   []summary.FailureGroup
	Iterations int64

	// Err is the fatal scenario error or the abort cause.
	Err error
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ExitCode maps the run status to the process exit code.
func (r *Result) ExitCode() int {
	return r.Status.ExitCode()
}

// SummaryRun describes the run for the summary writers.
func (r *Result) SummaryRun() summary.Run {
	return summary.Run{
		ID:        r.RunID,
		Plan:      r.Plan,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Status:    r.Status,
		Error:     r.Err,
		Scenarios: r.Scenarios,
	}
}

// Runner owns every run-scoped component. It runs once.
type Runner struct {
	opts      RunOptions
	cfg       *config.Config
	id        string
	log       *zap.Logger
	scenarios []types.Scenario

	agg      *engine.Aggregator
	set      *threshold.Set
	timeline *engine.Timeline
	failures *summary.FailureCollector
	outputs  []output.Output
	iterate  execution.IterationFunc

	started atomic.Bool

	// sampled by the progress loop only
	outputDrops   func() int64
	reportedDrops int64

	mu        sync.RWMutex
	startTime time.Time
	watcher   *threshold.Watcher
	modes     map[string]execution.Mode
}

// New wires a run. Nothing is started and no traffic is sent.
func New(opts RunOptions) (*Runner, error) {
	if opts.Plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Modes == nil {
		opts.Modes = execution.DefaultRegistry
	}

	r := &Runner{
		opts:      opts,
		cfg:       cfg,
		id:        uuid.NewString(),
		scenarios: opts.Plan.ScenarioList(),
		failures:  summary.NewFailureCollector(),
		modes:     make(map[string]execution.Mode),
	}
	r.log = log.With(zap.String("run_id", r.id))
	if len(r.scenarios) == 0 {
		return nil, fmt.Errorf("plan %q has no scenarios", opts.Plan.Name)
	}

	registry := metrics.NewRegistryWithOptions(metrics.Options{TrendSampleCap: cfg.Metrics.TrendSampleCap})
	r.agg = engine.New(registry)
	opts.Plan.Probe.DeclareMetrics(registry)
	selfmon.DeclareMetrics(registry)

	set, err := threshold.NewSet(opts.Plan.Thresholds, registry)
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	r.set = set
	r.timeline = engine.NewTimeline(r.agg, cfg.Metrics.TimelineInterval, cfg.Metrics.TimelineLimit)

	r.iterate = opts.Iteration
	if r.iterate == nil {
		orch, err := probe.New(probe.Options{
			Config:     opts.Plan.Probe,
			Target:     opts.Plan.Target,
			Dataset:    opts.Plan.Dataset,
			Client:     httpclient.New(cfg.HTTP),
			Aggregator: r.agg,
			Logger:     r.log.Named("probe"),
		})
		if err != nil {
			return nil, err
		}
		r.iterate = orch.Iterate
	}

	r.outputs = append(r.outputs, opts.Outputs...)
	if len(cfg.Output.Samples) > 0 {
		created, err := output.CreateFromSpecs(cfg.Output.Samples, output.Params{
			Logger:   r.log.Named("output"),
			RunID:    r.id,
			PlanName: opts.Plan.Name,
			Tags:     map[string]string{"plan": opts.Plan.Name},
		})
		if err != nil {
			return nil, err
		}
		r.outputs = append(r.outputs, created...)
	}

	for _, l := range opts.Listeners {
		r.agg.AddListener(l)
	}
	r.agg.AddListener(r.failures)
	return r, nil
}

// ID returns the run ID.
func (r *Runner) ID() string { return r.id }

// PlanName returns the name of the plan being run.
func (r *Runner) PlanName() string { return r.opts.Plan.Name }

// Aggregator returns the run's aggregator.
func (r *Runner) Aggregator() *engine.Aggregator { return r.agg }

// Snapshot returns a consistent copy of every series.
func (r *Runner) Snapshot() *metrics.Snapshot { return r.agg.Snapshot() }

// Timeline returns the periodic headline points collected so far.
func (r *Runner) Timeline() []*engine.Point { return r.timeline.Points() }

// Elapsed returns the time since Run started, or 0 before it.
func (r *Runner) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.startTime.IsZero() {
		return 0
	}
	return time.Since(r.startTime)
}

// LatestThresholds returns the most recent periodic evaluation, or nil.
func (r *Runner) LatestThresholds() *threshold.Report {
	r.mu.RLock()
	w := r.watcher
	r.mu.RUnlock()
	if w == nil {
		return nil
	}
	return w.Latest()
}

// ScenarioStates returns the live state of every started scenario.
func (r *Runner) ScenarioStates() map[string]*execution.ModeState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]*execution.ModeState, len(r.modes))
	for name, m := range r.modes {
		states[name] = m.GetState()
	}
	return states
}

// Run executes every scenario and returns the verdict. The returned error is
// set only when the run could not start; scenario failures are reported in
// Result.Err and Result.Status.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	manager := output.NewManager(r.outputs, r.log.Named("output"))
	if err := manager.Start(); err != nil {
		return nil, fmt.Errorf("start outputs: %w", err)
	}
	if manager.Len() > 0 {
		r.agg.AddListener(manager)
	}
	r.outputDrops = manager.Dropped

	watcher := threshold.NewWatcher(r.set, r.agg, r.cfg.Metrics.ThresholdInterval, func(err error) {
		r.log.Error("aborting run", zap.Error(err))
		cancel(err)
	}, r.log.Named("threshold"))

	start := time.Now()
	r.mu.Lock()
	r.startTime = start
	r.watcher = watcher
	r.mu.Unlock()

	r.agg.MarkStart(start)
	r.timeline.Start()
	finalize := watcher.Start()

	var mon *selfmon.Monitor
	if r.cfg.SelfMonitor.Enabled {
		var err error
		if mon, err = selfmon.New(r.agg, r.cfg.SelfMonitor.Interval, r.log.Named("selfmon")); err != nil {
			r.log.Warn("self monitor unavailable", zap.Error(err))
			mon = nil
		} else {
			mon.Start()
		}
	}

	r.log.Info("run started",
		zap.String("plan", r.opts.Plan.Name),
		zap.Int("scenarios", len(r.scenarios)),
		zap.Int("thresholds", r.set.Len()),
		zap.Int("outputs", manager.Len()))

	stopProgress := r.startProgress()
	runErr := r.runScenarios(ctx)
	stopProgress()

	if mon != nil {
		mon.Stop()
	}
	r.timeline.Stop()
	report := finalize()
	end := time.Now()
	snap := r.agg.Snapshot()

	result := &Result{
		RunID:      r.id,
		Plan:       r.opts.Plan.Name,
		StartTime:  start,
		EndTime:    end,
		Scenarios:  r.scenarios,
		Snapshot:   snap,
		Thresholds: report,
		Timeline:   r.timeline.Points(),
		Failures:   r.failures.Groups(),
		Iterations: int64(snap.Count(engine.Iterations)),
	}
	result.Status, result.Err = verdict(runErr, context.Cause(ctx), report)

	if err := manager.Stop(output.RunStatus{
		Duration:   result.Duration(),
		Iterations: result.Iterations,
		Status:     result.Status,
		Error:      result.Err,
	}); err != nil {
		r.log.Warn("stopping outputs", zap.Error(err))
	}

	r.log.Info("run finished",
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.Duration()),
		zap.Int64("iterations", result.Iterations),
		zap.Float64("requests", snap.Count(engine.HTTPReqs)))
	return result, nil
}

// verdict decides the final status. A fatal scenario error wins over an abort,
// which wins over crossed thresholds. An interrupted run is judged by its
// thresholds.
func verdict(runErr, cause error, report *threshold.Report) (types.RunStatus, error) {
	var abort *threshold.AbortError
	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return types.RunFailed, runErr
	case errors.As(cause, &abort):
		return types.RunAborted, cause
	case report != nil && !report.Passed:
		return types.RunBreached, nil
	default:
		return types.RunPassed, nil
	}
}

func (r *Runner) runScenarios(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range r.scenarios {
		mode, err := r.opts.Modes.Get(sc.Executor)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		r.mu.Lock()
		r.modes[sc.Name] = mode
		r.mu.Unlock()

		sc := sc
		g.Go(func() error {
			return r.runScenario(gctx, sc, mode)
		})
	}
	return g.Wait()
}

func (r *Runner) runScenario(ctx context.Context, sc types.Scenario, mode execution.Mode) error {
	log := r.log.With(zap.String("scenario", sc.Name))

	if sc.StartTime > 0 {
		timer := time.NewTimer(sc.StartTime)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			log.Info("scenario skipped, run ended before its start time")
			return nil
		case <-timer.C:
		}
	}

	tags := map[string]string{"scenario": sc.Name}
	cfg := execution.ConfigFromScenario(sc, r.iterate)
	cfg.Logger = log
	cfg.OnIterationComplete = func(_ int, _ int64, d time.Duration, _ error) {
		r.agg.AddTagged(engine.Iterations, tags, 1)
		r.agg.Observe(engine.IterationDuration, float64(d)/float64(time.Millisecond))
	}
	cfg.OnOverrun = func() { r.agg.Add(engine.SchedulerOverruns, 1) }
	cfg.OnDeferred = func() { r.agg.Add(engine.IterationsDeferred, 1) }
	cfg.OnDropped = func() { r.agg.Add(engine.DroppedIterations, 1) }

	log.Info("scenario started", zap.String("executor", string(sc.Executor)))
	if err := mode.Run(ctx, cfg); err != nil {
		log.Error("scenario failed", zap.Error(err))
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	log.Info("scenario finished", zap.Int64("iterations", mode.GetState().CompletedIterations))
	return nil
}

// startProgress refreshes the VU gauges and reports progress until the
// returned stop function is called.
func (r *Runner) startProgress() (stop func()) {
	interval := r.opts.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.progress()
			case <-done:
				r.progress()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}

func (r *Runner) progress() {
	p := Progress{Elapsed: r.Elapsed()}
	for _, s := range r.ScenarioStates() {
		p.VUs += s.ActiveVUs
		p.VUsMax += s.AllocatedVUs
		p.Iterations += s.CompletedIterations
	}
	r.agg.Set(engine.VUs, float64(p.VUs))
	r.agg.Set(engine.VUsMax, float64(p.VUsMax))
	if r.outputDrops != nil {
		if n := r.outputDrops(); n > r.reportedDrops {
			r.agg.Add(engine.OutputSamplesDropped, float64(n-r.reportedDrops))
			r.reportedDrops = n
		}
	}

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(p)
	}
}
