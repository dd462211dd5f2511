package threshold

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-probe/pkg/metrics"
)

// DefaultInterval is how often the watcher re-evaluates thresholds during a run.
const DefaultInterval = 2 * time.Second

// SnapshotSource provides consistent metric snapshots.
type SnapshotSource interface {
	Snapshot() *metrics.Snapshot
}

// Watcher evaluates a Set periodically while a run is in progress.
type Watcher struct {
	set      *Set
	source   SnapshotSource
	interval time.Duration
	abortRun func(error)
	log      *zap.Logger

	mu       sync.Mutex
	latest   *Report
	breached map[string]bool
	aborted  bool
}

// NewWatcher creates a Watcher. abortRun is called at most once, when a
// threshold marked abort_on_fail is crossed. A nil logger disables logging.
func NewWatcher(set *Set, source SnapshotSource, interval time.Duration, abortRun func(error), log *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		set:      set,
		source:   source,
		interval: interval,
		abortRun: abortRun,
		log:      log,
		breached: make(map[string]bool),
	}
}

// Start launches periodic evaluation and returns a finalize callback that stops
// it and performs the final evaluation.
func (w *Watcher) Start() (finalize func() *Report) {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		if w.set.Len() == 0 {
			<-stop
			return
		}
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.Check()
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	var final *Report
	return func() *Report {
		once.Do(func() {
			close(stop)
			<-done
			final = w.evaluate()
		})
		return final
	}
}

// Check runs one evaluation, logs newly crossed thresholds and triggers the abort
// callback when needed.
func (w *Watcher) Check() *Report {
	report := w.evaluate()

	w.mu.Lock()
	var newly []Result
	for _, r := range report.Results {
		key := r.Metric + " " + r.Expression
		if !r.Passed && !w.breached[key] {
			newly = append(newly, r)
		}
		w.breached[key] = !r.Passed
	}
	abort := report.ShouldAbort && !w.aborted
	if abort {
		w.aborted = true
	}
	w.mu.Unlock()

	for _, r := range newly {
		w.log.Warn("threshold crossed",
			zap.String("metric", r.Metric),
			zap.String("expression", r.Expression),
			zap.Float64("observed", r.Observed),
			zap.Bool("abort_on_fail", r.AbortOnFail))
	}

	if abort && w.abortRun != nil {
		var names []string
		for _, r := range report.Results {
			if !r.Passed && r.AbortOnFail {
				names = append(names, r.Metric)
			}
		}
		w.abortRun(&AbortError{Metrics: names})
	}
	return report
}

func (w *Watcher) evaluate() *Report {
	report := w.set.Evaluate(w.source.Snapshot())
	w.mu.Lock()
	w.latest = report
	w.mu.Unlock()
	return report
}

// Latest returns the most recent report, or nil before the first evaluation.
func (w *Watcher) Latest() *Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}
