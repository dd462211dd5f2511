package summary

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"yqhp/load-probe/internal/threshold"
	"yqhp/load-probe/pkg/metrics"
	"yqhp/load-probe/pkg/types"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorFaint = "\x1b[2m"

	nameWidth = 40
)

// ColorEnabled reports whether output to f should use ANSI colors.
func ColorEnabled(f *os.File, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Console renders the end-of-run summary.
type Console struct {
	w     io.Writer
	color bool
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer, color bool) *Console {
	return &Console{w: w, color: color}
}

func (c *Console) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + colorReset
}

func (c *Console) mark(ok bool) string {
	if ok {
		return c.paint(colorGreen, "✓")
	}
	return c.paint(colorRed, "✗")
}

// Write prints the run header, the threshold table, every metric and the
// failure breakdown.
func (c *Console) Write(snap *metrics.Snapshot, report *threshold.Report, run Run, failures []FailureGroup) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n  run %s", run.ID)
	if run.Plan != "" {
		fmt.Fprintf(&b, "  plan %s", run.Plan)
	}
	fmt.Fprintf(&b, "  duration %s  status %s\n", run.Duration().Round(time.Millisecond), run.Status)
	for _, s := range run.Scenarios {
		fmt.Fprintf(&b, "    %s %s\n", c.paint(colorFaint, "scenario"), describeScenario(s))
	}

	if report != nil && len(report.Results) > 0 {
		b.WriteString("\n  THRESHOLDS\n\n")
		for _, r := range report.Results {
			fmt.Fprintf(&b, "    %s %-*s %-16s observed=%s\n",
				c.mark(r.Passed), nameWidth-4, r.Metric, r.Expression, strconv.FormatFloat(r.Observed, 'f', -1, 64))
		}
	}

	b.WriteString("\n  METRICS\n\n")
	for _, name := range groupedNames(snap) {
		series := snap.Series[name]
		if series.Sink.IsEmpty() {
			continue
		}
		label := name
		indent := "    "
		if series.Parent != "" {
			label = "{" + strings.TrimSuffix(strings.TrimPrefix(name, series.Parent+"{"), "}") + "}"
			indent = "      "
		}
		dots := nameWidth - len(indent) - len(label)
		if dots < 3 {
			dots = 3
		}
		fmt.Fprintf(&b, "%s%s%s: %s\n", indent, label, c.paint(colorFaint, strings.Repeat(".", dots)),
			formatValues(series, snap.Elapsed))
	}

	if len(failures) > 0 {
		b.WriteString("\n  FAILURES\n\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "    %-12s %-8s %-10s %6d  first=%s last=%s\n",
				f.Class, f.Kind, f.statusLabel(), f.Count,
				f.FirstSeen.Format("15:04:05"), f.LastSeen.Format("15:04:05"))
		}
	}
	b.WriteString("\n")

	_, err := io.WriteString(c.w, b.String())
	return err
}

func describeScenario(s types.Scenario) string {
	var shape string
	switch {
	case s.Executor.IsArrivalRate():
		shape = fmt.Sprintf("pool %d-%d VUs", s.PreAllocatedVUs, s.MaxVUs)
		if s.Executor == types.ExecutorConstantArrivalRate {
			shape = fmt.Sprintf("%d iterations per %s, %s", s.Rate, s.TimeUnit, shape)
		} else {
			shape = fmt.Sprintf("%d stages from %d per %s, %s", len(s.Stages), s.StartRate, s.TimeUnit, shape)
		}
	case s.Executor == types.ExecutorRampingVUs:
		shape = fmt.Sprintf("%d stages from %d VUs", len(s.Stages), s.StartVUs)
	case s.Executor == types.ExecutorPerVUIterations:
		shape = fmt.Sprintf("%d iterations for each of %d VUs", s.Iterations, s.VUs)
	case s.Executor == types.ExecutorSharedIterations:
		shape = fmt.Sprintf("%d iterations shared among %d VUs", s.Iterations, s.VUs)
	default:
		shape = fmt.Sprintf("%d VUs", s.VUs)
	}
	out := fmt.Sprintf("%s: %s, %s, up to %s", s.Name, s.Executor, shape, s.TotalDuration())
	if s.StartTime > 0 {
		out += fmt.Sprintf(" after %s", s.StartTime)
	}
	return out
}

func formatValues(series *metrics.Series, elapsed time.Duration) string {
	v := series.Values(elapsed)
	switch series.Type {
	case metrics.Counter:
		return fmt.Sprintf("%-12s %s/s", formatNumber(v["count"], series.Contains), formatNumber(v["rate"], series.Contains))
	case metrics.Rate:
		total := v["passes"] + v["fails"]
		return fmt.Sprintf("%.2f%%  %s out of %s", v["rate"]*100,
			strconv.FormatFloat(v["passes"], 'f', -1, 64), strconv.FormatFloat(total, 'f', -1, 64))
	case metrics.Gauge:
		return fmt.Sprintf("%-12s min=%s max=%s",
			formatNumber(v["value"], series.Contains),
			formatNumber(v["min"], series.Contains),
			formatNumber(v["max"], series.Contains))
	case metrics.Trend:
		keys := []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}
		parts := make([]string, 0, len(keys)+1)
		for _, k := range keys {
			parts = append(parts, k+"="+formatNumber(v[k], series.Contains))
		}
		parts = append(parts, "count="+strconv.FormatFloat(v["count"], 'f', -1, 64))
		return strings.Join(parts, " ")
	}
	return ""
}

func formatNumber(v float64, contains metrics.ValueType) string {
	switch contains {
	case metrics.Time:
		return formatMillis(v)
	case metrics.Data:
		if v < 0 {
			return "-" + humanize.IBytes(uint64(-v))
		}
		return humanize.IBytes(uint64(v))
	}
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatMillis prints a millisecond value the way durations are usually read.
func formatMillis(ms float64) string {
	switch {
	case ms < 1:
		return strconv.FormatFloat(ms*1000, 'f', 2, 64) + "µs"
	case ms < 1000:
		return strconv.FormatFloat(ms, 'f', 2, 64) + "ms"
	default:
		d := time.Duration(ms * float64(time.Millisecond))
		return d.Round(time.Millisecond).String()
	}
}
