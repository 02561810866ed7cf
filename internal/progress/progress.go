// Package progress reports the advancement of long scans without changing
// what they yield.
package progress

import (
	"fmt"
	"iter"
	"time"

	"github.com/dustin/go-humanize"
)

// Report is a single progress observation.
type Report struct {
	Label   string
	Current int64
	// Total is the expected number of items. Zero or negative means unknown.
	Total   int64
	Elapsed time.Duration
	Done    bool
}

// Percent returns the completion ratio in percent, if Total is known.
func (r Report) Percent() (float64, bool) {
	if r.Total <= 0 {
		return 0, false
	}
	return float64(r.Current) / float64(r.Total) * 100, true
}

// ETA estimates the remaining time by extrapolating the current rate.
func (r Report) ETA() (time.Duration, bool) {
	if r.Total <= 0 || r.Current <= 0 {
		return 0, false
	}
	if r.Current >= r.Total {
		return 0, true
	}
	remaining := r.Total - r.Current
	return time.Duration(float64(r.Elapsed) / float64(r.Current) * float64(remaining)), true
}

func (r Report) String() string {
	count := humanize.Comma(r.Current)
	if r.Total > 0 {
		count += "/" + humanize.Comma(r.Total)
	}

	elapsed := r.Elapsed.Round(time.Second)
	if r.Done {
		return fmt.Sprintf("%s: done, %s items in %s", r.Label, count, elapsed)
	}

	pct, ok := r.Percent()
	if !ok {
		return fmt.Sprintf("%s: %s items, elapsed %s", r.Label, count, elapsed)
	}

	eta, _ := r.ETA()
	return fmt.Sprintf("%s: %s (%.1f%%), elapsed %s, eta %s", r.Label, count, pct, elapsed, eta.Round(time.Second))
}

// Options controls how often Wrap emits reports.
type Options struct {
	// Interval is the minimum time between two intermediate reports.
	Interval time.Duration
	// Stride is how many items pass between clock checks.
	Stride int64
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns the options used by the migration runs.
func DefaultOptions() Options {
	return Options{
		Interval: 5 * time.Second,
		Stride:   256,
	}
}

// Wrap returns seq unchanged while reporting progress to sink. Items that
// come with a non-nil error are passed through but not counted. A final
// report with Done set is emitted once seq is exhausted.
func Wrap[T any](seq iter.Seq2[T, error], label string, total int64, sink Sink, opts Options) iter.Seq2[T, error] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	stride := opts.Stride
	if stride <= 0 {
		stride = 1
	}
	if sink == nil {
		sink = Nop{}
	}

	return func(yield func(T, error) bool) {
		start := now()
		last := start

		var n int64
		for item, err := range seq {
			if err == nil {
				n++
			}
			if !yield(item, err) {
				return
			}
			if err != nil || n%stride != 0 {
				continue
			}

			t := now()
			if t.Sub(last) >= opts.Interval {
				sink.Report(Report{Label: label, Current: n, Total: total, Elapsed: t.Sub(start)})
				last = t
			}
		}

		sink.Report(Report{Label: label, Current: n, Total: total, Elapsed: now().Sub(start), Done: true})
	}
}
