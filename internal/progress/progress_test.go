package progress

import (
	"bytes"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func ints(n int) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		for i := range n {
			if !yield(i, nil) {
				return
			}
		}
	}
}

// fakeClock advances by step on every call.
func fakeClock(step time.Duration) func() time.Time {
	t := time.Date(2024, 10, 23, 13, 38, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestWrap_PassesItemsThrough(t *testing.T) {
	rec := &Recorder{}

	var got []int
	for v, err := range Wrap(ints(10), "ints", 10, rec, Options{Interval: time.Hour, Stride: 1}) {
		require.NoError(t, err)
		got = append(got, v)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestWrap_FinalReport(t *testing.T) {
	rec := &Recorder{}

	for range Wrap(ints(5), "ints", 0, rec, Options{Interval: time.Hour, Stride: 1}) {
	}

	reports := rec.Reports()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Done)
	assert.Equal(t, int64(5), reports[0].Current)
	assert.Equal(t, "ints", reports[0].Label)
}

func TestWrap_EmptySequence(t *testing.T) {
	rec := &Recorder{}

	for range Wrap(ints(0), "empty", 0, rec, DefaultOptions()) {
	}

	reports := rec.Reports()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Done)
	assert.Zero(t, reports[0].Current)
}

func TestWrap_PeriodicReports(t *testing.T) {
	rec := &Recorder{}
	opts := Options{Interval: time.Second, Stride: 10, Now: fakeClock(time.Second)}

	for range Wrap(ints(50), "ints", 50, rec, opts) {
	}

	reports := rec.Reports()
	// One report per stride boundary (10, 20, 30, 40, 50) plus the final one.
	require.Len(t, reports, 6)
	for i, r := range reports[:5] {
		assert.False(t, r.Done)
		assert.Equal(t, int64((i+1)*10), r.Current)
	}
	assert.True(t, reports[5].Done)
}

func TestWrap_IntervalThrottles(t *testing.T) {
	rec := &Recorder{}
	opts := Options{Interval: time.Minute, Stride: 1, Now: fakeClock(time.Second)}

	for range Wrap(ints(100), "ints", 100, rec, opts) {
	}

	var intermediate int
	for _, r := range rec.Reports() {
		if !r.Done {
			intermediate++
		}
	}
	assert.Equal(t, 1, intermediate)
}

func TestWrap_EarlyBreakSkipsFinalReport(t *testing.T) {
	rec := &Recorder{}

	for v := range Wrap(ints(10), "ints", 10, rec, Options{Interval: time.Hour, Stride: 1}) {
		if v == 3 {
			break
		}
	}

	assert.Empty(t, rec.Reports())
}

func TestWrap_ErrorsAreNotCounted(t *testing.T) {
	boom := errors.New("boom")
	var seq iter.Seq2[int, error] = func(yield func(int, error) bool) {
		_ = yield(1, nil) && yield(0, boom) && yield(2, nil)
	}

	rec := &Recorder{}
	var errs int
	for _, err := range Wrap(seq, "mixed", 0, rec, Options{Interval: time.Hour, Stride: 1}) {
		if err != nil {
			errs++
		}
	}

	assert.Equal(t, 1, errs)
	reports := rec.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, int64(2), reports[0].Current)
}

func TestReport_String(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{
			name:   "known total",
			report: Report{Label: "access_tokens", Current: 1200, Total: 4800, Elapsed: 3 * time.Second},
			want:   "access_tokens: 1,200/4,800 (25.0%), elapsed 3s, eta 9s",
		},
		{
			name:   "unknown total",
			report: Report{Label: "sessions", Current: 1500000, Elapsed: 90 * time.Second},
			want:   "sessions: 1,500,000 items, elapsed 1m30s",
		},
		{
			name:   "done",
			report: Report{Label: "refresh_tokens", Current: 10, Total: 10, Elapsed: 2 * time.Second, Done: true},
			want:   "refresh_tokens: done, 10/10 items in 2s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.String())
		})
	}
}

func TestReport_ETA(t *testing.T) {
	_, ok := Report{Current: 5}.ETA()
	assert.False(t, ok)

	eta, ok := Report{Current: 10, Total: 10, Elapsed: time.Second}.ETA()
	assert.True(t, ok)
	assert.Zero(t, eta)

	eta, ok = Report{Current: 1, Total: 4, Elapsed: time.Second}.ETA()
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, eta)
}

func TestZapSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Report(Report{Label: "sessions", Current: 3, Total: 6, Elapsed: time.Second})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Contains(t, entry.Message, "sessions: 3/6")
	assert.Equal(t, int64(6), entry.ContextMap()["total"])
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	sink.Report(Report{Label: "a", Current: 1})
	sink.Report(Report{Label: "b", Current: 2, Done: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "a: 1 items"))
	assert.Equal(t, "b: done, 2 items in 0s", lines[1])
}

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, b}.Report(Report{Label: "x"})

	assert.Len(t, a.Reports(), 1)
	assert.Len(t, b.Reports(), 1)
}
