package progress

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Sink receives progress reports.
type Sink interface {
	Report(r Report)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Report)

func (f SinkFunc) Report(r Report) { f(r) }

// Nop discards reports.
type Nop struct{}

func (Nop) Report(Report) {}

// ZapSink writes reports as info log entries.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.L()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Report(r Report) {
	fields := []zap.Field{
		zap.String("label", r.Label),
		zap.Int64("current", r.Current),
		zap.Duration("elapsed", r.Elapsed),
		zap.Bool("done", r.Done),
	}
	if r.Total > 0 {
		fields = append(fields, zap.Int64("total", r.Total))
	}
	s.logger.Info(r.String(), fields...)
}

// WriterSink writes one text line per report.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Report(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Progress output is best effort.
	_, _ = fmt.Fprintln(s.w, r.String())
}

// Recorder keeps every report in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, rep)
}

// Reports returns a copy of the recorded reports.
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Multi fans a report out to several sinks.
type Multi []Sink

func (m Multi) Report(r Report) {
	for _, s := range m {
		s.Report(r)
	}
}
