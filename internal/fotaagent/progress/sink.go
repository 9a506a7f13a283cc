package progress

import (
	"sync"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/pkg/metrics"
	"github.com/autopeer-io/fota/pkg/log"
)

// Multi fans progress out to several sinks.
type Multi []core.ProgressSink

var _ core.ProgressSink = Multi(nil)

func (m Multi) SetProgress(fraction float64) {
	for _, s := range m {
		s.SetProgress(fraction)
	}
}

func (m Multi) Print(line string) {
	for _, s := range m {
		s.Print(line)
	}
}

// LogSink writes progress to the structured log.
type LogSink struct {
	logger log.Logger
	last   int
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithName("ui"), last: -1}
}

func (s *LogSink) SetProgress(fraction float64) {
	metrics.SessionProgress.Set(fraction)
	pct := int(fraction * 100)
	if pct == s.last {
		return
	}
	s.last = pct
	s.logger.Info("Progress", "percent", pct)
}

func (s *LogSink) Print(line string) {
	s.logger.Info(line)
}

// Recorder keeps the latest progress and the status lines of a session so
// they can be served while the session runs.
type Recorder struct {
	mu       sync.RWMutex
	fraction float64
	lines    []string
	max      int
}

func NewRecorder(max int) *Recorder {
	return &Recorder{max: max}
}

func (r *Recorder) SetProgress(fraction float64) {
	r.mu.Lock()
	r.fraction = fraction
	r.mu.Unlock()
}

func (r *Recorder) Print(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if r.max > 0 && len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

// Reset clears the recorder for a new session.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.fraction = 0
	r.lines = nil
	r.mu.Unlock()
}

func (r *Recorder) Snapshot() (float64, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fraction, append([]string(nil), r.lines...)
}
