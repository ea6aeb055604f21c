package engine

import "log/slog"

// Progress notification types.
const (
	ProgressInfo    = "info"
	ProgressSuccess = "success"
	ProgressWarning = "warning"
	ProgressError   = "error"
)

// Progress is one user-facing notification emitted while provisioning runs.
type Progress struct {
	Message string `json:"message"`
	Phase   string `json:"phase"`
	Type    string `json:"type"`
}

// ProgressSink receives provisioning progress. Implementations must not
// block: the pipeline calls Notify inline between phases.
type ProgressSink interface {
	Notify(p Progress)
}

// NopSink discards progress.
type NopSink struct{}

func (NopSink) Notify(Progress) {}

// LogSink forwards progress to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(p Progress) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch p.Type {
	case ProgressError:
		logger.Error(p.Message, "phase", p.Phase)
	case ProgressWarning:
		logger.Warn(p.Message, "phase", p.Phase)
	default:
		logger.Info(p.Message, "phase", p.Phase)
	}
}

// multiSink fans a notification out to several sinks.
type multiSink []ProgressSink

func (m multiSink) Notify(p Progress) {
	for _, s := range m {
		s.Notify(p)
	}
}

// CombineSinks merges sinks into one; nil entries are skipped.
func CombineSinks(sinks ...ProgressSink) ProgressSink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return NopSink{}
	}
	return out
}
