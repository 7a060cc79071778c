package ikesa

import "github.com/behrlich/go-ikesa/internal/logging"

// NoopBus discards every SetCurrentSA call. It is the natural EventBus to
// pass in when nothing downstream cares which SA a thread is currently
// working on (tests, benchmarks, a caller that tracks focus itself).
type NoopBus struct{}

// SetCurrentSA implements EventBus.
func (NoopBus) SetCurrentSA(SAHandle) {}

// LoggingBus logs every SA focus change through internal/logging, at
// debug level. Useful for tracing which SA each worker goroutine is
// operating on without wiring up a real thread-local bus.
type LoggingBus struct {
	Logger *logging.Logger
}

// NewLoggingBus builds a LoggingBus. A nil logger falls back to
// logging.Default().
func NewLoggingBus(logger *logging.Logger) *LoggingBus {
	if logger == nil {
		logger = logging.Default()
	}
	return &LoggingBus{Logger: logger}
}

// SetCurrentSA implements EventBus.
func (b *LoggingBus) SetCurrentSA(sa SAHandle) {
	if sa == nil {
		b.Logger.Debug("current SA cleared")
		return
	}
	b.Logger.Debug("current SA set", "id", sa.ID(), "name", sa.Name())
}
