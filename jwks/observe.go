package jwks

// Logger is the structured logging hook for fetch and refresh events. It is
// satisfied by the adapters in the root package (logrus, zerolog) as well as
// by any logger exposing printf-style leveled methods.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...any) {}
func (noopLogger) Infof(format string, args ...any)  {}
func (noopLogger) Warnf(format string, args ...any)  {}
func (noopLogger) Errorf(format string, args ...any) {}

// Metrics is the counter hook for fetch and refresh outcomes. The root
// package's Metrics implementations satisfy it.
type Metrics interface {
	IncCounter(name string, tags map[string]string)
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(name string, tags map[string]string) {}

// Counter names emitted by the provider.
const (
	MetricFetchAttempts   = "jwks_fetch_attempts_total"
	MetricFetchFailures   = "jwks_fetch_failures_total"
	MetricRefreshSuccess  = "jwks_refresh_success_total"
	MetricRefreshFailures = "jwks_refresh_failures_total"
)
