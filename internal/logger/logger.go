// Package logger configures the application's logging, monitoring, and
// observability.
//
// It uses zerolog for structured logging and integrates with New Relic to
// instrument the codebase, forwarding logs, metrics, and traces.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/logcontext-v2/zerologWriter"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/parcelworks/batchd/internal/config"
)

// LoggerService owns the New Relic application instance (if configured).
// When New Relic is disabled the service still exists but carries a nil
// application, and every consumer degrades to a no-op.
type LoggerService struct {
	nrApp *newrelic.Application
}

// NewLoggerService initializes the New Relic agent from config.
//
// An empty license key is not an error: it simply means observability is
// limited to local logs, and GetApplication returns nil.
func NewLoggerService(cfg *config.Config) (*LoggerService, error) {
	if cfg.Observability == nil || cfg.Observability.NewRelic.LicenseKey == "" {
		return &LoggerService{}, nil
	}

	opts := []newrelic.ConfigOption{
		newrelic.ConfigAppName(cfg.Observability.ServiceName),
		newrelic.ConfigLicense(cfg.Observability.NewRelic.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(cfg.Observability.NewRelic.AppLogForwardingEnabled),
		newrelic.ConfigDistributedTracerEnabled(cfg.Observability.NewRelic.DistributedTracingEnabled),
	}
	if cfg.Observability.NewRelic.DebugLogging {
		opts = append(opts, newrelic.ConfigDebugLogger(os.Stdout))
	}

	nrApp, err := newrelic.NewApplication(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize new relic application: %w", err)
	}

	return &LoggerService{nrApp: nrApp}, nil
}

// GetApplication returns the New Relic application instance, or nil when
// the agent is not configured.
func (ls *LoggerService) GetApplication() *newrelic.Application {
	if ls == nil {
		return nil
	}
	return ls.nrApp
}

// Shutdown flushes buffered telemetry and stops the agent.
func (ls *LoggerService) Shutdown(timeout time.Duration) {
	if ls != nil && ls.nrApp != nil {
		ls.nrApp.Shutdown(timeout)
	}
}

// NewLogger builds the application's main structured logger.
//
// Format selection:
//   - console format in the local environment (human-friendly)
//   - JSON elsewhere (log pipelines), optionally routed through the New
//     Relic zerolog writer so logs carry trace linking metadata
func NewLogger(cfg *config.Config, loggerService *LoggerService) *zerolog.Logger {
	level := parseLevel(cfg.Observability.GetLogLevel())

	var logger zerolog.Logger
	if cfg.Observability.Logging.Format == "console" || cfg.Primary.Env == "local" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).
			With().Timestamp().Logger()
	} else if app := loggerService.GetApplication(); app != nil && cfg.Observability.NewRelic.AppLogForwardingEnabled {
		writer := zerologWriter.New(os.Stdout, app)
		logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}

	logger = logger.With().
		Str("service", cfg.Observability.ServiceName).
		Str("env", cfg.Observability.Environment).
		Logger()

	return &logger
}

// NewPgxLogger builds a console logger dedicated to pgx query output.
// Only used in the local environment, where SQL logging is wanted.
func NewPgxLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("component", "pgx").Logger()
}

// GetPgxTraceLogLevel maps a zerolog level onto the pgx tracelog scale.
// The returned int is cast to tracelog.LogLevel by the caller.
func GetPgxTraceLogLevel(level zerolog.Level) int {
	switch level {
	case zerolog.TraceLevel:
		return 6 // tracelog.LogLevelTrace
	case zerolog.DebugLevel:
		return 5 // tracelog.LogLevelDebug
	case zerolog.InfoLevel:
		return 4 // tracelog.LogLevelInfo
	case zerolog.WarnLevel:
		return 3 // tracelog.LogLevelWarn
	case zerolog.ErrorLevel:
		return 2 // tracelog.LogLevelError
	default:
		return 1 // tracelog.LogLevelNone
	}
}

// WithTraceContext returns a copy of the logger carrying the New Relic
// trace and span IDs, so log lines can be correlated with traces.
func WithTraceContext(log zerolog.Logger, txn *newrelic.Transaction) zerolog.Logger {
	if txn == nil {
		return log
	}

	md := txn.GetTraceMetadata()
	return log.With().
		Str("trace.id", md.TraceID).
		Str("span.id", md.SpanID).
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
