package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	loggerMu     sync.RWMutex
	globalLogger zerolog.Logger
	initialized  bool
)

// ParseLevel maps a configured level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	InitLoggerWithWriter(level, pretty, os.Stdout)
}

// InitLoggerWithWriter initializes the global logger writing to out.
// Calls after the first one are ignored.
func InitLoggerWithWriter(level string, pretty bool, out io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if initialized {
		return
	}

	zerolog.SetGlobalLevel(ParseLevel(level))

	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	globalLogger = zerolog.New(out).With().
		Timestamp().
		Str("service", ServiceName).
		Logger()

	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	ok := initialized
	logger := globalLogger
	loggerMu.RUnlock()

	if !ok {
		InitLogger("info", false)
		return GetLogger()
	}
	return logger
}

// ComponentLogger returns a logger tagged with the component name
func ComponentLogger(component string) zerolog.Logger {
	return GetLogger().With().Str("component", component).Logger()
}

// WithCorrelationID creates a logger with a correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
