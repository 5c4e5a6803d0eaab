// A simple telemetry package.
// Log messages go through a zap logger; counters are kept in memory
// and written to the log on shutdown.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type TelemetryData struct {
	loggerLock sync.RWMutex
	logger     *zap.Logger

	counterLock sync.Mutex
	counters    map[string]int
}

var data = TelemetryData{
	counters: make(map[string]int),
}

// init is called at program startup time to initialize the logger
func init() {
	data.logger = NewLogger(false)
}

// NewLogger builds the production zap logger used by the service.
// Verbose enables trace (debug level) output.
func NewLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// SetLogger replaces the logger, returning the previous one.
func SetLogger(l *zap.Logger) *zap.Logger {
	data.loggerLock.Lock()
	defer data.loggerLock.Unlock()
	prev := data.logger
	data.logger = l
	return prev
}

// Logger returns the current logger for callers that want structured fields.
func Logger() *zap.Logger {
	data.loggerLock.RLock()
	defer data.loggerLock.RUnlock()
	return data.logger
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger().Sync()
}

func Log(format string, args ...any) {
	Logger().Info(fmt.Sprintf(format, args...))
}

func Trace(format string, args ...any) {
	Logger().Debug(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	Logger().Warn(fmt.Sprintf(format, args...))
	Increment("warnings", 1)
}

func Error(err error, format string, args ...any) {
	Logger().Error(fmt.Sprintf(format, args...), zap.Error(err))
	Increment("errors", 1)
}

// Request logs essential information about an HTTP request
func Request(r *http.Request, format string, args ...any) {
	Logger().Info(fmt.Sprintf(format, args...),
		zap.String("method", r.Method),
		zap.String("url", r.URL.String()))
}

// Increment increases a count, thread-safe
func Increment(name string, n int) {
	data.counterLock.Lock()
	defer data.counterLock.Unlock()
	data.counters[name] += n
}

func GetCounter(name string) int {
	data.counterLock.Lock()
	defer data.counterLock.Unlock()
	return data.counters[name]
}

func LogCounters() {
	s := make([]string, 0)
	data.counterLock.Lock()
	for k, v := range data.counters {
		s = append(s, fmt.Sprintf("%s=%d", k, v))
	}
	data.counterLock.Unlock()
	if len(s) == 0 {
		s = append(s, "no counters were recorded")
	}
	sort.Strings(s)
	Log(strings.Join(s, ", "))
}
