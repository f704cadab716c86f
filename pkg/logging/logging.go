package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	globalLogger Logger = newZapLogger("info", "console")
)

// InitLogger replaces the global logger. level is one of debug, info, warn,
// error; format is "console" or "json". Unknown values fall back to the
// defaults rather than failing, so a bad flag never leaves the process
// without a logger.
func InitLogger(level, format string) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = newZapLogger(level, format)
}

// SetLogger installs a caller-provided logger, typically a test logger.
func SetLogger(l Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

// GetLogger returns the current global logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

func newZapLogger(level, format string) Logger {
	var cfg zap.Config
	if strings.EqualFold(format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.DisableStacktrace = true

	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level != "" {
		var zapLevel zapcore.Level
		if err := zapLevel.UnmarshalText([]byte(strings.ToLower(level))); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(zapLevel)
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		// zap.Config.Build only fails on invalid encoder settings, which the
		// two fixed configs above cannot produce.
		panic(err)
	}
	return &zapLogger{logger.Sugar()}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &zapLogger{zap.NewNop().Sugar()}
}

// zapLogger adapts zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	*zap.SugaredLogger
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

// With returns a child logger with the given structured context attached.
func (l *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{l.SugaredLogger.With(keysAndValues...)}
}
