// pkg/logger/logger.go

package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// Options controls how the global logger is built.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR. LOG_LEVEL overrides it.
	Level string
	// Path is the JSON log file. Empty means probe DefaultLogPaths.
	Path string
	// ConsoleOnly disables the file sink.
	ConsoleOnly bool
}

// Initialize builds the console+JSON tee and installs it as the zap global.
func Initialize(opts Options) *zap.Logger {
	level := ParseLogLevel(opts.Level)
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = ParseLogLevel(env)
	}

	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	if opts.ConsoleOnly {
		return install(zap.New(console, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	}

	path := opts.Path
	if path == "" {
		found, err := FindWritableLogPath()
		if err != nil {
			fmt.Fprintln(os.Stderr, "No writable log path found. Logging to console only.")
			return install(zap.New(console, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
		}
		path = found
	}

	writer, err := GetLogFileWriter(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Could not write to log file, logging to console only:", err)
		return install(zap.New(console, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		console,
		zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), writer, level),
	)
	l := install(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	l.Debug("Logger initialized", zap.String("log_path", path), zap.String("level", level.String()))
	return l
}

// install sets both the zap and otelzap globals so otelzap.Ctx(ctx) in
// library packages writes through the same cores.
func install(l *zap.Logger) *zap.Logger {
	log = l
	zap.ReplaceGlobals(l)
	otelzap.ReplaceGlobals(otelzap.New(l))
	return l
}

// L returns the global logger, initializing a console fallback if needed.
func L() *zap.Logger {
	if log == nil {
		InitFallback()
	}
	return log
}

// Sync flushes any buffered log entries. Should be called before the application exits.
func Sync() {
	if log == nil {
		return
	}
	// console sync returns EINVAL on some terminals; nothing useful to do with it
	_ = log.Sync()
}

// ParseLogLevel maps a level name to a zap level. Unknown names are Info.
func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
