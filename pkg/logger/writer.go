// pkg/logger/writer.go

package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// DefaultLogPaths are probed in order when no explicit path is configured.
var DefaultLogPaths = []string{
	"/var/log/delphi-sync/delphi-sync.log",
	filepath.Join(os.Getenv("HOME"), ".local", "state", "delphi-sync", "delphi-sync.log"),
	"./delphi-sync.log",
}

// GetLogFileWriter tries to create a file writer at the specified path.
func GetLogFileWriter(path string) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

// FindWritableLogPath returns the first usable entry of DefaultLogPaths.
func FindWritableLogPath() (string, error) {
	for _, path := range DefaultLogPaths {
		if _, err := GetLogFileWriter(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no writable log path found")
}
