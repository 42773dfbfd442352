// pkg/config/write.go

package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	FilePerm = 0o600
	DirPerm  = 0o750
)

// ErrExists is returned by WriteFile when path exists and force is false.
var ErrExists = cerr.New("config file already exists")

// WriteFile writes cfg as YAML to path, creating the parent directory.
// The file may carry a DSN, so it is only readable by its owner.
func WriteFile(ctx context.Context, path string, cfg Config, force bool) error {
	logger := otelzap.Ctx(ctx)

	if !force {
		exists, err := Exists(path)
		if err != nil {
			return err
		}
		if exists {
			return cerr.WithHint(cerr.Wrapf(ErrExists, "%s", path), "pass --force to overwrite it")
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return cerr.Wrap(err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return cerr.Wrap(err, "encode config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DirPerm); err != nil {
		return cerr.Wrapf(err, "create directory for %s", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), FilePerm); err != nil {
		logger.Error("Failed to write config file", zap.String("path", path), zap.Error(err))
		return cerr.Wrapf(err, "write %s", path)
	}

	logger.Info("Config file written", zap.String("path", path), zap.Int("size", buf.Len()))
	return nil
}

// Exists reports whether path exists.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, cerr.Wrapf(err, "stat %s", path)
}
