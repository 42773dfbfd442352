// pkg/cli/cli.go
//
// Package cli holds what the delphi-sync commands share: configuration
// bootstrap, output rendering and connection management.

package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/app"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/config"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	FlagConfig   = "config"
	FlagLogLevel = "log-level"
	FlagOutput   = "output"

	ServiceName = "delphi-sync"
)

// AddGlobalFlags registers the flags every command inherits.
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String(FlagConfig, "", "path to delphi-sync.yaml (default: ./delphi-sync.yaml, /etc/delphi-sync/delphi-sync.yaml)")
	root.PersistentFlags().String(FlagLogLevel, "", "override log.level (DEBUG, INFO, WARN, ERROR)")
}

// AddOutputFlag registers -o with the given default.
func AddOutputFlag(cmd *cobra.Command, def string) {
	cmd.Flags().StringP(FlagOutput, "o", def, "output format: "+strings.Join(Formats, ", "))
}

// LoadConfig reads the file named by --config and applies --log-level.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagString(cmd, FlagConfig))
	if err != nil {
		return nil, eos_err.NewExpectedError(err)
	}
	if lvl := flagString(cmd, FlagLogLevel); lvl != "" {
		cfg.Log.Level = strings.ToUpper(lvl)
	}
	return cfg, nil
}

// Setup loads configuration and installs the configured logger and tracer.
// The returned func flushes both.
func Setup(rc *eos_io.RuntimeContext, cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger.Initialize(logger.Options{
		Level:       cfg.Log.Level,
		Path:        cfg.Log.Path,
		ConsoleOnly: cfg.Log.ConsoleOnly,
	})
	if err := telemetry.Init(ServiceName, telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Path:    cfg.Telemetry.Path,
	}); err != nil {
		rc.Log.Warn("Tracing disabled", zap.Error(err))
	}
	done := func() {
		if err := telemetry.Shutdown(context.WithoutCancel(rc.Ctx)); err != nil {
			rc.Log.Warn("Failed to flush traces", zap.Error(err))
		}
		logger.Sync()
	}
	return cfg, done, nil
}

// Open runs Setup and wires the pipeline. The returned func closes it.
func Open(rc *eos_io.RuntimeContext, cmd *cobra.Command, opts ...app.Option) (*app.App, func(), error) {
	cfg, done, err := Setup(rc, cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(rc.Ctx, cfg, opts...)
	if err != nil {
		done()
		return nil, nil, eos_err.NewSystemError("could not start the sync pipeline", err,
			"check database.dsn and that PostgreSQL is reachable",
			"run 'delphi-sync config show' to see the effective settings")
	}
	closeAll := func() {
		if err := a.Close(context.WithoutCancel(rc.Ctx)); err != nil {
			rc.Log.Warn("Failed to close pipeline", zap.Error(err))
		}
		done()
	}
	return a, closeAll, nil
}

// GetRequiredString returns a flag value that must not be empty.
func GetRequiredString(cmd *cobra.Command, name string) (string, error) {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", cerr.Wrapf(err, "flag --%s", name)
	}
	if val == "" {
		return "", eos_err.NewValidationError("required flag --"+name+" is empty", "pass --"+name)
	}
	return val, nil
}

// ParseID parses a positive numeric id argument.
func ParseID(what, s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, eos_err.NewValidationError(what+" must be a positive integer, got "+strconv.Quote(s))
	}
	return uint(n), nil
}

func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}
