// cmd/config/config.go

package config

import (
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/config"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const redacted = "***"

// ConfigCmd manages delphi-sync.yaml.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect delphi-sync.yaml",
	Long: `Settings are read from delphi-sync.yaml (./ or /etc/delphi-sync/, or
--config), then .env, then DELPHI_* environment variables such as
DELPHI_DATABASE_DSN or DELPHI_SCHEDULER_TICK.

Examples:
  delphi-sync config init --dsn postgres://delphi@db/delphi
  delphi-sync config show`,
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		force, _ := cmd.Flags().GetBool("force")

		path := config.DefaultFileName
		if f := cmd.Flag(cli.FlagConfig); f != nil && f.Value.String() != "" {
			path = f.Value.String()
		}
		if len(args) == 1 {
			path = args[0]
		}

		cfg := config.Default()
		cfg.Database.DSN, _ = cmd.Flags().GetString("dsn")
		if memory, _ := cmd.Flags().GetBool("memory"); memory {
			cfg.Database.Driver = "memory"
		}
		if err := config.WriteFile(rc.Ctx, path, cfg, force); err != nil {
			return err
		}
		if err := config.Validate(&cfg); err != nil {
			logger.Warn("Written file still needs editing before use", zap.String("path", path), zap.Error(err))
		}
		return nil
	}),
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		format, err := cli.OutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := cli.LoadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Database.DSN != "" {
			cfg.Database.DSN = redacted
		}
		if cfg.Ticketing.GLPI.UserToken != "" {
			cfg.Ticketing.GLPI.UserToken = redacted
		}
		if cfg.Ticketing.GLPI.AppToken != "" {
			cfg.Ticketing.GLPI.AppToken = redacted
		}
		if v := cfg.Secrets.Vault; v != nil {
			if v.Token != "" {
				v.Token = redacted
			}
			if v.Password != "" {
				v.Password = redacted
			}
		}
		return cli.Encode(cmd.OutOrStdout(), format, cfg)
	}),
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	initCmd.Flags().String("dsn", "", "PostgreSQL DSN to write into database.dsn")
	initCmd.Flags().Bool("memory", false, "use the in-memory store (dry runs only)")
	cli.AddOutputFlag(showCmd, cli.FormatYAML)
	ConfigCmd.AddCommand(initCmd, showCmd)
}
