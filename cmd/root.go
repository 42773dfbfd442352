/* cmd/root.go */

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/cmd/agents"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/cmd/config"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/cmd/connection"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/cmd/link"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/cmd/serve"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/cmd/sync"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/cmd/ticket"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd is the base command for delphi-sync.
var RootCmd = &cobra.Command{
	Use:   "delphi-sync",
	Short: "Sync Wazuh agents, vulnerabilities and alerts into the asset inventory",
	Long: `delphi-sync pulls agents, vulnerability state and alerts from one or more
Wazuh deployments, reconciles them into the asset inventory, binds agents to
computers and network equipment, and raises tickets for selected findings.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.ErrOrStderr(), "No subcommand provided. Try `delphi-sync help`.")
		return cmd.Help()
	}),
}

// HelpCmd wraps help so that it can be invoked like a normal command.
var HelpCmd = &cobra.Command{
	Use:   "help [command]",
	Short: "Help about any command",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return RootCmd.Help()
		}
		c, _, err := RootCmd.Find(args)
		if err != nil || c == nil {
			return fmt.Errorf("command not found: %s", strings.Join(args, " "))
		}
		return c.Help()
	},
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	RootCmd.Version = eos_io.Version
	RootCmd.SetHelpCommand(HelpCmd)
	cli.AddGlobalFlags(RootCmd)

	for _, subCmd := range []*cobra.Command{
		sync.SyncCmd,
		link.LinkCmd,
		ticket.TicketCmd,
		serve.ServeCmd,
		connection.ConnectionCmd,
		agents.AgentsCmd,
		config.ConfigCmd,
	} {
		RootCmd.AddCommand(subCmd)
	}
}

// Execute runs the root command and exits with the error's category code.
func Execute() {
	RegisterCommands()

	err := RootCmd.Execute()
	logger.Sync()
	if err == nil {
		return
	}
	logger.L().Debug("Command returned an error", zap.String("category", eos_err.CategoryOf(err).String()))
	eos_err.PrintError("delphi-sync", err)
	if code := eos_err.GetExitCode(err); code != 0 {
		os.Exit(code)
	}
	os.Exit(1)
}
