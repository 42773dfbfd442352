// cmd/sync/sync.go

package sync

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/api"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/scheduler"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// SyncCmd runs sync passes once, for one connection, or as a daemon.
var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull agents, vulnerabilities and alerts from Wazuh",
	Long: `Run sync passes against the configured Wazuh connections.

Without flags every active connection whose interval has elapsed is synced
once. --connection syncs one connection immediately, regardless of its
interval. --daemon keeps checking for due connections every scheduler.tick.

Examples:
  delphi-sync sync
  delphi-sync sync --connection 3 -o json
  delphi-sync sync --daemon`,
	Args: cobra.NoArgs,
	RunE: eos.Wrap(runSync),
}

func init() {
	SyncCmd.Flags().Uint("connection", 0, "sync only this connection id, now")
	SyncCmd.Flags().Bool("daemon", false, "keep running and sync connections as they fall due")
	cli.AddOutputFlag(SyncCmd, cli.FormatTable)
}

func runSync(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)
	connID, _ := cmd.Flags().GetUint("connection")
	daemon, _ := cmd.Flags().GetBool("daemon")
	format, err := cli.OutputFormat(cmd)
	if err != nil {
		return err
	}

	a, closeApp, err := cli.Open(rc, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	switch {
	case daemon:
		logger.Info("Running sync daemon; interrupt to stop", zap.Duration("tick", a.Config.Scheduler.Tick))
		return a.Scheduler.Run(rc.Ctx)

	case connID != 0:
		rep, err := a.Scheduler.RunConnection(rc.Ctx, connID)
		if rep.RunID != "" {
			if perr := PrintReports(cmd.OutOrStdout(), format, []scheduler.Report{rep}); perr != nil {
				return perr
			}
		}
		return err

	default:
		reports, err := a.Scheduler.Tick(rc.Ctx)
		if len(reports) == 0 && err == nil {
			logger.Info("No connection is due")
			return nil
		}
		if perr := PrintReports(cmd.OutOrStdout(), format, reports); perr != nil {
			return perr
		}
		return err
	}
}

// PrintReports renders pass reports as a table, YAML or JSON.
func PrintReports(w io.Writer, format string, reports []scheduler.Report) error {
	out := make([]api.SyncResponse, 0, len(reports))
	for _, r := range reports {
		out = append(out, api.NewSyncResponse(r))
	}
	if format != cli.FormatTable {
		return cli.Encode(w, format, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTION\tSTATE\tAGENTS\tLINKED\tVULNS\tDISCONTINUED\tALERTS\tFAILED\tDURATION")
	for _, r := range out {
		failed := r.Agents.Failed + r.Vulnerabilities.Failed + r.Alerts.Failed
		fmt.Fprintf(tw, "%d %s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%dms\n",
			r.ConnectionID, r.Connection, r.State,
			r.Agents.Created+r.Agents.Updated+r.Agents.Unchanged,
			r.Linked,
			r.Vulnerabilities.Created+r.Vulnerabilities.Updated+r.Vulnerabilities.Unchanged,
			r.Vulnerabilities.Discontinued,
			r.Alerts.Created+r.Alerts.Updated+r.Alerts.Unchanged,
			failed, r.DurationMS)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range out {
		if r.Error != "" {
			fmt.Fprintf(w, "connection %d: %s\n", r.ConnectionID, r.Error)
		}
	}
	return nil
}
