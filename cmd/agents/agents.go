// cmd/agents/agents.go

package agents

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// AgentsCmd groups agent queries.
var AgentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"agent"},
	Short:   "Inspect synced Wazuh agents",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List synced agents and the device each is bound to",
	Long: `List the live agents in the store.

Examples:
  delphi-sync agents list
  delphi-sync agents list --connection 2 --unbound -o json`,
	Args: cobra.NoArgs,
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		format, err := cli.OutputFormat(cmd)
		if err != nil {
			return err
		}
		connID, _ := cmd.Flags().GetUint("connection")
		unbound, _ := cmd.Flags().GetBool("unbound")

		a, closeApp, err := cli.Open(rc, cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		filter := store.Filter{"is_deleted": false}
		if connID != 0 {
			filter["connection_id"] = connID
		}
		if unbound {
			filter["item_id"] = 0
		}
		agents, err := a.Tables.Agents.Find(rc.Ctx, filter)
		if err != nil {
			return cerr.Wrap(err, "list agents")
		}

		if format != cli.FormatTable {
			return cli.Encode(cmd.OutOrStdout(), format, agents)
		}
		return printTable(cmd.OutOrStdout(), agents)
	}),
}

func init() {
	listCmd.Flags().Uint("connection", 0, "only agents of this connection")
	listCmd.Flags().Bool("unbound", false, "only agents not yet linked to a device")
	cli.AddOutputFlag(listCmd, cli.FormatTable)
	AgentsCmd.AddCommand(listCmd)
}

func printTable(w io.Writer, agents []inventory.Agent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONN\tAGENT\tNAME\tIP\tSTATUS\tVERSION\tOS\tGROUPS\tDEVICE")
	for _, ag := range agents {
		device := "-"
		if ref, ok := ag.Device(); ok {
			device = fmt.Sprint(ref)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ag.ConnectionID, ag.AgentID, ag.Name, ag.IP, ag.Status, ag.Version,
			strings.TrimSpace(ag.OSName+" "+ag.OSVersion),
			strings.Join(ag.Groups, ","), device)
	}
	return tw.Flush()
}
