// cmd/link/link.go

package link

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/spf13/cobra"
)

// LinkCmd binds unbound agents to devices of the same name.
var LinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Bind unbound Wazuh agents to inventory devices by name",
	Long: `Match every unbound agent in the entity subtree against Computer and
NetworkEquipment names in the agent's entity. Names must match exactly.
NetworkEquipment is searched before Computer and the last match wins, so a
Computer beats a switch of the same name; such ties are reported.

Examples:
  delphi-sync link
  delphi-sync link --entity 4 -o yaml`,
	Args: cobra.NoArgs,
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		entity, _ := cmd.Flags().GetUint("entity")
		format, err := cli.OutputFormat(cmd)
		if err != nil {
			return err
		}

		a, closeApp, err := cli.Open(rc, cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		rep, err := a.Scheduler.LinkAgents(rc.Ctx, entity)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if format != cli.FormatTable {
			return cli.Encode(w, format, rep)
		}
		fmt.Fprintf(w, "linked: %d\nunmatched: %d\nambiguous: %d\n", rep.Linked, rep.Unmatched, len(rep.Ambiguous))
		for _, amb := range rep.Ambiguous {
			fmt.Fprintf(w, "  %s\n", amb.Error())
		}
		return nil
	}),
}

func init() {
	LinkCmd.Flags().Uint("entity", 0, "root entity of the subtree to link (0 = all)")
	cli.AddOutputFlag(LinkCmd, cli.FormatTable)
}
