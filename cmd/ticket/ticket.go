// cmd/ticket/ticket.go

package ticket

import (
	"errors"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/ticketing"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// TicketCmd groups ticket operations.
var TicketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Raise tickets for synced findings",
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create one ticket for a set of findings on the same device",
	Long: `Create a ticket on the configured ticketing backend listing the given
findings, link their device to it and store the ticket id on each finding.

Examples:
  delphi-sync ticket create --table computer_vulnerabilities --records 12,13
  delphi-sync ticket create --table networkequipment_alerts --records 7 \
      --title "Repeated auth failures" --urgency 4`,
	Args: cobra.NoArgs,
	RunE: eos.Wrap(runCreate),
}

func init() {
	createCmd.Flags().String("table", "", "finding table, e.g. computer_vulnerabilities")
	createCmd.Flags().UintSlice("records", nil, "finding ids (comma separated)")
	createCmd.Flags().String("title", "", "ticket title (default: Wazuh <Device> Vulnerable|Alert)")
	createCmd.Flags().String("comment", "", "text placed above the generated links")
	createCmd.Flags().Int("urgency", 0, "urgency 1-5 (default 3)")
	createCmd.Flags().Uint("category", 0, "ITIL category id (default: the connection's)")
	createCmd.Flags().Uint("entity", 0, "entity id of the ticket")
	_ = createCmd.MarkFlagRequired("table")
	_ = createCmd.MarkFlagRequired("records")
	TicketCmd.AddCommand(createCmd)
}

func runCreate(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)

	table, err := cli.GetRequiredString(cmd, "table")
	if err != nil {
		return err
	}
	profile, ok := inventory.ProfileForTable(table)
	if !ok {
		return eos_err.NewValidationError("unknown finding table "+table,
			"use <computer|networkequipment>_<vulnerabilities|alerts>")
	}
	req := ticketing.Request{Profile: profile}
	req.RecordIDs, _ = cmd.Flags().GetUintSlice("records")
	req.Title, _ = cmd.Flags().GetString("title")
	req.Comment, _ = cmd.Flags().GetString("comment")
	req.Urgency, _ = cmd.Flags().GetInt("urgency")
	req.CategoryID, _ = cmd.Flags().GetUint("category")
	req.EntityID, _ = cmd.Flags().GetUint("entity")

	a, closeApp, err := cli.Open(rc, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	id, err := a.Tickets.CreateTicket(rc.Ctx, req)
	var backlink *ticketing.BacklinkError
	switch {
	case errors.As(err, &backlink):
		fmt.Fprintf(cmd.OutOrStdout(), "ticket %d created\n", id)
		logger.Warn("Ticket created with incomplete back-links", zap.Uints("records", backlink.Failed))
		return err
	case err != nil:
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ticket %d created for %d %s records\n", id, len(req.RecordIDs), table)
	return nil
}
