// cmd/connection/connection.go

package connection

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ConnectionCmd manages Wazuh connections.
var ConnectionCmd = &cobra.Command{
	Use:     "connection",
	Aliases: []string{"connections", "conn"},
	Short:   "Manage Wazuh connections",
	Long: `A connection is one Wazuh manager (and optionally its indexer) with the
credentials, interval and entity it syncs into. Passwords are stored sealed
with secrets.key_file, or as vault:/env: references.`,
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a connection, prompting for passwords",
	Long: `Add a connection, or update the one with the same name.

Passwords are read without echo. Pass --api-password-ref or
--indexer-password-ref to store a vault:path#field or env:NAME reference
instead of a sealed value.

Examples:
  delphi-sync connection add --name prod --server-url https://wazuh.example.com \
      --api-user wazuh --indexer-url https://wazuh.example.com --indexer-user admin
  delphi-sync connection add --name lab --server-url https://lab:55000 --api-user wazuh \
      --api-password-ref vault:wazuh/lab#api_password`,
	Args: cobra.NoArgs,
	RunE: eos.Wrap(runAdd),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections with passwords redacted",
	Args:  cobra.NoArgs,
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		format, err := cli.OutputFormat(cmd)
		if err != nil {
			return err
		}
		a, closeApp, err := cli.Open(rc, cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		conns, err := cli.ListConnections(rc.Ctx, a.Tables)
		if err != nil {
			return err
		}
		if format != cli.FormatTable {
			return cli.Encode(cmd.OutOrStdout(), format, cli.ConnectionFile{Connections: conns})
		}
		return printTable(cmd.OutOrStdout(), conns)
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Add or update connections from a YAML file",
	Long: `Read a document of the form

  connections:
    - name: prod
      server_url: https://wazuh.example.com
      api_username: wazuh
      api_password: env:WAZUH_PROD_PASSWORD
      sync_interval: 3600
      is_active: true

Plain passwords are sealed before they are stored. Connections are matched by
name; every valid entry is saved even when others fail.`,
	Args: cobra.ExactArgs(1),
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return cerr.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()
			r = f
		}

		a, closeApp, err := cli.Open(rc, cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		res, err := cli.ImportConnections(rc.Ctx, a.Tables, a.Secrets, r)
		fmt.Fprintf(cmd.OutOrStdout(), "created: %d\nupdated: %d\nfailed: %d\n", res.Created, res.Updated, res.Failed)
		return err
	}),
}

var testCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Authenticate against a connection's manager and report its version",
	Args:  cobra.ExactArgs(1),
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		id, err := cli.ParseID("connection id", args[0])
		if err != nil {
			return err
		}
		format, err := cli.OutputFormat(cmd)
		if err != nil {
			return err
		}
		a, closeApp, err := cli.Open(rc, cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		conn, err := a.Tables.Connections.Get(rc.Ctx, id)
		if err != nil {
			return cerr.Wrapf(err, "load connection %d", id)
		}
		res, err := cli.CheckConnection(rc.Ctx, a.Wazuh, a.Secrets, &conn)
		if err != nil {
			return eos_err.NewNetworkError(fmt.Sprintf("connection %q failed", conn.Name), err,
				"check server_url, api_port and the API credentials",
				"for self-signed managers set http.ca_file, or http.insecure_skip_verify as a last resort")
		}
		if format != cli.FormatTable {
			return cli.Encode(cmd.OutOrStdout(), format, res)
		}
		source := "legacy manager endpoint"
		if res.UsesIndex {
			source = "indexer"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s is Wazuh %s; vulnerabilities come from the %s\n",
			res.Connection, res.Manager, res.Version, source)
		return nil
	}),
}

func init() {
	f := addCmd.Flags()
	f.String("name", "", "connection name")
	f.String("server-url", "", "manager URL, e.g. https://wazuh.example.com")
	f.Int("api-port", inventory.DefaultAPIPort, "manager API port")
	f.String("api-user", "", "manager API user")
	f.String("api-password-ref", "", "vault: or env: reference instead of prompting")
	f.String("indexer-url", "", "indexer URL (enables vulnerability and alert sync)")
	f.Int("indexer-port", inventory.DefaultIndexerPort, "indexer port")
	f.String("indexer-user", "", "indexer user")
	f.String("indexer-password-ref", "", "vault: or env: reference instead of prompting")
	f.Int("interval", inventory.DefaultSyncInterval, "seconds between syncs (min 60)")
	f.Uint("entity", 0, "entity the connection syncs into")
	f.Uint("category", 0, "ITIL category for tickets raised from this connection")
	f.Bool("inactive", false, "store the connection disabled")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("server-url")
	_ = addCmd.MarkFlagRequired("api-user")

	cli.AddOutputFlag(listCmd, cli.FormatTable)
	cli.AddOutputFlag(testCmd, cli.FormatTable)
	ConnectionCmd.AddCommand(addCmd, listCmd, importCmd, testCmd)
}

func runAdd(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)
	f := cmd.Flags()

	var conn inventory.Connection
	conn.Name, _ = f.GetString("name")
	conn.ServerURL, _ = f.GetString("server-url")
	conn.APIPort, _ = f.GetInt("api-port")
	conn.APIUsername, _ = f.GetString("api-user")
	conn.IndexerURL, _ = f.GetString("indexer-url")
	conn.IndexerUsername, _ = f.GetString("indexer-user")
	conn.SyncInterval, _ = f.GetInt("interval")
	conn.EntityID, _ = f.GetUint("entity")
	conn.ITILCategoryID, _ = f.GetUint("category")
	inactive, _ := f.GetBool("inactive")
	conn.IsActive = !inactive
	if conn.IndexerURL != "" {
		conn.IndexerPort, _ = f.GetInt("indexer-port")
	}

	var err error
	if conn.APIPassword, err = passwordOrRef(rc, cmd, "api-password-ref", "Wazuh API password"); err != nil {
		return err
	}
	if conn.IndexerURL != "" {
		if conn.IndexerPassword, err = passwordOrRef(rc, cmd, "indexer-password-ref", "Wazuh indexer password"); err != nil {
			return err
		}
	}

	a, closeApp, err := cli.Open(rc, cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	created, err := cli.SaveConnection(rc.Ctx, a.Tables, a.Secrets, &conn)
	if err != nil {
		return err
	}
	logger.Info("Connection saved", zap.Uint("id", conn.ID), zap.String("name", conn.Name), zap.Bool("created", created))
	fmt.Fprintf(cmd.OutOrStdout(), "connection %d (%s) saved\n", conn.ID, conn.Name)
	return nil
}

func passwordOrRef(rc *eos_io.RuntimeContext, cmd *cobra.Command, flag, label string) (string, error) {
	if ref, _ := cmd.Flags().GetString(flag); ref != "" {
		return ref, nil
	}
	return eos_io.PromptSecret(rc, label)
}

func printTable(w io.Writer, conns []inventory.Connection) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMANAGER\tINDEXER\tINTERVAL\tACTIVE\tENTITY\tLAST SYNC")
	for _, c := range conns {
		last := "never"
		if c.LastSync != nil {
			last = c.LastSync.UTC().Format("2006-01-02 15:04:05")
		}
		indexer := c.IndexerBase()
		if indexer == "" {
			indexer = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			c.ID, c.Name, c.ManagerBase(), indexer, c.Interval(), c.IsActive, c.EntityID, last)
	}
	return tw.Flush()
}
