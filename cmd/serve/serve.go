// cmd/serve/serve.go

package serve

import (
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	eos "github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServeCmd runs the HTTP API and, unless disabled, the sync scheduler.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run scheduled syncs",
	Long: `Serve the HTTP API (manual sync, agent linking, ticket creation,
findings, /healthz and /metrics) and run the sync scheduler in the same
process. Stops cleanly on SIGINT or SIGTERM.

Examples:
  delphi-sync serve
  delphi-sync serve --listen 0.0.0.0:8420 --no-scheduler`,
	Args: cobra.NoArgs,
	RunE: eos.Wrap(func(rc *eos_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

		a, closeApp, err := cli.Open(rc, cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		listen := a.Config.API.Listen
		if l, _ := cmd.Flags().GetString("listen"); l != "" {
			listen = l
		}

		g, ctx := errgroup.WithContext(rc.Ctx)
		g.Go(func() error { return a.Server().ListenAndServe(ctx, listen) })
		if !noScheduler {
			g.Go(func() error { return a.Scheduler.Run(ctx) })
		}
		logger.Info("delphi-sync serving",
			zap.String("listen", listen),
			zap.Bool("scheduler", !noScheduler))
		return g.Wait()
	}),
}

func init() {
	ServeCmd.Flags().String("listen", "", "override api.listen")
	ServeCmd.Flags().Bool("no-scheduler", false, "serve the API only; syncs run on demand")
}
