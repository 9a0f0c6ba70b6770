// README: tick command: run one scheduler pass, drain follow-up cascades and exit.
package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single dispatch scheduler tick and print its report",
	RunE:  tick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
}

func tick(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.scheduler.Tick(ctx)
	if err != nil {
		return err
	}
	cascaded := a.dispatch.DrainCascades(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"report": report, "cascaded": cascaded})
}
