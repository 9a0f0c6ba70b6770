// README: schedule generate command: expand weekly templates into dated schedule entries.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleetdispatch/internal/modules/schedule"
	"fleetdispatch/internal/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Driver schedule maintenance",
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create dated schedule entries from weekly templates",
	RunE:  generate,
}

var (
	genTenants []string
	genFrom    string
	genDays    int
)

func init() {
	generateCmd.Flags().StringSliceVarP(&genTenants, "tenant", "t", nil, "tenant id (repeatable)")
	generateCmd.Flags().StringVar(&genFrom, "from", "", "first date, YYYY-MM-DD (default today in the schedule timezone)")
	generateCmd.Flags().IntVar(&genDays, "days", 0, "number of days to generate (default schedule.generate_days)")
	_ = generateCmd.MarkFlagRequired("tenant")
	scheduleCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func generate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}
	from := time.Now().In(loc)
	if genFrom != "" {
		if from, err = time.ParseInLocation(time.DateOnly, genFrom, loc); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	days := genDays
	if days <= 0 {
		days = cfg.Schedule.GenerateDays
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, t := range genTenants {
		n, err := schedule.Generate(ctx, a.store, types.ID(t), from, days, loc)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", t, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tenant %s: %d entries created for %d days from %s\n", t, n, days, from.Format(time.DateOnly))
	}
	return nil
}
