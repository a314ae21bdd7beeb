package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily scan and weekly report jobs on their cron schedules",
	Long:  "Runs in the foreground until interrupted. --once daily|weekly runs a single job immediately and exits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		once, _ := cmd.Flags().GetString("once")
		switch once {
		case "", "daily", "weekly":
		default:
			return eris.Errorf("--once must be daily or weekly, got %q", once)
		}

		env, err := initMonitor(ctx, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		sched := env.newScheduler()
		switch once {
		case "daily":
			sched.RunDaily(ctx)
			return nil
		case "weekly":
			sched.RunWeekly(ctx)
			return nil
		}
		return sched.Run(ctx)
	},
}

func init() {
	scheduleCmd.Flags().String("once", "", "run one job now and exit (daily or weekly)")
	rootCmd.AddCommand(scheduleCmd)
}
