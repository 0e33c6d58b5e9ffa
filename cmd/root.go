package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispense/app"
	"github.com/kilianp07/dispense/config"
	"github.com/kilianp07/dispense/infra/logger"
)

var (
	cfgPath string
	dryRun  bool
	runID   string
)

var rootCmd = &cobra.Command{
	Use:   "dispense",
	Short: "Volume-table driven liquid dispensing",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "build and check every plan without moving liquid")
	rootCmd.Flags().StringVar(&runID, "run-id", "", "identifier recorded in the run log (generated when empty)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg, dryRun)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()

	sum, err := svc.Run(ctx, runID, dryRun)
	out := cmd.OutOrStdout()
	for _, o := range sum.Outcomes {
		status := "ok"
		switch {
		case o.Err != nil:
			status = "failed: " + o.Err.Error()
		case o.Skipped:
			status = "planned"
		}
		fmt.Fprintf(out, "%s\t%s\t%d wells\t%.2f µL\t%d missing\t%s\n",
			o.Transfer, o.Solution, o.Wells, o.Volume, o.Missing, status)
	}
	fmt.Fprintf(out, "run %s\n", sum.RunID)
	return err
}
