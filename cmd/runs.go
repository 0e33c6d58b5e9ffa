package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispense/config"
	"github.com/kilianp07/dispense/core/model"
	"github.com/kilianp07/dispense/core/runlog"
)

var runsOpts struct {
	solution string
	well     string
	run      string
	since    time.Duration
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query the run log",
	RunE:  queryRuns,
}

func init() {
	f := runsCmd.Flags()
	f.StringVar(&runsOpts.solution, "solution", "", "only transfers of this solution")
	f.StringVar(&runsOpts.well, "well", "", "only transfers that dispensed into this well")
	f.StringVar(&runsOpts.run, "run", "", "only this run id")
	f.DurationVar(&runsOpts.since, "since", 0, "only transfers newer than this duration")
	rootCmd.AddCommand(runsCmd)
}

func queryRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := runlog.Open(cfg.RunLog)
	if err != nil {
		return err
	}
	defer store.Close()

	q := runlog.Query{
		Solution: model.SolutionID(runsOpts.solution),
		Well:     model.WellID(runsOpts.well),
		RunID:    runsOpts.run,
	}
	if runsOpts.since > 0 {
		q.Start = time.Now().Add(-runsOpts.since)
	}
	recs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if recs == nil {
		recs = []runlog.Record{}
	}
	return enc.Encode(recs)
}
