package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispense/core/model"
	"github.com/kilianp07/dispense/core/plan"
	"github.com/kilianp07/dispense/core/robot"
	"github.com/kilianp07/dispense/infra/logger"
	"github.com/kilianp07/dispense/infra/table"
	"github.com/kilianp07/dispense/pkg/export"
)

var planOpts struct {
	table    string
	sheet    string
	solution string
	labware  string
	format   string
	out      string
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build the dispense plan of one solution without a robot",
	RunE:  buildPlan,
}

func init() {
	f := planCmd.Flags()
	f.StringVar(&planOpts.table, "table", "", "volume table (.csv or .xlsx)")
	f.StringVar(&planOpts.sheet, "sheet", "", "spreadsheet sheet (first sheet when empty)")
	f.StringVar(&planOpts.solution, "solution", "", "solution to extract")
	f.StringVar(&planOpts.labware, "labware", "corning_96_wellplate_360ul_flat", "destination plate load name")
	f.StringVar(&planOpts.format, "format", "json", "output format: json, csv or html")
	f.StringVarP(&planOpts.out, "out", "o", "", "output file (stdout when empty)")
	_ = planCmd.MarkFlagRequired("table")
	_ = planCmd.MarkFlagRequired("solution")
	rootCmd.AddCommand(planCmd)
}

func buildPlan(cmd *cobra.Command, args []string) error {
	write, err := planWriter(planOpts.format)
	if err != nil {
		return err
	}
	def, err := robot.LookupLabware(planOpts.labware)
	if err != nil {
		return err
	}
	log := logger.New("plan-command")
	tbl, err := table.NewReader(table.Options{Sheet: planOpts.sheet}, log).Load(cmd.Context(), planOpts.table)
	if err != nil {
		return err
	}
	p, err := plan.BuildPlan(tbl, robot.WellsFor(def), model.SolutionID(planOpts.solution))
	if err != nil {
		return err
	}
	for _, d := range p.Diagnostics {
		log.Warnf("solution %s not found in column %q row %d (%s), well %s", d.Solution, d.Column, d.Row, d.RowLabel, d.Well)
	}

	if planOpts.out == "" {
		return write(cmd.OutOrStdout(), p)
	}
	return writeFile(planOpts.out, p, write)
}

// writeFile writes the plan to path. A failed close is reported as an error.
func writeFile(path string, p model.DispensePlan, write func(io.Writer, model.DispensePlan) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return write(f, p)
}

func planWriter(format string) (func(io.Writer, model.DispensePlan) error, error) {
	switch format {
	case "json":
		return export.WriteJSON, nil
	case "csv":
		return export.WriteCSV, nil
	case "html":
		return export.WriteChart, nil
	default:
		return nil, fmt.Errorf("unknown format %q (json, csv or html)", format)
	}
}
