// Package export renders dispense plans for review before a run.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/dispense/core/model"
)

// WriteJSON writes the plan to w in JSON format.
func WriteJSON(w io.Writer, p model.DispensePlan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// WriteCSV writes one well,volume_ul line per entry in plan order.
func WriteCSV(w io.Writer, p model.DispensePlan) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"well", "volume_ul"}); err != nil {
		return err
	}
	for _, e := range p.Entries {
		rec := []string{
			string(e.Well),
			strconv.FormatFloat(e.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteChart renders an HTML bar chart of the volume sent to each well.
func WriteChart(w io.Writer, p model.DispensePlan) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Solution %s", p.Solution),
			Subtitle: fmt.Sprintf("%d wells, %.2f µL", p.Len(), p.Total()),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Well"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Volume (µL)"}),
	)

	xAxis := make([]string, len(p.Entries))
	data := make([]opts.BarData, len(p.Entries))
	for i, e := range p.Entries {
		xAxis[i] = string(e.Well)
		data[i] = opts.BarData{Value: e.Volume}
	}
	bar.SetXAxis(xAxis).AddSeries(string(p.Solution), data)

	if err := bar.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
