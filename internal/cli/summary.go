package cli

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/wwwsec/yt-tools/internal/usecase"
)

func renderSummary(res usecase.Result) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"#", "Start", "End", "Speech", "Final", "Speed", "Note"})

	for _, e := range res.Manifest.Entries {
		speed := "-"
		if e.SpeedFactor > 0 {
			speed = strconv.FormatFloat(e.SpeedFactor, 'f', 2, 64) + "x"
		}
		note := e.Gap
		if note == "" && e.RawSec == 0 {
			note = "silent"
		}
		tw.AppendRow(table.Row{
			e.Index,
			seconds(e.Start),
			seconds(e.End),
			seconds(e.RawSec),
			seconds(e.FinalSec),
			speed,
			note,
		})
	}
	tw.AppendFooter(table.Row{"", "", seconds(res.Manifest.TotalSec), "", "", "", fmt.Sprintf("%d gap(s)", len(res.Gaps))})

	cfgs := make([]table.ColumnConfig, 0, 6)
	for i := 1; i <= 6; i++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: i, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(cfgs)
	return tw.Render()
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
