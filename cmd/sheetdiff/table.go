package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"plan-overlay/internal/alignment"
	"plan-overlay/internal/pipeline"
)

func renderStats(stats alignment.Stats, trace []pipeline.State) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Statistic", "Value"})

	tw.AppendRow(table.Row{"Method", string(stats.Method)})
	if stats.Scale != nil {
		tw.AppendRow(table.Row{"Scale", fmt.Sprintf("%.4f", *stats.Scale)})
	}
	if stats.RotationDeg != nil {
		tw.AppendRow(table.Row{"Rotation (deg)", fmt.Sprintf("%.3f", *stats.RotationDeg)})
	}
	if stats.InlierCount != nil {
		tw.AppendRow(table.Row{"Inliers", fmt.Sprintf("%d", *stats.InlierCount)})
	}
	if stats.InlierRatio != nil {
		tw.AppendRow(table.Row{"Inlier ratio", fmt.Sprintf("%.3f", *stats.InlierRatio)})
	}
	if stats.HMatches != nil {
		tw.AppendRow(table.Row{"Horizontal grid matches", fmt.Sprintf("%d", *stats.HMatches)})
	}
	if stats.VMatches != nil {
		tw.AppendRow(table.Row{"Vertical grid matches", fmt.Sprintf("%d", *stats.VMatches)})
	}
	tw.AppendRow(table.Row{"States", formatTrace(trace)})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func formatTrace(trace []pipeline.State) string {
	names := make([]string, len(trace))
	for i, s := range trace {
		names[i] = s.String()
	}
	return strings.Join(names, " > ")
}
