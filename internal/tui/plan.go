package tui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"pgrman/internal/progress"
	"pgrman/internal/restore"
)

// RenderPlan formats a restore plan for the confirmation screen
func RenderPlan(plan *restore.Plan) string {
	var s strings.Builder

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(fmt.Sprintf("%-18s", label)))
		s.WriteString(value)
		s.WriteString("\n")
	}

	row("Data directory:", plan.PgData)
	row("Timelines:", fmt.Sprintf("current %d, latest full backup %d, target %d",
		plan.CurrentTimeline, plan.BackupTimeline, plan.TargetTimeline))
	row("Recovery target:", plan.Target.Summary())

	if plan.Chain != nil {
		row("Full backup:", fmt.Sprintf("%s (%s)", plan.Chain.Base.ID(), plan.Chain.Base.StopLSN))
		for _, b := range plan.Chain.Incrementals {
			row("Incremental:", fmt.Sprintf("%s (%s)", b.ID(), b.StopLSN))
		}
	}
	row("Data to restore:", humanize.Bytes(uint64(plan.RequiredBytes)))
	if plan.EstimatedDuration > 0 {
		row("Estimated time:", "~"+progress.FormatDuration(plan.EstimatedDuration))
	}

	s.WriteString("\n")
	s.WriteString(warningStyle.Render("Everything in the data directory will be replaced."))
	return planBoxStyle.Render(s.String())
}
