package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/soulseed/acectl/internal/stage"
)

// stageLabels are the human names for the workflow phases, in display order.
var stageLabels = map[stage.Kind]string{
	stage.KindTriggerSubmit:   "Trigger",
	stage.KindStreamAwait:     "Stream",
	stage.KindSnapshotRefresh: "Refresh",
	stage.KindOutboxReady:     "Outbox",
}

// RenderStages renders the four workflow stages as one line each:
// icon, name, and the stage's current detail with elapsed time.
func RenderStages(stages []stage.Stage) string {
	byKind := make(map[stage.Kind]stage.Stage, len(stages))
	for _, s := range stages {
		byKind[s.Kind] = s
	}

	var b strings.Builder
	for _, kind := range stage.Kinds() {
		s := byKind[kind]
		b.WriteString(renderStageLine(kind, s))
		b.WriteString("\n")
	}
	return b.String()
}

func renderStageLine(kind stage.Kind, s stage.Stage) string {
	name := stageLabels[kind]

	var icon, text string
	switch s.Status {
	case stage.Running:
		icon = AccentStyle.Render(IconRun)
		text = s.Label
	case stage.Completed:
		icon = RenderPassIcon()
		text = s.Detail
	case stage.Failed:
		icon = RenderFailIcon()
		text = s.Detail
	default:
		icon = RenderSkipIcon()
		text = RenderMuted("waiting")
	}

	line := fmt.Sprintf("%s %-8s %s", icon, name, text)
	if d := stageElapsed(s); d != "" {
		line += " " + RenderMuted("("+d+")")
	}
	return line
}

func stageElapsed(s stage.Stage) string {
	switch s.Status {
	case stage.Completed, stage.Failed:
		return s.Duration.Round(time.Millisecond).String()
	case stage.Running:
		if !s.StartedAt.IsZero() {
			return time.Since(s.StartedAt).Round(time.Second).String()
		}
	}
	return ""
}
