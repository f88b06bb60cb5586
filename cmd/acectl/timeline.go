package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/timeparsing"
	"github.com/soulseed/acectl/internal/ui"
)

var timelineCmd = &cobra.Command{
	Use:     "timeline",
	GroupID: "views",
	Short:   "List dialogue and awareness events",
	Long: `Page through the tenant's dialogue timeline. --since accepts compact
durations, natural language, and absolute timestamps:

  acectl timeline --since -1d
  acectl timeline --since yesterday
  acectl timeline --since "last monday" --session sess-42
  acectl timeline --since 2026-08-01 --limit 200`,
	Run: func(cmd *cobra.Command, args []string) {
		runTimeline(cmd)
	},
}

func init() {
	rootCmd.AddCommand(timelineCmd)
	timelineCmd.Flags().String("since", "", "Only events after this time (+1d, yesterday, 2006-01-02, RFC3339)")
	timelineCmd.Flags().Int("limit", 50, "Maximum number of events")
	timelineCmd.Flags().String("session", "", "Filter by dialogue session id")
	timelineCmd.Flags().String("scenario", "", "Filter by scenario tag")
	timelineCmd.Flags().String("cursor", "", "Resume from a previous page's next_cursor")
}

func runTimeline(cmd *cobra.Command) {
	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")
	session, _ := cmd.Flags().GetString("session")
	scenario, _ := cmd.Flags().GetString("scenario")
	cursor, _ := cmd.Flags().GetString("cursor")

	if session == "" {
		session = currentSession()
	}

	query := api.TimelineQuery{
		SessionID: session,
		Scenario:  scenario,
		Cursor:    cursor,
		Limit:     limit,
	}
	if since != "" {
		t, err := timeparsing.ParseRelativeTime(since, time.Now())
		if err != nil {
			fatal(err)
		}
		query.Since = t.UnixMilli()
	}

	client, err := newAPIClient()
	if err != nil {
		fatal(err)
	}
	page, err := client.GetTimeline(getRootContext(), currentTenant(), query)
	if err != nil {
		fatal(err)
	}

	if jsonOutput {
		outputJSON(page)
		return
	}
	if len(page.Items) == 0 {
		fmt.Printf("%s no events\n", ui.RenderInfoIcon())
		return
	}

	for _, raw := range page.Items {
		fmt.Println(renderTimelineItem(raw))
	}
	if page.NextCursor != nil && *page.NextCursor != "" {
		fmt.Println(ui.RenderMuted("more: --cursor " + *page.NextCursor))
	}
}

// renderTimelineItem formats one event. The timeline carries heterogeneous
// payloads, so decoding is best-effort: known fields get a columned line,
// anything else prints as compact JSON.
func renderTimelineItem(raw json.RawMessage) string {
	var item struct {
		Kind      string `json:"kind"`
		EventType string `json:"event_type"`
		Text      string `json:"text"`
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return string(raw)
	}

	kind := item.Kind
	if kind == "" {
		kind = item.EventType
	}
	text := item.Text
	if text == "" {
		text = item.Content
	}
	if kind == "" && text == "" {
		return string(raw)
	}

	ts := ""
	if t, err := time.Parse(time.RFC3339, item.CreatedAt); err == nil {
		ts = ui.RenderMuted(t.Local().Format("2006-01-02 15:04")) + " "
	}
	return fmt.Sprintf("%s%s %s", ts, ui.RenderCategory(fmt.Sprintf("%-10s", kind)), ui.TruncateSimple(text, 120))
}
