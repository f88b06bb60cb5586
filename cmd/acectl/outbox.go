package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/cycleid"
	"github.com/soulseed/acectl/internal/ui"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox <cycle-id>",
	GroupID: "cycles",
	Short:   "Read the messages a completed cycle produced",
	Long: `Fetch the outbox of a cycle and render each message. Markdown bodies are
rendered for the terminal; long messages are truncated unless --full is
given. Output is paged when it exceeds the terminal height.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		full, _ := cmd.Flags().GetBool("full")
		noPager, _ := cmd.Flags().GetBool("no-pager")
		runOutbox(args[0], full, noPager)
	},
}

func init() {
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.Flags().Bool("full", false, "Show complete message bodies without truncation")
	outboxCmd.Flags().Bool("no-pager", false, "Print directly instead of paging")
}

func runOutbox(rawID string, full, noPager bool) {
	client, err := newAPIClient()
	if err != nil {
		fatal(err)
	}

	wireID, ok := cycleid.Coerce(rawID)
	if !ok {
		wireID = rawID
	}

	messages, err := client.GetCycleOutbox(getRootContext(), currentTenant(), wireID)
	if err != nil {
		fatal(err)
	}

	if jsonOutput {
		outputJSON(messages)
		return
	}
	if len(messages) == 0 {
		fmt.Printf("%s outbox is empty\n", ui.RenderInfoIcon())
		return
	}

	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString(ui.RenderSeparator())
			b.WriteString("\n")
		}
		header := fmt.Sprintf("message %s", msg.MessageID)
		if msg.Channel != "" {
			header += " · " + msg.Channel
		}
		b.WriteString(ui.RenderCategory(header))
		b.WriteString("\n")

		body := msg.Content
		if !full && ui.ShouldTruncate(body, ui.DefaultMaxLines, ui.DefaultMaxChars) {
			body = ui.TruncateLines(body, ui.DefaultMaxLines, ui.DefaultContextLines)
		}
		b.WriteString(ui.RenderMarkdown(body))
		b.WriteString("\n")
	}

	if err := ui.ToPager(b.String(), ui.PagerOptions{NoPager: noPager}); err != nil {
		fmt.Print(b.String())
	}
}
