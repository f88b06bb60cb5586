package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/cycleid"
	"github.com/soulseed/acectl/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status <cycle-id>",
	GroupID: "cycles",
	Short:   "Show the authoritative snapshot for a cycle",
	Long: `Read the cycle's authoritative snapshot from the backend: schedule state,
recorded outcomes, and outbox size. Accepts display-form (base-36) and
wire-form (decimal) cycle ids.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runStatus(args[0])
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(rawID string) {
	client, err := newAPIClient()
	if err != nil {
		fatal(err)
	}

	wireID, ok := cycleid.Coerce(rawID)
	if !ok {
		wireID = rawID
	}

	snap, err := client.GetCycleSnapshot(getRootContext(), currentTenant(), wireID)
	if err != nil {
		fatal(err)
	}

	if jsonOutput {
		outputJSON(snap)
		return
	}

	display := rawID
	if id, err := cycleid.Parse(rawID); err == nil {
		display = cycleid.Format(id)
	}

	status := snap.TerminalStatus()
	if status == "" {
		status = "pending"
	}

	fmt.Printf("%s cycle %s\n", ui.RenderCategory("Status"), ui.RenderAccent(display))
	fmt.Printf("  state:    %s\n", renderCycleStatus(status))
	if snap.Schedule.Lane != "" {
		fmt.Printf("  lane:     %s\n", snap.Schedule.Lane)
	}
	fmt.Printf("  outcomes: %d\n", len(snap.Outcomes))
	if n := len(snap.Outcomes); n > 0 {
		last := snap.Outcomes[n-1]
		if last.ManifestDigest != nil && *last.ManifestDigest != "" {
			fmt.Printf("  manifest: %s\n", ui.TruncateSimple(*last.ManifestDigest, 40))
		}
	}
	fmt.Printf("  outbox:   %d message(s)\n", len(snap.Outbox))
}

func renderCycleStatus(status string) string {
	switch status {
	case "completed", "complete", "success":
		return ui.RenderPass(status)
	case "failed", "failure", "error":
		return ui.RenderFail(status)
	case "running", "awaiting_external", "pending":
		return ui.RenderWarn(status)
	default:
		return status
	}
}
