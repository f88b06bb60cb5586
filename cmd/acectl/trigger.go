package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/cycle"
	"github.com/soulseed/acectl/internal/stage"
	"github.com/soulseed/acectl/internal/ui"
)

// dialogueEvent is the trigger payload posted to the dialogue-events
// endpoint. The backend schedules an awareness cycle in response.
type dialogueEvent struct {
	SessionID string `json:"session_id,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Text      string `json:"text"`
	Source    string `json:"source"`
}

var triggerCmd = &cobra.Command{
	Use:     "trigger [text]",
	GroupID: "cycles",
	Short:   "Submit a dialogue event and follow the resulting cycle",
	Long: `Submit a dialogue event to the backend and follow the awareness cycle it
schedules: the progress stream is attached, ambiguous disconnects are
resolved against the authoritative snapshot, and on completion the
timeline, context bundle, and outbox are refreshed.

Examples:
  acectl trigger "remember that deploys freeze on fridays"
  acectl trigger --session sess-42 "what changed since yesterday?"
  acectl trigger -i                 # compose the event in a form
  acectl trigger --no-watch "..."   # just print the terminal outcome`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTrigger(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.Flags().String("session", "", "Dialogue session id (default: context file, $ACE_SESSION)")
	triggerCmd.Flags().String("scenario", "", "Scenario tag attached to the event")
	triggerCmd.Flags().BoolP("interactive", "i", false, "Compose the dialogue event in an interactive form")
	triggerCmd.Flags().Bool("no-watch", false, "Skip live stage rendering; print only the outcome")
}

func runTrigger(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	scenario, _ := cmd.Flags().GetString("scenario")
	interactive, _ := cmd.Flags().GetBool("interactive")
	noWatch, _ := cmd.Flags().GetBool("no-watch")

	if session == "" {
		session = currentSession()
	}

	text := ""
	if len(args) > 0 {
		text = args[0]
	}
	if interactive || strings.TrimSpace(text) == "" {
		var err error
		text, session, scenario, err = triggerForm(text, session, scenario)
		if err != nil {
			fatal(err)
		}
	}

	client, err := newAPIClient()
	if err != nil {
		fatal(err)
	}
	runner, err := newRunner(client)
	if err != nil {
		fatal(err)
	}

	params := cycle.Params{
		Tenant:  currentTenant(),
		Session: session,
		Event: dialogueEvent{
			SessionID: session,
			Scenario:  scenario,
			Text:      text,
			Source:    "console",
		},
		Timeline: api.TimelineQuery{Scenario: scenario},
	}

	watch := !noWatch && !jsonOutput && !quietFlag && !ui.IsAgentMode() && ui.ShouldUseColor()

	outcome, err := watchCycle(runner, params, watch)
	reportOutcome(runner, outcome, err)
}

// triggerForm collects the event fields interactively. Pre-filled values
// come from flags and the context file.
func triggerForm(text, session, scenario string) (string, string, string, error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Message").
				Description("Dialogue text the backend should react to (required)").
				Placeholder("e.g., summarize what happened in today's standup").
				CharLimit(4000).
				Value(&text).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("message is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Session").
				Description("Dialogue session id (empty uses the active context)").
				Placeholder("sess-42").
				Value(&session),

			huh.NewInput().
				Title("Scenario").
				Description("Optional scenario tag").
				Value(&scenario),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", "", fmt.Errorf("canceled: %w", err)
	}
	return text, session, scenario, nil
}

// watchCycle runs the workflow, re-rendering the stage register on every
// transition when watch is on.
func watchCycle(runner *cycle.Runner, params cycle.Params, watch bool) (cycle.Outcome, error) {
	if !watch {
		return runner.Run(getRootContext(), params)
	}

	updates := make(chan struct{}, 1)
	runner.Stages().Subscribe(func(stage.Stage) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	results, err := runner.Trigger(getRootContext(), params)
	if err != nil {
		return cycle.Outcome{}, err
	}

	drawn := 0
	redraw := func() {
		if drawn > 0 {
			fmt.Printf("\x1b[%dA\x1b[J", drawn)
		}
		out := ui.RenderStages(runner.Stages().Snapshot())
		fmt.Print(out)
		drawn = strings.Count(out, "\n")
	}

	redraw()
	for {
		select {
		case outcome := <-results:
			redraw()
			return outcome, outcome.Err
		case <-updates:
			redraw()
		}
	}
}

// reportOutcome prints the terminal result, including any diagnostics from
// the last backend failure.
func reportOutcome(runner *cycle.Runner, outcome cycle.Outcome, err error) {
	if jsonOutput {
		payload := map[string]any{
			"cycle_id": outcome.CycleID,
			"status":   outcome.Status,
		}
		if outcome.ManifestDigest != "" {
			payload["manifest_digest"] = outcome.ManifestDigest
		}
		if outcome.TraceID != "" {
			payload["trace_id"] = outcome.TraceID
		}
		if outcome.Refresh != nil && outcome.Refresh.Outbox != nil {
			payload["outbox_count"] = len(outcome.Refresh.Outbox)
		}
		if err != nil {
			payload["error"] = err.Error()
			if diag := runner.LastDiagnostics(); diag.ErrorCode != "" {
				payload["error_code"] = diag.ErrorCode
			}
			outputJSON(payload)
			os.Exit(1)
		}
		outputJSON(payload)
		return
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%s %v\n", ui.RenderFailIcon(), err)
		printDiagnostics(runner.LastDiagnostics())
		if errors.Is(err, cycle.ErrNoTenant) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	fmt.Printf("\n%s cycle %s %s\n", ui.RenderPassIcon(), ui.RenderAccent(outcome.CycleID), outcome.Status)
	if outcome.Refresh != nil && len(outcome.Refresh.Outbox) > 0 {
		fmt.Printf("%s run 'acectl outbox %s' to read %d message(s)\n",
			ui.RenderInfoIcon(), outcome.CycleID, len(outcome.Refresh.Outbox))
	}
}

func printDiagnostics(diag cycle.Diagnostics) {
	if diag.Op == "" {
		return
	}
	if diag.ErrorCode != "" {
		fmt.Fprintf(os.Stderr, "  code:    %s\n", diag.ErrorCode)
	}
	if diag.TraceID != "" {
		fmt.Fprintf(os.Stderr, "  trace:   %s\n", diag.TraceID)
	}
	if diag.BudgetHint != "" {
		fmt.Fprintf(os.Stderr, "  budget:  %s\n", diag.BudgetHint)
	}
	if len(diag.Indices) > 0 {
		fmt.Fprintf(os.Stderr, "  indices: %s\n", strings.Join(diag.Indices, ", "))
	}
}
