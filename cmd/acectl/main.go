package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/config"
	"github.com/soulseed/acectl/internal/debug"
	"github.com/soulseed/acectl/internal/telemetry"
)

var (
	jsonOutput  bool
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output
	tenantFlag  string
	apiBaseFlag string

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "acectl",
	Short: "acectl - Awareness-cycle console",
	Long: `Console client for the awareness-cycle backend. Triggers cycles,
follows their progress stream, and inspects timelines and outboxes.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Handle --version flag on root command
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("acectl version %s (%s)\n", Version, Build)
			return
		}
		// No subcommand - show help
		_ = cmd.Help() // Help() always returns nil for cobra commands
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyVerbosityFlags()
		applyFlagOverrides(cmd)

		if telemetry.Enabled() {
			if err := telemetry.Init(getRootContext(), "acectl", Version); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
			}
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())

		// Cancel the signal context to clean up resources
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	// Initialize viper configuration
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	// Command groups for organized help output
	rootCmd.AddGroup(&cobra.Group{ID: "cycles", Title: "Cycles:"})
	rootCmd.AddGroup(&cobra.Group{ID: "views", Title: "Views & Streams:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})

	// Register persistent flags
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "Tenant id (default: context file, $ACE_TENANT)")
	rootCmd.PersistentFlags().StringVar(&apiBaseFlag, "api-base", "", "Backend base URL (default: config key api-base, $ACE_API_BASE)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	// Add --version flag to root command (same behavior as version subcommand)
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

// setupSignalContext installs a context canceled by SIGINT/SIGTERM so a
// running cycle fails its stream stage cleanly instead of dying mid-write.
func setupSignalContext() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx, rootCancel = ctx, cancel
}

func getRootContext() context.Context {
	if rootCtx != nil {
		return rootCtx
	}
	return context.Background()
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package
// so all subsequent log output respects the user's preference.
func applyVerbosityFlags() {
	if !verboseFlag {
		verboseFlag = config.GetBool(config.KeyVerbose)
	}
	if !quietFlag {
		quietFlag = config.GetBool(config.KeyQuiet)
	}
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

// applyFlagOverrides pushes explicitly set persistent flags into the config
// singleton so command code reads one source of truth.
func applyFlagOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("json") {
		config.Set(config.KeyJSON, jsonOutput)
	} else {
		jsonOutput = config.GetBool(config.KeyJSON)
	}
	if tenantFlag != "" {
		config.Set(config.KeyTenant, tenantFlag)
	}
	if apiBaseFlag != "" {
		config.Set(config.KeyAPIBase, apiBaseFlag)
	}
}

func main() {
	// ACE_NAME overrides the binary name in help text (e.g. ACE_NAME=ace
	// makes "ace --help" show "ace"). Useful for wrapper scripts.
	if name := os.Getenv("ACE_NAME"); name != "" {
		rootCmd.Use = name
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
