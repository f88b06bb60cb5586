package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/config"
	"github.com/soulseed/acectl/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show and change configuration",
	Long: `Inspect the effective configuration and change persisted values.

"tenant" and "session" go to the context file (context.yaml), which live
streams watch for changes; everything else goes to config.yaml.

  acectl config show
  acectl config set tenant acme
  acectl config set session sess-42
  acectl config set api-base https://ace.example.com`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigShow()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runConfigGet(args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist one configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runConfigSet(args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

// settableKeys are the config.yaml keys "config set" accepts. Tenant and
// session are handled separately through the context file.
var settableKeys = map[string]bool{
	config.KeyAPIBase:          true,
	config.KeyStreamBase:       true,
	config.KeyTimeout:          true,
	config.KeyHeartbeatTimeout: true,
	config.KeyRetryBase:        true,
	config.KeyRetryMax:         true,
	config.KeyJSON:             true,
	config.KeyQuiet:            true,
	config.KeyVerbose:          true,
}

func runConfigShow() {
	cctx := config.LoadContext()
	values := map[string]string{
		"tenant":  cctx.Tenant,
		"session": cctx.Session,
	}
	for key := range settableKeys {
		values[key] = config.GetString(key)
	}

	if jsonOutput {
		// Token presence without the token itself
		values["token_configured"] = fmt.Sprintf("%t", config.GetString(config.KeyToken) != "")
		outputJSON(values)
		return
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(ui.RenderCategory("Configuration") + " " + ui.RenderMuted("("+configFileHint()+")"))
	for _, k := range keys {
		v := values[k]
		if v == "" {
			v = ui.RenderMuted("(unset)")
		}
		fmt.Printf("  %-18s %s\n", k, v)
	}
}

func runConfigGet(key string) {
	switch key {
	case config.KeyTenant:
		fmt.Println(currentTenant())
	case config.KeySession:
		fmt.Println(currentSession())
	case config.KeyToken:
		fatal(fmt.Errorf("token is not printable; use 'acectl auth status'"))
	default:
		if !settableKeys[key] {
			fatal(fmt.Errorf("unknown config key %q", key))
		}
		fmt.Println(config.GetString(key))
	}
}

func runConfigSet(key, value string) {
	switch key {
	case config.KeyTenant, config.KeySession:
		cctx := config.LoadContext()
		if key == config.KeyTenant {
			cctx.Tenant = value
		} else {
			cctx.Session = value
		}
		if err := config.SaveContext(cctx); err != nil {
			fatal(err)
		}
	case config.KeyToken:
		fatal(fmt.Errorf("use 'acectl auth set-token' to store the token"))
	default:
		if !settableKeys[key] {
			keys := make([]string, 0, len(settableKeys)+2)
			keys = append(keys, config.KeyTenant, config.KeySession)
			for k := range settableKeys {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fatal(fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(keys, ", ")))
		}
		if err := config.SaveValue(key, value); err != nil {
			fatal(err)
		}
	}

	if !quietFlag {
		fmt.Printf("%s %s = %s\n", ui.RenderPassIcon(), key, value)
	}
}
