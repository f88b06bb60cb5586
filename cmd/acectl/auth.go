package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/config"
	"github.com/soulseed/acectl/internal/ui"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	GroupID: "setup",
	Short:   "Manage backend credentials",
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store the backend bearer token",
	Long: `Prompt for a bearer token (input is not echoed) and store it in
config.yaml. In pipelines, the token can be piped on stdin instead:

  echo "$ACE_TOKEN" | acectl auth set-token`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAuthSetToken()
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a token is configured",
	Run: func(cmd *cobra.Command, args []string) {
		runAuthStatus()
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetTokenCmd)
	authCmd.AddCommand(authStatusCmd)
}

func runAuthSetToken() {
	var token string

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Token: ")
		tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr) // newline after token
		if err != nil {
			fatal(fmt.Errorf("failed to read token: %w", err))
		}
		token = string(tokenBytes)
	} else {
		// Piped input: first line is the token
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fatal(fmt.Errorf("failed to read token from stdin: %w", err))
		}
		token = line
	}

	token = strings.TrimSpace(token)
	if token == "" {
		fatal(errors.New("empty token"))
	}

	if err := config.SaveValue(config.KeyToken, token); err != nil {
		fatal(err)
	}
	if !quietFlag {
		fmt.Printf("%s token stored in %s\n", ui.RenderPassIcon(), configFileHint())
	}
}

func runAuthStatus() {
	token := config.GetString(config.KeyToken)
	if jsonOutput {
		outputJSON(map[string]bool{"token_configured": token != ""})
		return
	}
	if token == "" {
		fmt.Printf("%s no token configured (run 'acectl auth set-token')\n", ui.RenderWarnIcon())
		return
	}
	masked := strings.Repeat("*", 8)
	if n := len(token); n > 4 {
		masked += token[n-4:]
	}
	fmt.Printf("%s token configured: %s\n", ui.RenderPassIcon(), masked)
}
