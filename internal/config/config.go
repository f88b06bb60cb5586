// Package config holds acectl settings: the viper-backed singleton for
// flags/env/config.yaml, and the selected tenant/session context file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Config keys. Flags, ACE_* environment variables, and config.yaml all
// resolve through these.
const (
	KeyAPIBase          = "api-base"
	KeyStreamBase       = "stream-base"
	KeyToken            = "token"
	KeyTenant           = "tenant"
	KeySession          = "session"
	KeyTimeout          = "timeout"
	KeyHeartbeatTimeout = "heartbeat-timeout"
	KeyRetryBase        = "retry-base"
	KeyRetryMax         = "retry-max"
	KeyJSON             = "json"
	KeyQuiet            = "quiet"
	KeyVerbose          = "verbose"
)

// Initialize builds the viper singleton: defaults, then config.yaml from the
// acectl directory, then ACE_* environment overrides. Safe to call again for
// test isolation.
func Initialize() error {
	nv := viper.New()

	nv.SetDefault(KeyAPIBase, "")
	nv.SetDefault(KeyStreamBase, "")
	nv.SetDefault(KeyToken, "")
	nv.SetDefault(KeyTenant, "")
	nv.SetDefault(KeySession, "")
	nv.SetDefault(KeyTimeout, 30*time.Second)
	nv.SetDefault(KeyHeartbeatTimeout, 30*time.Second)
	nv.SetDefault(KeyRetryBase, time.Second)
	nv.SetDefault(KeyRetryMax, 10*time.Second)
	nv.SetDefault(KeyJSON, false)
	nv.SetDefault(KeyQuiet, false)
	nv.SetDefault(KeyVerbose, false)

	nv.SetEnvPrefix("ACE")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	nv.AutomaticEnv()

	nv.SetConfigName("config")
	nv.SetConfigType("yaml")
	if dir, err := Dir(); err == nil {
		nv.AddConfigPath(dir)
	}
	if err := nv.ReadInConfig(); err != nil {
		// A missing config file is the normal first-run state.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("config: read config.yaml: %w", err)
		}
	}

	v = nv
	return nil
}

// Dir returns the acectl configuration directory: $ACE_CONFIG_DIR when set,
// otherwise ~/.acectl.
func Dir() (string, error) {
	if dir := os.Getenv("ACE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".acectl"), nil
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

func GetBool(key string) bool {
	ensure()
	return v.GetBool(key)
}

func GetDuration(key string) time.Duration {
	ensure()
	return v.GetDuration(key)
}

// Set overrides a key for the current process (flag binding).
func Set(key string, value any) {
	ensure()
	v.Set(key, value)
}

// BindFlagValue lets cobra flags take precedence over file/env values.
func BindFlagValue(key string, value viper.FlagValue) error {
	ensure()
	return v.BindFlagValue(key, value)
}
