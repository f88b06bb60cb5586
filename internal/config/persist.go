package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveValue writes one key into config.yaml, preserving the other keys in
// the file. The in-memory viper singleton is updated too, so the new value
// takes effect in the current process.
func SaveValue(key string, value any) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.yaml")

	values := map[string]any{}
	if data, err := os.ReadFile(path); err == nil { // #nosec G304 - path from config dir
		if err := yaml.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	values[key] = value

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: write config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: write config: %w", err)
	}

	Set(key, value)
	return nil
}
