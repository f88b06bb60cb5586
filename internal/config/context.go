package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Context is the selected tenant and dialogue session, persisted in
// context.yaml. It is parsed directly from the file (not through viper) so
// that watchers and subprocesses always see the latest selection.
type Context struct {
	Tenant  string `yaml:"tenant"`
	Session string `yaml:"session"`
}

// ContextPath returns the context.yaml location inside the config directory.
func ContextPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "context.yaml"), nil
}

// LoadContext reads context.yaml and applies ACE_TENANT / ACE_SESSION
// environment overrides. A missing or unparsable file yields an empty
// context, not an error.
func LoadContext() *Context {
	ctx := &Context{}
	if path, err := ContextPath(); err == nil {
		if data, err := os.ReadFile(path); err == nil { // #nosec G304 - path from config dir
			_ = yaml.Unmarshal(data, ctx)
		}
	}
	if tenant := os.Getenv("ACE_TENANT"); tenant != "" {
		ctx.Tenant = tenant
	}
	if session := os.Getenv("ACE_SESSION"); session != "" {
		ctx.Session = session
	}
	return ctx
}

// SaveContext writes context.yaml atomically (temp file + rename) so a
// concurrent watcher never reads a half-written selection.
func SaveContext(ctx *Context) error {
	path, err := ContextPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("config: encode context: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".context-*.yaml")
	if err != nil {
		return fmt.Errorf("config: write context: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write context: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: write context: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: write context: %w", err)
	}
	return nil
}
