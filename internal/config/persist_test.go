package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSaveValueRoundTrip(t *testing.T) {
	isolate(t)

	if err := SaveValue(KeyAPIBase, "https://ace.example.com"); err != nil {
		t.Fatalf("SaveValue() returned error: %v", err)
	}

	// Effective immediately in this process
	if got := GetString(KeyAPIBase); got != "https://ace.example.com" {
		t.Errorf("GetString(api-base) = %q after SaveValue", got)
	}

	// And persisted: a fresh Initialize reads it back from the file
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeyAPIBase); got != "https://ace.example.com" {
		t.Errorf("GetString(api-base) = %q after reload", got)
	}
}

func TestSaveValuePreservesOtherKeys(t *testing.T) {
	dir := isolate(t)

	if err := SaveValue(KeyAPIBase, "https://ace.example.com"); err != nil {
		t.Fatalf("SaveValue(api-base) returned error: %v", err)
	}
	if err := SaveValue(KeyToken, "tok-123"); err != nil {
		t.Fatalf("SaveValue(token) returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("reading config.yaml: %v", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		t.Fatalf("parsing config.yaml: %v", err)
	}
	if values[KeyAPIBase] != "https://ace.example.com" {
		t.Errorf("api-base = %v, want earlier value preserved", values[KeyAPIBase])
	}
	if values[KeyToken] != "tok-123" {
		t.Errorf("token = %v", values[KeyToken])
	}
}
