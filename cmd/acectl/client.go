package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/config"
	"github.com/soulseed/acectl/internal/cycle"
	"github.com/soulseed/acectl/internal/debug"
	"github.com/soulseed/acectl/internal/sse"
	"github.com/soulseed/acectl/internal/telemetry"
)

// currentTenant resolves the tenant: --tenant flag / $ACE_TENANT via config,
// then the context file.
func currentTenant() string {
	if t := config.GetString(config.KeyTenant); t != "" {
		return t
	}
	return config.LoadContext().Tenant
}

// currentSession resolves the dialogue session the same way.
func currentSession() string {
	if s := config.GetString(config.KeySession); s != "" {
		return s
	}
	return config.LoadContext().Session
}

// newAPIClient builds the backend client from effective config.
func newAPIClient() (*api.Client, error) {
	base := config.GetString(config.KeyAPIBase)
	if base == "" {
		return nil, fmt.Errorf("no backend configured (set api-base in %s or $ACE_API_BASE)", configFileHint())
	}
	opts := []api.Option{
		api.WithTimeout(config.GetDuration(config.KeyTimeout)),
	}
	if token := config.GetString(config.KeyToken); token != "" {
		opts = append(opts, api.WithToken(token))
	}
	if tenant := currentTenant(); tenant != "" {
		opts = append(opts, api.WithTenant(tenant))
	}
	if streamBase := config.GetString(config.KeyStreamBase); streamBase != "" {
		opts = append(opts, api.WithStreamBase(streamBase))
	}
	return api.NewClient(base, opts...)
}

func configFileHint() string {
	dir, err := config.Dir()
	if err != nil {
		return "~/.acectl/config.yaml"
	}
	return dir + "/config.yaml"
}

// streamOptions reads the SSE tuning keys.
func streamOptions() sse.Options {
	return sse.Options{
		HeartbeatTimeout: config.GetDuration(config.KeyHeartbeatTimeout),
		RetryBase:        config.GetDuration(config.KeyRetryBase),
		RetryMax:         config.GetDuration(config.KeyRetryMax),
	}
}

// newRunner wires a cycle runner on top of the API client.
func newRunner(client *api.Client) (*cycle.Runner, error) {
	level := slog.LevelWarn
	if debug.Enabled() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var metrics *telemetry.CycleMetrics
	if telemetry.Enabled() {
		metrics = telemetry.NewCycleMetrics()
	}

	streamClient := &sse.Client{Header: client.StreamHeader(currentTenant())}
	return cycle.NewRunner(cycle.Config{
		Backend:       client,
		Connect:       cycle.SSEConnector(streamClient),
		Logger:        logger,
		Metrics:       metrics,
		StreamOptions: streamOptions(),
	})
}
