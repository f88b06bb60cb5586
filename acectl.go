// Package acectl provides a minimal public API for driving awareness cycles
// programmatically.
//
// Most automation should shell out to the acectl binary. This package
// exports only the essential types needed for Go programs that want to
// embed the cycle orchestrator directly: the backend client, the runner,
// and the observable stage register.
package acectl

import (
	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/cycle"
	"github.com/soulseed/acectl/internal/cycleid"
	"github.com/soulseed/acectl/internal/stage"
)

// Core types for driving cycles
type (
	Runner       = cycle.Runner
	RunnerConfig = cycle.Config
	Params       = cycle.Params
	Outcome      = cycle.Outcome
	Diagnostics  = cycle.Diagnostics

	Client       = api.Client
	ClientOption = api.Option

	Stage        = stage.Stage
	StageKind    = stage.Kind
	StageTracker = stage.Tracker
)

// Stage kinds in execution order
const (
	StageTriggerSubmit   = stage.KindTriggerSubmit
	StageStreamAwait     = stage.KindStreamAwait
	StageSnapshotRefresh = stage.KindSnapshotRefresh
	StageOutboxReady     = stage.KindOutboxReady
)

// Sentinel errors
var (
	ErrSuperseded = cycle.ErrSuperseded
	ErrNoTenant   = cycle.ErrNoTenant
)

// NewClient opens a backend client. See api.Option for configuration.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	return api.NewClient(baseURL, opts...)
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) ClientOption { return api.WithToken(token) }

// WithTenant sets the default tenant for requests that don't name one.
func WithTenant(tenant string) ClientOption { return api.WithTenant(tenant) }

// NewRunner wires a cycle runner. Config.Backend is required; a *Client
// satisfies it.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	return cycle.NewRunner(cfg)
}

// FormatCycleID converts a numeric wire id to its display form.
func FormatCycleID(id uint64) string {
	return cycleid.Format(cycleid.ID(id))
}

// ParseCycleID converts a display-form cycle id back to its numeric value.
func ParseCycleID(s string) (uint64, error) {
	id, err := cycleid.Parse(s)
	return uint64(id), err
}
