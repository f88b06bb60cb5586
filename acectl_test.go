package acectl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The public surface is aliases plus thin constructors; these tests pin the
// behavior extensions depend on without reaching into internal packages.

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)

	c, err := NewClient("https://ace.example.com", WithToken("tok"), WithTenant("acme"))
	require.NoError(t, err)
	assert.Equal(t, "acme", c.Tenant())
}

func TestNewRunnerRequiresBackend(t *testing.T) {
	_, err := NewRunner(RunnerConfig{})
	require.Error(t, err)
}

func TestCycleIDRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 361, 46655, 1<<53 + 7} {
		s := FormatCycleID(n)
		got, err := ParseCycleID(s)
		require.NoError(t, err, "display form %q", s)
		assert.Equal(t, n, got)
	}
}

func TestStageKindsAreDistinct(t *testing.T) {
	kinds := map[StageKind]bool{
		StageTriggerSubmit:   true,
		StageStreamAwait:     true,
		StageSnapshotRefresh: true,
		StageOutboxReady:     true,
	}
	assert.Len(t, kinds, 4)
}
