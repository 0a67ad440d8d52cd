package circuit_test

import (
	"testing"
	"time"

	"github.com/adalundhe/switchyard/core/circuit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LazyAndStable(t *testing.T) {
	r, err := circuit.NewRegistry(circuit.RegistryConfig{})
	require.NoError(t, err)

	assert.Equal(t, 0, r.Len())
	a := r.Get("reflect")
	assert.Same(t, a, r.Get("reflect"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Overrides(t *testing.T) {
	r, err := circuit.NewRegistry(circuit.RegistryConfig{
		Default: circuit.Config{FailureThreshold: 5, Cooldown: time.Minute},
		Overrides: []circuit.Override{
			{Pattern: "data_*", Config: circuit.Config{FailureThreshold: 1}},
		},
	})
	require.NoError(t, err)

	cfg := r.ConfigFor("data_query")
	assert.Equal(t, 1, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Cooldown)

	assert.Equal(t, 5, r.ConfigFor("critic").FailureThreshold)
}

func TestRegistry_BadOverride(t *testing.T) {
	_, err := circuit.NewRegistry(circuit.RegistryConfig{
		Overrides: []circuit.Override{{Pattern: "["}},
	})
	assert.Error(t, err)
}

func TestRegistry_AllowReportResetAndStats(t *testing.T) {
	clock := newFakeClock()
	var changes []circuit.StateChange
	r, err := circuit.NewRegistry(circuit.RegistryConfig{
		Default:       circuit.Config{FailureThreshold: 1, Cooldown: time.Minute},
		Now:           clock.Now,
		OnStateChange: func(c circuit.StateChange) { changes = append(changes, c) },
	})
	require.NoError(t, err)

	p, err := r.Allow("historian")
	require.NoError(t, err)
	r.Report(p, circuit.Failure)

	_, err = r.Allow("critic")
	require.NoError(t, err)

	assert.Equal(t, []string{"historian"}, r.OpenCircuits())
	require.Len(t, changes, 1)
	assert.Equal(t, "historian", changes[0].Key)

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "critic", stats[0].Key)
	assert.Equal(t, circuit.Open, stats[1].State)

	assert.True(t, r.Reset("historian"))
	assert.False(t, r.Reset("nobody"))
	assert.Empty(t, r.OpenCircuits())

	r.Get("reflect").ForceOpen()
	r.ResetAll()
	assert.Empty(t, r.OpenCircuits())
}
