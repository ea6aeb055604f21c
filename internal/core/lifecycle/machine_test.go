package lifecycle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Happy Path
// =============================================================================

func TestTransition_FullCycle(t *testing.T) {
	m := New()
	assert.Equal(t, Unknown, m.State)

	m, effects := Transition(m, Start{})
	assert.Equal(t, Starting, m.State)
	require.Len(t, effects, 1)
	assert.IsType(t, StartServices{}, effects[0])

	m, effects = Transition(m, Started{})
	assert.Equal(t, Running, m.State)
	assert.Empty(t, effects)

	m, _ = Transition(m, ServicesReady{})
	assert.Equal(t, RunningHealthy, m.State)
	assert.True(t, m.IsHealthy)

	m, effects = Transition(m, Stop{DeleteVolumes: true})
	assert.Equal(t, Stopping, m.State)
	require.Len(t, effects, 1)
	assert.Equal(t, StopServices{DeleteVolumes: true}, effects[0])

	m, _ = Transition(m, StoppedOK{})
	assert.Equal(t, Stopped, m.State)
	assert.False(t, m.IsHealthy)
}

func TestTransition_StartFromStopped(t *testing.T) {
	m := Machine{State: Stopped}
	m, effects := Transition(m, Start{})
	assert.Equal(t, Starting, m.State)
	assert.Len(t, effects, 1)
}

// =============================================================================
// Guards
// =============================================================================

func TestCanStart(t *testing.T) {
	assert.True(t, CanStart(Stopped))
	assert.True(t, CanStart(Unknown))
	assert.True(t, CanStart(Errored))
	assert.False(t, CanStart(Starting))
	assert.False(t, CanStart(Running))
	assert.False(t, CanStart(RunningHealthy))
	assert.False(t, CanStart(Stopping))
}

func TestCanStop(t *testing.T) {
	assert.True(t, CanStop(Running))
	assert.True(t, CanStop(RunningCheckingHealth))
	assert.True(t, CanStop(RunningHealthy))
	assert.False(t, CanStop(Stopped))
	assert.False(t, CanStop(Starting))
	assert.False(t, CanStop(Stopping))
	assert.False(t, CanStop(Unknown))
}

func TestTransition_StartWhileStartingIsNoOp(t *testing.T) {
	m := Machine{State: Starting}
	next, effects := Transition(m, Start{})
	assert.Equal(t, m, next)
	assert.Empty(t, effects)
}

func TestTransition_StopWhileStoppingIsNoOp(t *testing.T) {
	m := Machine{State: Stopping}
	next, effects := Transition(m, Stop{})
	assert.Equal(t, m, next)
	assert.Empty(t, effects)
}

// =============================================================================
// Health Probing
// =============================================================================

func TestTransition_ProbeCycle(t *testing.T) {
	m := Machine{State: Running}

	m, _ = Transition(m, ProbeStarted{})
	assert.Equal(t, RunningCheckingHealth, m.State)

	m, _ = Transition(m, ServicesReady{})
	assert.Equal(t, RunningHealthy, m.State)

	// Periodic re-probe from the healthy state.
	m, _ = Transition(m, ProbeStarted{})
	assert.Equal(t, RunningCheckingHealth, m.State)
}

func TestTransition_ServicesReadyIgnoredWhenNotRunning(t *testing.T) {
	for _, s := range []State{Unknown, Stopped, Starting, Stopping, Errored} {
		m := Machine{State: s}
		next, _ := Transition(m, ServicesReady{})
		assert.Equal(t, s, next.State, "state %s", s)
	}
}

// =============================================================================
// Errors and Context Updates
// =============================================================================

func TestTransition_ErrorFromAnyState(t *testing.T) {
	for _, s := range []State{Unknown, Stopped, Starting, Running, RunningCheckingHealth, RunningHealthy, Stopping} {
		m := Machine{State: s}
		next, _ := Transition(m, Failed{Message: "compose exited 1"})
		assert.Equal(t, Errored, next.State)
		assert.Equal(t, "compose exited 1", next.LastError)
		assert.False(t, next.IsHealthy)
	}
}

func TestTransition_StartClearsLastError(t *testing.T) {
	m := Machine{State: Errored, LastError: "previous failure"}
	m, _ = Transition(m, Start{})
	assert.Equal(t, Starting, m.State)
	assert.Empty(t, m.LastError)
}

func TestTransition_StatusAndLogUpdatesKeepState(t *testing.T) {
	m := Machine{State: Running}

	m, effects := Transition(m, StatusUpdate{Text: "pulling images"})
	assert.Equal(t, Running, m.State)
	assert.Equal(t, "pulling images", m.Status)
	assert.Empty(t, effects)

	m, _ = Transition(m, LogUpdate{Text: "db ready"})
	assert.Equal(t, Running, m.State)
	assert.Equal(t, []string{"db ready"}, m.Logs)
}

func TestTransition_LogBufferBounded(t *testing.T) {
	m := New()
	for i := 0; i < MaxLogLines+50; i++ {
		m, _ = Transition(m, LogUpdate{Text: fmt.Sprintf("line %d", i)})
	}
	assert.Len(t, m.Logs, MaxLogLines)
	assert.Equal(t, fmt.Sprintf("line %d", MaxLogLines+49), m.Logs[len(m.Logs)-1])
	assert.Equal(t, "line 50", m.Logs[0])
}

// =============================================================================
// State Names
// =============================================================================

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Unknown, "unknown"},
		{Stopped, "stopped"},
		{Starting, "starting"},
		{Running, "running"},
		{RunningCheckingHealth, "running-checking-health"},
		{RunningHealthy, "running-healthy"},
		{Stopping, "stopping"},
		{Errored, "error"},
		{State(99), "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}
