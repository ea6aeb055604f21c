// Package lifecycle contains the pure state machine governing the deployed
// service group. This is part of the Functional Core - Transition has no I/O
// and no side effects; external work (starting or stopping the services) is
// returned as Effect descriptors for a supervisor to execute.
package lifecycle

// =============================================================================
// States
// =============================================================================

// State is the lifecycle state of the service group.
type State int

const (
	Unknown State = iota
	Stopped
	Starting
	Running
	RunningCheckingHealth
	RunningHealthy
	Stopping
	Errored
)

// String returns the wire/display name of the state.
func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case RunningCheckingHealth:
		return "running-checking-health"
	case RunningHealthy:
		return "running-healthy"
	case Stopping:
		return "stopping"
	case Errored:
		return "error"
	default:
		return "invalid"
	}
}

// MaxLogLines bounds the in-memory log buffer carried in the machine context.
const MaxLogLines = 200

// Machine is the full machine value: the state plus its context. It is a
// plain value; Transition returns a new Machine rather than mutating.
type Machine struct {
	State     State
	Status    string
	Logs      []string
	IsHealthy bool
	LastError string
}

// New returns a machine in the initial state.
func New() Machine {
	return Machine{State: Unknown}
}

// =============================================================================
// Events
// =============================================================================

// Event is a lifecycle event. Commands (Start, Stop) come from the caller;
// the remaining events are relayed from the command-runner bridge.
type Event interface{ isEvent() }

// Start requests the service group be started.
type Start struct{}

// Stop requests the service group be stopped. DeleteVolumes also removes the
// group's named volumes.
type Stop struct{ DeleteVolumes bool }

// Started reports that the external start command completed successfully.
type Started struct{}

// StoppedOK reports that the external stop command completed successfully.
type StoppedOK struct{}

// ServicesReady reports that a health probe found every service ready.
type ServicesReady struct{}

// ProbeStarted reports that a periodic health probe is outstanding.
type ProbeStarted struct{}

// StatusUpdate carries free-form status text from the bridge.
type StatusUpdate struct{ Text string }

// LogUpdate carries a log line from the bridge.
type LogUpdate struct{ Text string }

// Failed reports an error from the bridge or from an external command.
type Failed struct{ Message string }

func (Start) isEvent()         {}
func (Stop) isEvent()          {}
func (Started) isEvent()       {}
func (StoppedOK) isEvent()     {}
func (ServicesReady) isEvent() {}
func (ProbeStarted) isEvent()  {}
func (StatusUpdate) isEvent()  {}
func (LogUpdate) isEvent()     {}
func (Failed) isEvent()        {}

// =============================================================================
// Effects
// =============================================================================

// Effect describes external work the supervisor must perform as a result of
// a transition.
type Effect interface{ isEffect() }

// StartServices asks the supervisor to invoke the external start command.
type StartServices struct{}

// StopServices asks the supervisor to invoke the external stop command.
type StopServices struct{ DeleteVolumes bool }

func (StartServices) isEffect() {}
func (StopServices) isEffect()  {}

// =============================================================================
// Guards
// =============================================================================

// CanStart reports whether a Start command is accepted in the given state.
// This guard is the sole overlap-prevention mechanism: a Start sent while
// already Starting or Running is a no-op.
func CanStart(s State) bool {
	return s == Stopped || s == Unknown || s == Errored
}

// CanStop reports whether a Stop command is accepted in the given state.
func CanStop(s State) bool {
	return s == Running || s == RunningCheckingHealth || s == RunningHealthy
}

// =============================================================================
// Transition
// =============================================================================

// Transition applies an event to the machine and returns the next machine
// value plus any effects to execute. Events that are not valid in the current
// state leave the machine unchanged and produce no effects; guard rejection
// is deliberately silent, it is a defense-in-depth check rather than a
// primary control path.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	switch e := ev.(type) {
	case Start:
		if !CanStart(m.State) {
			return m, nil
		}
		m.State = Starting
		m.Status = "starting services"
		m.IsHealthy = false
		m.LastError = ""
		return m, []Effect{StartServices{}}

	case Stop:
		if !CanStop(m.State) {
			return m, nil
		}
		m.State = Stopping
		m.Status = "stopping services"
		m.IsHealthy = false
		return m, []Effect{StopServices{DeleteVolumes: e.DeleteVolumes}}

	case Started:
		if m.State != Starting {
			return m, nil
		}
		m.State = Running
		m.Status = "services started"
		return m, nil

	case StoppedOK:
		if m.State != Stopping {
			return m, nil
		}
		m.State = Stopped
		m.Status = "services stopped"
		m.IsHealthy = false
		return m, nil

	case ServicesReady:
		switch m.State {
		case Running, RunningCheckingHealth:
			m.State = RunningHealthy
		case RunningHealthy:
			// Repeated ready probes keep the state.
		default:
			return m, nil
		}
		m.Status = "all services ready"
		m.IsHealthy = true
		return m, nil

	case ProbeStarted:
		switch m.State {
		case Running, RunningHealthy:
			m.State = RunningCheckingHealth
			return m, nil
		}
		return m, nil

	case StatusUpdate:
		m.Status = e.Text
		return m, nil

	case LogUpdate:
		m.Logs = appendBounded(m.Logs, e.Text)
		return m, nil

	case Failed:
		m.State = Errored
		m.Status = "error"
		m.IsHealthy = false
		m.LastError = e.Message
		return m, nil
	}

	return m, nil
}

// appendBounded appends a line, keeping at most MaxLogLines entries. The
// returned slice is a copy so Machine values stay independent.
func appendBounded(logs []string, line string) []string {
	out := make([]string, 0, len(logs)+1)
	out = append(out, logs...)
	out = append(out, line)
	if len(out) > MaxLogLines {
		out = out[len(out)-MaxLogLines:]
	}
	return out
}
