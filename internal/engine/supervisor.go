package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ddalab/deployctl/internal/core/lifecycle"
	"github.com/ddalab/deployctl/internal/shell/history"
	"github.com/ddalab/deployctl/internal/shell/runner"
)

// DefaultProbeInterval is how often a running deployment is health-probed.
const DefaultProbeInterval = 15 * time.Second

// probeTimeout bounds one health probe.
const probeTimeout = 30 * time.Second

// Prober answers whether the deployed services are up and healthy.
type Prober interface {
	ServicesReady(ctx context.Context) (bool, error)
}

// Snapshot is the externally visible deployment status.
type Snapshot struct {
	State     string   `json:"state"`
	Status    string   `json:"status,omitempty"`
	IsHealthy bool     `json:"is_healthy"`
	LastError string   `json:"last_error,omitempty"`
	Logs      []string `json:"logs,omitempty"`
}

// SupervisorConfig holds the supervisor's collaborators.
type SupervisorConfig struct {
	Runner        runner.Runner
	Prober        Prober // optional; nil disables health probing
	History       *history.Store
	Logger        *slog.Logger
	Dir           string // deployment directory
	Project       string // compose project name
	ProbeInterval time.Duration
}

// Supervisor drives the deployment lifecycle. All state lives in a pure
// machine; the supervisor's single goroutine applies events in order and
// executes the effects each transition emits, so concurrent API calls can
// never interleave two compose operations.
type Supervisor struct {
	runner        runner.Runner
	prober        Prober
	history       *history.Store
	logger        *slog.Logger
	dir           string
	project       string
	probeInterval time.Duration

	events chan lifecycle.Event

	mu      sync.RWMutex
	machine lifecycle.Machine
	subs    map[int]chan Snapshot
	nextSub int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a stopped supervisor; call Start to run it.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	return &Supervisor{
		runner:        cfg.Runner,
		prober:        cfg.Prober,
		history:       cfg.History,
		logger:        cfg.Logger.With("component", "supervisor"),
		dir:           cfg.Dir,
		project:       cfg.Project,
		probeInterval: cfg.ProbeInterval,
		events:        make(chan lifecycle.Event, 128),
		machine:       lifecycle.New(),
		subs:          make(map[int]chan Snapshot),
	}
}

// Start launches the event loop.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Shutdown stops the event loop and waits for in-flight work.
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// =============================================================================
// Public API
// =============================================================================

// StartDeployment requests the services be brought up. The state guard is
// the only overlap protection: a second start while one is in flight is
// rejected here and would be a silent no-op even if enqueued.
func (s *Supervisor) StartDeployment() error {
	s.mu.RLock()
	state := s.machine.State
	s.mu.RUnlock()

	if !lifecycle.CanStart(state) {
		return fmt.Errorf("cannot start deployment while %s", state)
	}
	s.send(lifecycle.Start{})
	return nil
}

// StopDeployment requests the services be brought down, optionally deleting
// their volumes.
func (s *Supervisor) StopDeployment(deleteVolumes bool) error {
	s.mu.RLock()
	state := s.machine.State
	s.mu.RUnlock()

	if !lifecycle.CanStop(state) {
		return fmt.Errorf("cannot stop deployment while %s", state)
	}
	s.send(lifecycle.Stop{DeleteVolumes: deleteVolumes})
	return nil
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotOf(s.machine)
}

// Subscribe registers for status snapshots. Slow subscribers miss
// intermediate snapshots rather than blocking the event loop. The returned
// cancel func must be called to release the subscription.
func (s *Supervisor) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 16)
	s.subs[id] = ch
	ch <- snapshotOf(s.machine)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// =============================================================================
// Event Loop
// =============================================================================

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.apply(ctx, ev)
		case <-ticker.C:
			s.maybeProbe(ctx)
		}
	}
}

// send enqueues an event. Drops on a full queue: the queue only fills if the
// loop is gone, and every dropped event type is regenerated by the next probe
// tick or user request.
func (s *Supervisor) send(ev lifecycle.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event queue full, dropping event", "event", eventName(ev))
	}
}

func (s *Supervisor) apply(ctx context.Context, ev lifecycle.Event) {
	s.mu.Lock()
	prev := s.machine
	next, effects := lifecycle.Transition(s.machine, ev)
	s.machine = next
	s.mu.Unlock()

	if next.State != prev.State {
		s.logger.Info("lifecycle transition",
			"from", prev.State, "to", next.State, "event", eventName(ev))
		lifecycleState.Set(float64(next.State))
		lifecycleTransitions.WithLabelValues(next.State.String()).Inc()
		s.recordTransition(ctx, prev, next, ev)
	}

	s.broadcast(snapshotOf(next))

	for _, eff := range effects {
		s.execute(ctx, eff)
	}
}

func (s *Supervisor) execute(ctx context.Context, eff lifecycle.Effect) {
	switch eff := eff.(type) {
	case lifecycle.StartServices:
		s.runCompose(ctx, []string{"up", "-d", "--remove-orphans"},
			lifecycle.Started{})
	case lifecycle.StopServices:
		args := []string{"down"}
		if eff.DeleteVolumes {
			args = append(args, "-v")
		}
		s.runCompose(ctx, args, lifecycle.StoppedOK{})
	default:
		s.logger.Warn("unknown effect", "effect", fmt.Sprintf("%T", eff))
	}
}

// runCompose launches a compose invocation asynchronously, streams its
// output into the log buffer and feeds the outcome back as an event.
func (s *Supervisor) runCompose(ctx context.Context, args []string, onSuccess lifecycle.Event) {
	cmd := runner.Command{
		Name: "docker",
		Args: append([]string{"compose", "-p", s.project}, args...),
		Dir:  s.dir,
	}
	task := s.runner.Start(ctx, cmd)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for line := range task.Lines {
			s.send(lifecycle.LogUpdate{Text: line})
		}

		res := <-task.Done
		if res.Err != nil {
			s.send(lifecycle.Failed{Message: res.Err.Error()})
			return
		}
		s.send(onSuccess)
	}()
}

// maybeProbe kicks off a health probe when the deployment is in a probeable
// state. A probe already in flight (running-checking-health) is re-checked
// without announcing a new probe.
func (s *Supervisor) maybeProbe(ctx context.Context) {
	if s.prober == nil {
		return
	}

	s.mu.RLock()
	state := s.machine.State
	s.mu.RUnlock()

	switch state {
	case lifecycle.Running, lifecycle.RunningHealthy:
		s.send(lifecycle.ProbeStarted{})
	case lifecycle.RunningCheckingHealth:
	default:
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		ready, err := s.prober.ServicesReady(probeCtx)
		switch {
		case err != nil:
			s.logger.Warn("health probe failed", "error", err)
			s.send(lifecycle.StatusUpdate{Text: "health probe failed: " + err.Error()})
		case ready:
			s.send(lifecycle.ServicesReady{})
		default:
			s.send(lifecycle.StatusUpdate{Text: "waiting for services to become healthy"})
		}
	}()
}

// =============================================================================
// Helpers
// =============================================================================

func snapshotOf(m lifecycle.Machine) Snapshot {
	logs := make([]string, len(m.Logs))
	copy(logs, m.Logs)
	return Snapshot{
		State:     m.State.String(),
		Status:    m.Status,
		IsHealthy: m.IsHealthy,
		LastError: m.LastError,
		Logs:      logs,
	}
}

func (s *Supervisor) broadcast(snap Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		select {
		case sub <- snap:
		default: // slow subscriber, skip this snapshot
		}
	}
}

func (s *Supervisor) recordTransition(ctx context.Context, prev, next lifecycle.Machine, ev lifecycle.Event) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordTransition(ctx,
		prev.State.String(), next.State.String(), eventName(ev), next.LastError); err != nil {
		s.logger.Warn("history write failed", "error", err)
	}
}

func eventName(ev lifecycle.Event) string {
	switch ev.(type) {
	case lifecycle.Start:
		return "start"
	case lifecycle.Stop:
		return "stop"
	case lifecycle.Started:
		return "started"
	case lifecycle.StoppedOK:
		return "stopped"
	case lifecycle.ServicesReady:
		return "services-ready"
	case lifecycle.ProbeStarted:
		return "probe-started"
	case lifecycle.StatusUpdate:
		return "status-update"
	case lifecycle.LogUpdate:
		return "log-update"
	case lifecycle.Failed:
		return "failed"
	default:
		return fmt.Sprintf("%T", ev)
	}
}
