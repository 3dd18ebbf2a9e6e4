package actor

import (
	"context"
	"sync"

	"aide/pkg/logx"
)

// RestartAction defines what the supervisor does when an actor faults.
type RestartAction int

const (
	// RestartActor re-spawns the faulted actor via its registered factory.
	RestartActor RestartAction = iota
	// AbortSession terminates the whole session (unrecoverable fault).
	AbortSession
)

// RestartPolicy maps actor URIs to fault actions. URIs without an entry
// fall back to Default.
type RestartPolicy struct {
	Default     RestartAction
	PerActor    map[string]RestartAction
	MaxRestarts int // per actor; exceeded restarts escalate to AbortSession
}

// DefaultRestartPolicy aborts on unhandled faults: the session is the
// unit of recovery, and a faulted core actor means inconsistent protocol
// state.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{Default: AbortSession, MaxRestarts: 3}
}

// ActionFor returns the configured action for an actor URI.
func (p RestartPolicy) ActionFor(uri string) RestartAction {
	if action, ok := p.PerActor[uri]; ok {
		return action
	}
	return p.Default
}

// Factory re-creates a faulted actor. It must spawn a fresh handle and
// rebind it in the directory under the same URI.
type Factory func() error

// Supervisor is the single directionally-owning parent of all actors in
// a session. It drains the runtime's fault channel and applies the
// restart policy; peer actors never supervise each other.
type Supervisor struct {
	runtime *Runtime
	policy  RestartPolicy
	abort   func(Fault)
	logger  *logx.Logger

	mu        sync.Mutex
	factories map[string]Factory
	restarts  map[string]int
}

// NewSupervisor creates a supervisor over the runtime's faults. abort is
// invoked when policy (or restart exhaustion) demands session teardown.
func NewSupervisor(runtime *Runtime, policy RestartPolicy, abort func(Fault)) *Supervisor {
	return &Supervisor{
		runtime:   runtime,
		policy:    policy,
		abort:     abort,
		logger:    logx.NewLogger("supervisor"),
		factories: make(map[string]Factory),
		restarts:  make(map[string]int),
	}
}

// RegisterFactory records how to re-create the actor bound to uri.
// Actors without a factory cannot be restarted; their faults abort.
func (s *Supervisor) RegisterFactory(uri string, factory Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[uri] = factory
}

// Watch drains faults until ctx is done. Run it on its own goroutine.
func (s *Supervisor) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fault := <-s.runtime.Faults():
			s.handle(fault)
		}
	}
}

func (s *Supervisor) handle(fault Fault) {
	s.logger.Error("fault from %s: %v", fault.URI, fault.Err)

	if s.policy.ActionFor(fault.URI) == AbortSession {
		s.abort(fault)
		return
	}

	s.mu.Lock()
	factory := s.factories[fault.URI]
	s.restarts[fault.URI]++
	attempts := s.restarts[fault.URI]
	s.mu.Unlock()

	if factory == nil {
		s.logger.Error("no factory for %s, aborting session", fault.URI)
		s.abort(fault)
		return
	}
	if attempts > s.policy.MaxRestarts {
		s.logger.Error("restart limit reached for %s (%d), aborting session", fault.URI, attempts-1)
		s.abort(fault)
		return
	}

	s.logger.Warn("restarting %s (attempt %d/%d)", fault.URI, attempts, s.policy.MaxRestarts)
	if err := factory(); err != nil {
		s.logger.Error("restart of %s failed: %v", fault.URI, err)
		s.abort(fault)
	}
}
