// Package session wires one interactive session: runtime, directory,
// actor spawn order, MCP bring-up, supervision, trace, persistence and
// shutdown. It is the only place that knows every actor's URI.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aide/pkg/actor"
	"aide/pkg/agent"
	"aide/pkg/chat"
	"aide/pkg/config"
	"aide/pkg/eventlog"
	"aide/pkg/history"
	"aide/pkg/limiter"
	"aide/pkg/llm"
	"aide/pkg/llm/factory"
	"aide/pkg/logx"
	"aide/pkg/mcp"
	"aide/pkg/metrics"
	"aide/pkg/persistence"
	"aide/pkg/proto"
	"aide/pkg/toolcall"
	"aide/pkg/tools"
)

// Actor URIs. One session, one directory, fixed addresses.
const (
	AgentURI    = "actor://aide/agent"
	UserURI     = "actor://aide/user"
	LLMURI      = "actor://aide/llm"
	ToolCallURI = "actor://aide/tool-call"
	HistoryURI  = "actor://aide/history"
	MCPURI      = "actor://aide/mcp"
	SessionURI  = "actor://aide/session"
)

const (
	mcpStartTimeout     = 30 * time.Second
	mailboxSampleEvery  = 15 * time.Second
	scannerScanTimeout  = 2 * time.Second
	actorStopTimeout    = 5 * time.Second
	persistenceBuffered = 64
)

// Options configures a session. Transport and Completer are injectable
// for tests; nil selects the production implementations.
type Options struct {
	Config    *config.Config
	WorkDir   string
	Transport chat.Transport
	Completer llm.Completer
}

// Session owns every resource of one interactive run.
type Session struct {
	cfg      *config.Config
	runtime  *actor.Runtime
	dir      *actor.Directory
	sup      *actor.Supervisor
	trace    *eventlog.Writer
	recorder *metrics.Recorder
	store    *persistence.Store
	writer   *persistence.Writer
	provider *tools.Provider
	logger   *logx.Logger

	metricsSrv *http.Server
	transport  chat.Transport

	handles map[string]*actor.Handle
	cancel  context.CancelFunc

	exitOnce sync.Once
	done     chan struct{}

	mcpReady chan proto.StartServersResponse
}

// New builds the session without starting any actor goroutine work
// beyond their mailboxes. Start completes bring-up.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("session: config is required")
	}

	store, err := persistence.Open(cfg.Persistence.Path, cfg.SessionID, cfg.Model.Name)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	trace, err := eventlog.NewWriter(cfg.EventLog.Dir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		runtime:  actor.NewRuntime(actor.WithMailboxSize(cfg.Runtime.MailboxSize)),
		dir:      actor.NewDirectory(),
		trace:    trace,
		recorder: metrics.NewRecorder(cfg.SessionID),
		store:    store,
		writer:   persistence.NewWriter(store, persistenceBuffered),
		logger:   logx.NewLogger("session"),
		handles:  make(map[string]*actor.Handle),
		done:     make(chan struct{}),
		mcpReady: make(chan proto.StartServersResponse, 1),
	}
	s.dir.Observe(trace.Observe)

	s.provider = tools.NewProvider(tools.Context{WorkDir: opts.WorkDir}, cfg.Tools.Allowed)

	completer := opts.Completer
	if completer == nil {
		completer, err = s.buildCompleter()
		if err != nil {
			s.closeInfra()
			return nil, err
		}
	}

	s.transport = opts.Transport
	if s.transport == nil {
		s.transport = chat.NewTerminalTransport()
	}

	if err := s.spawnActors(completer); err != nil {
		s.closeInfra()
		return nil, err
	}
	return s, nil
}

func (s *Session) buildCompleter() (llm.Completer, error) {
	provider := s.cfg.Model.Provider
	if provider == "" {
		provider = llm.InferProvider(s.cfg.Model.Name)
	}
	apiKey, err := config.APIKeyFor(provider)
	if err != nil {
		return nil, fmt.Errorf("resolve API key: %w", err)
	}

	var lim *limiter.Limiter
	if limits := s.cfg.ModelLimits(); len(limits) > 0 {
		lim = limiter.New(limits)
	}

	return factory.New(factory.Options{
		Provider:  provider,
		Model:     s.cfg.Model.Name,
		APIKey:    apiKey,
		Host:      s.cfg.Model.Host,
		Limiter:   lim,
		Estimator: history.NewEstimator(),
		Metrics:   s.recorder,
	})
}

// spawn starts one actor and binds its URI. Dependencies of an actor
// must already be bound when it starts sending.
func (s *Session) spawn(uri string, behavior actor.Behavior) error {
	h := s.runtime.Spawn(uri, behavior)
	if err := s.dir.Register(uri, h); err != nil {
		return err
	}
	s.handles[uri] = h
	return nil
}

func (s *Session) spawnActors(completer llm.Completer) error {
	// Bring-up sink: collects MCP start responses for Start to wait on.
	bringUp := actor.BehaviorFunc(func(_ context.Context, msg proto.Message) error {
		if resp, ok := msg.(proto.StartServersResponse); ok {
			select {
			case s.mcpReady <- resp:
			default:
			}
		}
		return nil
	})
	if err := s.spawn(SessionURI, bringUp); err != nil {
		return err
	}

	if err := s.spawn(HistoryURI, history.NewManager(s.dir, s.store)); err != nil {
		return err
	}
	if err := s.spawn(LLMURI, llm.NewActor(s.dir, completer, UserURI)); err != nil {
		return err
	}
	tc := toolcall.New(s.dir, s.provider, s.recorder)
	if len(s.cfg.Tools.ConfirmTools) > 0 || len(s.cfg.Tools.ConfirmShell) > 0 {
		gate, err := toolcall.NewGate(s.cfg.Tools.ConfirmTools, s.cfg.Tools.ConfirmShell)
		if err != nil {
			return fmt.Errorf("confirmation patterns: %w", err)
		}
		tc.WithConfirmation(gate, ToolCallURI, UserURI)
	}
	if err := s.spawn(ToolCallURI, tc); err != nil {
		return err
	}
	if len(s.cfg.MCP.Servers) > 0 {
		if err := s.spawn(MCPURI, mcp.NewManager(s.dir, s.provider, s.cfg.MCP.Servers)); err != nil {
			return err
		}
	}

	scanner := chat.NewPatternScanner(scannerScanTimeout)
	if err := s.spawn(UserURI, chat.New(s.dir, s.transport, scanner, UserURI, AgentURI)); err != nil {
		return err
	}

	// The agent spawns last: its OnStart yields the first turn to the
	// (already bound) User Actor.
	agentCfg := agent.Config{
		SelfURI:             AgentURI,
		UserURI:             UserURI,
		LLMURI:              LLMURI,
		ToolCallURI:         ToolCallURI,
		HistoryURI:          HistoryURI,
		SystemPrompt:        s.cfg.SystemPrompt,
		ContextWindow:       s.cfg.Model.ContextWindow,
		CompactionThreshold: s.cfg.Compaction.Threshold,
		OnExit:              s.signalExit,
	}
	return s.spawn(AgentURI, agent.New(s.dir, agentCfg, s.provider, history.NewEstimator()))
}

// Start completes bring-up: supervision, MCP servers, metrics endpoint,
// mailbox sampling. It returns once the session is ready for input.
func (s *Session) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.sup = actor.NewSupervisor(s.runtime, s.restartPolicy(), func(f actor.Fault) {
		s.logger.Error("session aborted by fault in %s: %v", f.URI, f.Err)
		s.signalExit()
	})
	s.registerRestartFactories()
	go s.sup.Watch(watchCtx)

	handles := make([]*actor.Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	go s.recorder.WatchMailboxes(watchCtx, mailboxSampleEvery, handles...)

	if len(s.cfg.MCP.Servers) > 0 {
		if err := s.startMCP(ctx); err != nil {
			return err
		}
	}

	if s.cfg.Metrics.Enabled {
		s.serveMetrics()
	}

	s.writer.RecordEvent(persistence.Event{Kind: "session_started"})
	s.logger.Info("session %s started, model %s", s.cfg.SessionID, s.cfg.Model.Name)
	return nil
}

func (s *Session) restartPolicy() actor.RestartPolicy {
	if s.cfg.Runtime.SupervisorPolicy == config.PolicyAbort {
		return actor.DefaultRestartPolicy()
	}
	return actor.RestartPolicy{
		Default:     actor.RestartActor,
		MaxRestarts: 3,
		// Agent and User hold protocol state that a blind restart would
		// corrupt; their faults end the session.
		PerActor: map[string]actor.RestartAction{
			AgentURI: actor.AbortSession,
			UserURI:  actor.AbortSession,
		},
	}
}

// registerRestartFactories covers the actors that hold no protocol
// state and can be re-created in place. The rest abort via policy.
func (s *Session) registerRestartFactories() {
	s.sup.RegisterFactory(HistoryURI, func() error {
		s.dir.Deregister(HistoryURI)
		return s.spawn(HistoryURI, history.NewManager(s.dir, s.store))
	})
}

func (s *Session) startMCP(ctx context.Context) error {
	req := proto.StartServersRequest{RequestID: proto.NewRequestID(), ReplyTo: SessionURI}
	if err := s.dir.Send(ctx, MCPURI, req); err != nil {
		return fmt.Errorf("request mcp start: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mcpStartTimeout):
		return errors.New("mcp servers did not start within timeout")
	case resp := <-s.mcpReady:
		if resp.Err != "" {
			return fmt.Errorf("mcp bring-up failed: %s", resp.Err)
		}
		s.logger.Info("mcp servers started, %d tools discovered", len(resp.Tools))
		return nil
	}
}

func (s *Session) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.recorder.Handler())
	s.metricsSrv = &http.Server{
		Addr:              s.cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics endpoint failed: %v", err)
		}
	}()
	s.logger.Info("metrics endpoint on %s", s.cfg.Metrics.ListenAddr)
}

func (s *Session) signalExit() {
	s.exitOnce.Do(func() { close(s.done) })
}

// Done is closed when the session should end: user exit, fatal fault, or
// aborted bring-up.
func (s *Session) Done() <-chan struct{} { return s.done }

// Shutdown stops actors in dependency order, flushes persistence and
// closes every resource. Safe to call once after Done.
func (s *Session) Shutdown(ctx context.Context) error {
	s.logger.Info("session %s shutting down", s.cfg.SessionID)

	// The transport unblocks the User Actor's reader goroutine.
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("transport close: %v", err)
	}

	// Agent first so no new work enters the loop, then the producers,
	// then the service actors they feed.
	stopOrder := []string{AgentURI, UserURI, LLMURI, ToolCallURI, MCPURI, HistoryURI, SessionURI}
	var firstErr error
	for _, uri := range stopOrder {
		h, ok := s.handles[uri]
		if !ok {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, actorStopTimeout)
		if err := h.Stop(stopCtx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", uri, err)
		}
		cancel()
		s.dir.Deregister(uri)
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = s.metricsSrv.Shutdown(shutCtx)
		cancel()
	}

	s.writer.RecordEvent(persistence.Event{Kind: "session_ended"})
	s.writer.Close()
	if err := s.store.EndSession(context.Background()); err != nil {
		s.logger.Warn("end session record: %v", err)
	}
	s.closeInfra()
	return firstErr
}

func (s *Session) closeInfra() {
	if s.writer != nil {
		s.writer.Close()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close: %v", err)
	}
	if err := s.trace.Close(); err != nil {
		s.logger.Warn("trace close: %v", err)
	}
}
