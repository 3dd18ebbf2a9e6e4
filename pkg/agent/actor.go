// Package agent implements the Agent Actor: the state machine driving the
// user -> completion -> tool-call loop. It is the single owner of the
// conversation history; collaborators only ever see snapshots.
package agent

import (
	"context"
	"fmt"

	"aide/pkg/actor"
	"aide/pkg/history"
	"aide/pkg/logx"
	"aide/pkg/proto"
)

// DefaultCompactionThreshold triggers auto-compaction when estimated
// context usage crosses this fraction of the model's window.
const DefaultCompactionThreshold = 0.8

const compactionPrompt = "Summarize the conversation so far, preserving " +
	"every detail needed to continue the work: the user's goals, decisions " +
	"made, files touched, and any unfinished requests. Reply with the " +
	"summary only."

// Estimator approximates prompt token counts when no reported usage is
// available yet.
type Estimator interface {
	EstimateTurns(turns []proto.Turn) int
}

// SchemaSource supplies the currently available tool schemas. Calling it
// per step picks up tools discovered after session start.
type SchemaSource interface {
	Schemas() []proto.ToolDefinition
}

// Config wires the Agent Actor to its collaborators.
type Config struct {
	SelfURI     string
	UserURI     string
	LLMURI      string
	ToolCallURI string
	HistoryURI  string

	SystemPrompt        string
	ContextWindow       int     // model context size in tokens
	CompactionThreshold float64 // fraction of ContextWindow; 0 means DefaultCompactionThreshold

	// OnExit signals session shutdown once the actor reaches Terminating.
	OnExit func()
}

// pendingCompletion tracks one outstanding CompleteStepRequest.
type pendingCompletion struct {
	compaction bool
	resumeStep bool // continue with a step completion once the summary lands
}

// Actor is the Agent Actor.
type Actor struct {
	dir       *actor.Directory
	cfg       Config
	schemas   SchemaSource
	estimator Estimator
	logger    *logx.Logger

	state        State
	hist         *history.History
	stagedImages []string
	lastUsage    proto.Usage

	pendingCompletions map[string]pendingCompletion
	pendingBatches     map[string]struct{}
}

// New creates the Agent Actor.
func New(dir *actor.Directory, cfg Config, schemas SchemaSource, estimator Estimator) *Actor {
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = DefaultCompactionThreshold
	}
	return &Actor{
		dir:                dir,
		cfg:                cfg,
		schemas:            schemas,
		estimator:          estimator,
		logger:             logx.NewLogger("agent"),
		state:              StateAwaitingUser,
		hist:               history.New(cfg.SystemPrompt),
		pendingCompletions: make(map[string]pendingCompletion),
		pendingBatches:     make(map[string]struct{}),
	}
}

// State returns the current control state, for tests and diagnostics.
func (a *Actor) State() State { return a.state }

// OnStart hands the first turn to the human.
func (a *Actor) OnStart(ctx context.Context) error {
	a.yield(ctx)
	return nil
}

// Receive implements actor.Behavior.
func (a *Actor) Receive(ctx context.Context, msg proto.Message) error {
	if a.state == StateTerminating {
		a.logger.Debug("terminating, dropping %s", msg.Kind())
		return nil
	}

	switch m := msg.(type) {
	case proto.UserTextSubmitted:
		return a.handleUserText(ctx, m)
	case proto.CompleteStepResponse:
		return a.handleCompletion(ctx, m)
	case proto.ExecuteToolsResponse:
		return a.handleToolResults(ctx, m)
	case proto.ClearHistoryRequested:
		a.hist.Clear()
		a.lastUsage = proto.Usage{}
		a.status(ctx, proto.StatusInfo, "history cleared")
		a.yield(ctx)
	case proto.CompactionRequested:
		return a.startCompaction(ctx, false)
	case proto.ImageAttachRequested:
		a.stagedImages = append(a.stagedImages, m.Source)
		a.status(ctx, proto.StatusInfo, fmt.Sprintf("image staged for next message: %s", m.Source))
		a.yield(ctx)
	case proto.UserInputFailed:
		a.logger.Warn("user input failed for %s: %s", m.RequestID, m.Reason)
		a.status(ctx, proto.StatusError, m.Reason)
		a.yield(ctx)
	case proto.SessionExitRequested:
		return a.handleExit(ctx)
	case proto.SaveHistoryResponse:
		if m.Err != "" {
			a.logger.Error("history save %s failed: %s", m.RequestID, m.Err)
		}
	default:
		a.logger.Warn("unexpected message kind %s, dropping", msg.Kind())
	}
	return nil
}

func (a *Actor) handleUserText(ctx context.Context, m proto.UserTextSubmitted) error {
	if a.state != StateAwaitingUser {
		a.logger.Warn("user text while %s, discarding", a.state)
		return nil
	}

	a.hist.AppendUser(m.Text, a.stagedImages)
	a.stagedImages = nil

	if err := a.transitionTo(StateRunning); err != nil {
		return err
	}
	return a.startStep(ctx)
}

// startStep issues the next completion, compacting first when the context
// is nearly full.
func (a *Actor) startStep(ctx context.Context) error {
	if a.shouldCompact() {
		return a.startCompaction(ctx, true)
	}
	return a.startCompletion(ctx)
}

func (a *Actor) startCompletion(ctx context.Context) error {
	reqID := proto.NewRequestID()
	a.pendingCompletions[reqID] = pendingCompletion{}

	var schemas []proto.ToolDefinition
	if a.schemas != nil {
		schemas = a.schemas.Schemas()
	}
	a.send(ctx, a.cfg.LLMURI, proto.CompleteStepRequest{
		RequestID: reqID,
		Turns:     a.hist.Snapshot(),
		Tools:     schemas,
		ReplyTo:   a.cfg.SelfURI,
	})
	return nil
}

// startCompaction asks the completer for a summary over the current
// history. resumeStep continues the interrupted step once it lands;
// otherwise the turn goes back to the human.
func (a *Actor) startCompaction(ctx context.Context, resumeStep bool) error {
	if !resumeStep {
		// Manual /compact arrives while the human owns the turn.
		if err := a.transitionTo(StateRunning); err != nil {
			return err
		}
	}

	turns := a.hist.Snapshot()
	turns = append(turns, proto.Turn{Role: proto.RoleUser, Content: compactionPrompt})

	reqID := proto.NewRequestID()
	a.pendingCompletions[reqID] = pendingCompletion{compaction: true, resumeStep: resumeStep}
	a.logger.Info("compacting history (%d turns, resume=%v)", a.hist.Len(), resumeStep)

	a.send(ctx, a.cfg.LLMURI, proto.CompleteStepRequest{
		RequestID: reqID,
		Turns:     turns,
		ReplyTo:   a.cfg.SelfURI,
		Quiet:     true, // summaries are not for the terminal
	})
	return nil
}

func (a *Actor) handleCompletion(ctx context.Context, resp proto.CompleteStepResponse) error {
	pending, known := a.pendingCompletions[resp.RequestID]
	if !known {
		a.logger.Warn("completion response for unknown request %s, discarding", resp.RequestID)
		return nil
	}
	delete(a.pendingCompletions, resp.RequestID)

	if pending.compaction {
		return a.finishCompaction(ctx, pending, resp)
	}

	if resp.Failed() {
		a.status(ctx, proto.StatusError, fmt.Sprintf("completion failed (%s): %s", resp.ErrKind, resp.ErrMsg))
		if err := a.transitionTo(StateAwaitingUser); err != nil {
			return err
		}
		a.yield(ctx)
		return nil
	}

	a.lastUsage = resp.Usage
	a.hist.AppendAssistant(resp.Text, resp.ToolCalls)
	if resp.Text != "" {
		a.send(ctx, a.cfg.UserURI, proto.AssistantOutput{Text: resp.Text})
	}

	if len(resp.ToolCalls) == 0 {
		if err := a.transitionTo(StateAwaitingUser); err != nil {
			return err
		}
		a.yield(ctx)
		return nil
	}

	if err := a.transitionTo(StateAwaitingTool); err != nil {
		return err
	}
	batchID := proto.NewRequestID()
	a.pendingBatches[batchID] = struct{}{}
	a.send(ctx, a.cfg.ToolCallURI, proto.ExecuteToolsRequest{
		RequestID: batchID,
		Calls:     resp.ToolCalls,
		ReplyTo:   a.cfg.SelfURI,
	})
	return nil
}

func (a *Actor) finishCompaction(ctx context.Context, pending pendingCompletion, resp proto.CompleteStepResponse) error {
	if resp.Failed() || resp.Text == "" {
		a.status(ctx, proto.StatusWarn, fmt.Sprintf("compaction failed: %s", resp.ErrMsg))
		if err := a.transitionTo(StateAwaitingUser); err != nil {
			return err
		}
		a.yield(ctx)
		return nil
	}

	a.hist.ReplaceWithSummary(resp.Text)
	a.lastUsage = resp.Usage
	a.status(ctx, proto.StatusInfo, "history compacted")
	a.saveHistory(ctx, "")

	if pending.resumeStep {
		return a.startCompletion(ctx)
	}
	if err := a.transitionTo(StateAwaitingUser); err != nil {
		return err
	}
	a.yield(ctx)
	return nil
}

func (a *Actor) handleToolResults(ctx context.Context, resp proto.ExecuteToolsResponse) error {
	if _, known := a.pendingBatches[resp.RequestID]; !known {
		a.logger.Warn("tool results for unknown batch %s, discarding", resp.RequestID)
		return nil
	}
	delete(a.pendingBatches, resp.RequestID)

	if resp.Err != "" {
		a.status(ctx, proto.StatusError, fmt.Sprintf("tool batch failed: %s", resp.Err))
		if err := a.transitionTo(StateAwaitingUser); err != nil {
			return err
		}
		a.yield(ctx)
		return nil
	}

	for _, result := range resp.Results {
		a.hist.AppendToolResult(result)
	}

	if err := a.transitionTo(StateRunning); err != nil {
		return err
	}
	return a.startStep(ctx)
}

func (a *Actor) handleExit(ctx context.Context) error {
	if err := a.transitionTo(StateTerminating); err != nil {
		return err
	}
	for batchID := range a.pendingBatches {
		a.send(ctx, a.cfg.ToolCallURI, proto.CancelToolsRequest{RequestID: batchID})
	}
	a.saveHistory(ctx, "")
	a.logger.Info("session exit requested")
	if a.cfg.OnExit != nil {
		a.cfg.OnExit()
	}
	return nil
}

// shouldCompact reports whether estimated context usage crossed the
// threshold. Reported usage from the last completion wins over the local
// estimate.
func (a *Actor) shouldCompact() bool {
	if a.cfg.ContextWindow <= 0 {
		return false
	}
	used := a.lastUsage.Tokens()
	if used == 0 && a.estimator != nil {
		used = a.estimator.EstimateTurns(a.hist.Snapshot())
	}
	return float64(used) >= a.cfg.CompactionThreshold*float64(a.cfg.ContextWindow)
}

// yield hands the turn to the human.
func (a *Actor) yield(ctx context.Context) {
	a.send(ctx, a.cfg.UserURI, proto.AgentYieldedToUser{
		RequestID: proto.NewRequestID(),
		ReplyTo:   a.cfg.SelfURI,
	})
}

func (a *Actor) status(ctx context.Context, level proto.StatusLevel, text string) {
	a.send(ctx, a.cfg.UserURI, proto.StatusUpdate{Level: level, Text: text})
}

// saveHistory flushes a snapshot to the History Manager. replyTo empty
// means fire-and-forget.
func (a *Actor) saveHistory(ctx context.Context, replyTo string) {
	if a.cfg.HistoryURI == "" {
		return
	}
	a.send(ctx, a.cfg.HistoryURI, proto.SaveHistoryRequest{
		RequestID: proto.NewRequestID(),
		Turns:     a.hist.Snapshot(),
		ReplyTo:   replyTo,
	})
}

func (a *Actor) send(ctx context.Context, uri string, msg proto.Message) {
	if err := a.dir.Send(ctx, uri, msg); err != nil {
		a.logger.Error("message %s not delivered to %s: %v", msg.Kind(), uri, err)
	}
}
