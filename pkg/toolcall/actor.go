// Package toolcall implements the Tool-Call Actor: it executes the tool
// call batch of one assistant step concurrently, supports per-request
// cancellation, and reports exactly one result per tool call.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aide/pkg/actor"
	"aide/pkg/logx"
	"aide/pkg/proto"
	"aide/pkg/tools"
)

// Metrics receives tool execution outcomes. Satisfied by the session
// metrics recorder; may be nil.
type Metrics interface {
	ToolExecuted(name string, status proto.ToolStatus, elapsed time.Duration)
}

type batch struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Actor is the exclusive owner of tool execution. Batches run on worker
// goroutines; the in-flight table is shared with them under infMu, and an
// entry is removed before its response is sent so that a request id seen
// as answered is immediately reusable.
type Actor struct {
	dir      *actor.Directory
	provider *tools.Provider
	metrics  Metrics
	logger   *logx.Logger

	gate    *Gate
	selfURI string
	userURI string

	infMu    sync.Mutex
	inflight map[string]*batch
	confirms map[string]chan proto.ConfirmResponse
}

// New creates the Tool-Call Actor.
func New(dir *actor.Directory, provider *tools.Provider, metrics Metrics) *Actor {
	return &Actor{
		dir:      dir,
		provider: provider,
		metrics:  metrics,
		logger:   logx.NewLogger("toolcall"),
		inflight: make(map[string]*batch),
		confirms: make(map[string]chan proto.ConfirmResponse),
	}
}

// WithConfirmation gates matching calls behind a yes/no question to the
// User Actor at userURI; decisions come back to selfURI. Must be called
// before the actor is spawned.
func (a *Actor) WithConfirmation(gate *Gate, selfURI, userURI string) *Actor {
	a.gate = gate
	a.selfURI = selfURI
	a.userURI = userURI
	return a
}

// Receive implements actor.Behavior.
func (a *Actor) Receive(ctx context.Context, msg proto.Message) error {
	switch m := msg.(type) {
	case proto.ExecuteToolsRequest:
		return a.handleExecute(ctx, m)
	case proto.CancelToolsRequest:
		a.handleCancel(m)
		return nil
	case proto.ConfirmResponse:
		a.handleConfirmDecision(m)
		return nil
	default:
		a.logger.Warn("unexpected message kind %s, dropping", msg.Kind())
		return nil
	}
}

// OnStop cancels any still-running batches so their goroutines unwind.
func (a *Actor) OnStop(context.Context) {
	a.infMu.Lock()
	defer a.infMu.Unlock()
	for id, b := range a.inflight {
		a.logger.Debug("cancelling in-flight batch %s on stop", id)
		b.cancel()
	}
}

func (a *Actor) handleExecute(ctx context.Context, req proto.ExecuteToolsRequest) error {
	if err := req.Validate(); err != nil {
		a.logger.Warn("invalid ExecuteToolsRequest: %v", err)
		return nil
	}

	batchCtx, cancel := context.WithCancel(context.Background())

	a.infMu.Lock()
	if _, dup := a.inflight[req.RequestID]; dup {
		a.infMu.Unlock()
		cancel()
		a.logger.Warn("duplicate in-flight request %s, rejecting", req.RequestID)
		a.respond(ctx, req.ReplyTo, proto.ExecuteToolsResponse{
			RequestID: req.RequestID,
			Err:       fmt.Sprintf("request %s is already in flight", req.RequestID),
		})
		return nil
	}
	b := &batch{cancel: cancel}
	a.inflight[req.RequestID] = b
	a.infMu.Unlock()

	a.logger.Debug("executing batch %s with %d calls", req.RequestID, len(req.Calls))
	go a.runBatch(batchCtx, b, req)
	return nil
}

func (a *Actor) handleCancel(req proto.CancelToolsRequest) {
	a.infMu.Lock()
	b, ok := a.inflight[req.RequestID]
	if ok {
		b.cancelled = true
	}
	a.infMu.Unlock()

	if !ok {
		// Batch already completed; cancellation after the fact is fine.
		a.logger.Debug("cancel for unknown or completed batch %s, ignoring", req.RequestID)
		return
	}
	a.logger.Info("cancelling batch %s", req.RequestID)
	b.cancel()
}

// awaitConfirm puts one yes/no question to the User Actor and blocks the
// calling worker goroutine until the decision lands in the mailbox or
// ctx is done. The mailbox stays free for cancellations meanwhile.
func (a *Actor) awaitConfirm(ctx context.Context, question string) (bool, error) {
	reqID := proto.NewRequestID()
	decision := make(chan proto.ConfirmResponse, 1)

	a.infMu.Lock()
	a.confirms[reqID] = decision
	a.infMu.Unlock()
	defer func() {
		a.infMu.Lock()
		delete(a.confirms, reqID)
		a.infMu.Unlock()
	}()

	err := a.dir.Send(ctx, a.userURI, proto.ConfirmRequest{
		RequestID: reqID,
		Prompt:    question,
		ReplyTo:   a.selfURI,
	})
	if err != nil {
		return false, fmt.Errorf("confirmation request not delivered: %w", err)
	}

	select {
	case resp := <-decision:
		if resp.Err != "" {
			return false, fmt.Errorf("no confirmation decision: %s", resp.Err)
		}
		return resp.Value, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// handleConfirmDecision routes a decision to the worker waiting on it.
func (a *Actor) handleConfirmDecision(resp proto.ConfirmResponse) {
	a.infMu.Lock()
	decision, ok := a.confirms[resp.RequestID]
	a.infMu.Unlock()

	if !ok {
		a.logger.Warn("confirmation decision for unknown request %s, discarding", resp.RequestID)
		return
	}
	select {
	case decision <- resp:
	default:
	}
}

// runBatch executes every call of one batch concurrently, then delivers
// the single response. Runs off the mailbox goroutine.
func (a *Actor) runBatch(ctx context.Context, b *batch, req proto.ExecuteToolsRequest) {
	results := make([]proto.ToolCallResult, len(req.Calls))

	var wg sync.WaitGroup
	for i, call := range req.Calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.runCall(ctx, call)
		}()
	}
	wg.Wait()

	// Retire the entry before responding so the id is reusable the moment
	// the requester sees its results.
	a.infMu.Lock()
	cancelled := b.cancelled
	delete(a.inflight, req.RequestID)
	a.infMu.Unlock()

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer sendCancel()

	a.respond(sendCtx, req.ReplyTo, proto.ExecuteToolsResponse{
		RequestID: req.RequestID,
		Results:   results,
		Cancelled: cancelled,
	})
}

// runCall resolves and executes one tool call. Every failure mode becomes
// a structured result; nothing here can kill the actor.
func (a *Actor) runCall(ctx context.Context, call proto.ToolCall) proto.ToolCallResult {
	result := proto.ToolCallResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Arguments:  call.Arguments,
	}

	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.ToolExecuted(call.Name, result.Status, time.Since(start))
		}
	}()

	if err := ctx.Err(); err != nil {
		result.Status = proto.ToolStatusCancelled
		result.Output = "tool call cancelled before start"
		return result
	}

	if question, denied, gated := a.gate.check(call); gated {
		allowed, err := a.awaitConfirm(ctx, question)
		switch {
		case errors.Is(err, context.Canceled):
			result.Status = proto.ToolStatusCancelled
			result.Output = "tool call cancelled"
			return result
		case err != nil:
			result.Status = proto.ToolStatusFailure
			result.Output = fmt.Sprintf("confirmation failed: %v", err)
			return result
		case !allowed:
			a.logger.Info("call %s (%s) denied by the user", call.ID, call.Name)
			result.Status = proto.ToolStatusFailure
			result.Output = denied
			return result
		}
	}

	tool, err := a.provider.Get(call.Name)
	if err != nil {
		result.Status = proto.ToolStatusFailure
		result.Output = err.Error()
		return result
	}

	output, err := a.execSafe(ctx, tool, call.Arguments)
	switch {
	case err == nil:
		result.Status = proto.ToolStatusSuccess
		result.Output = output
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		result.Status = proto.ToolStatusCancelled
		result.Output = "tool call cancelled"
	default:
		result.Status = proto.ToolStatusFailure
		result.Output = err.Error()
	}
	return result
}

// execSafe contains a panicking tool to a failure result.
func (a *Actor) execSafe(ctx context.Context, tool tools.Tool, args map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return tool.Exec(ctx, args)
}

func (a *Actor) respond(ctx context.Context, replyTo string, resp proto.ExecuteToolsResponse) {
	if err := a.dir.Send(ctx, replyTo, resp); err != nil {
		a.logger.Error("response for batch %s not delivered to %s: %v", resp.RequestID, replyTo, err)
	}
}
