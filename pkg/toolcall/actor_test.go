package toolcall

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/actor"
	"aide/pkg/proto"
	"aide/pkg/tools"
)

const (
	testToolCallURI = "actor://test/tool-call"
	testAgentURI    = "actor://test/agent"
)

// fakeTool blocks until release is closed (if set), then returns output.
type fakeTool struct {
	name    string
	output  string
	fail    error
	release chan struct{}
	started chan struct{} // closed on first Exec entry
	once    sync.Once
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Definition() proto.ToolDefinition {
	return proto.ToolDefinition{Name: f.name, InputSchema: proto.InputSchema{Type: "object"}}
}

func (f *fakeTool) Exec(ctx context.Context, _ map[string]any) (string, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail != nil {
		return "", f.fail
	}
	return f.output, nil
}

type harness struct {
	runtime *actor.Runtime
	dir     *actor.Directory
	tc      *Actor
	handle  *actor.Handle
	replies chan proto.ExecuteToolsResponse
}

func newHarness(t *testing.T, fakes ...tools.Tool) *harness {
	t.Helper()

	h := &harness{
		runtime: actor.NewRuntime(),
		dir:     actor.NewDirectory(),
		replies: make(chan proto.ExecuteToolsResponse, 8),
	}

	provider := tools.NewProvider(tools.Context{WorkDir: t.TempDir()}, []string{})
	provider.SetDynamic(fakes)

	h.tc = New(h.dir, provider, nil)
	h.handle = h.runtime.Spawn(testToolCallURI, h.tc)
	require.NoError(t, h.dir.Register(testToolCallURI, h.handle))

	sink := h.runtime.Spawn(testAgentURI, actor.BehaviorFunc(func(_ context.Context, msg proto.Message) error {
		if resp, ok := msg.(proto.ExecuteToolsResponse); ok {
			h.replies <- resp
		}
		return nil
	}))
	require.NoError(t, h.dir.Register(testAgentURI, sink))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.handle.Stop(ctx)
		_ = sink.Stop(ctx)
	})
	return h
}

func (h *harness) execute(t *testing.T, requestID string, calls ...proto.ToolCall) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.handle.Send(ctx, proto.ExecuteToolsRequest{
		RequestID: requestID,
		Calls:     calls,
		ReplyTo:   testAgentURI,
	}))
}

func (h *harness) awaitResponse(t *testing.T) proto.ExecuteToolsResponse {
	t.Helper()
	select {
	case resp := <-h.replies:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ExecuteToolsResponse")
		return proto.ExecuteToolsResponse{}
	}
}

func resultByID(t *testing.T, resp proto.ExecuteToolsResponse, id string) proto.ToolCallResult {
	t.Helper()
	for _, r := range resp.Results {
		if r.ToolCallID == id {
			return r
		}
	}
	t.Fatalf("no result for tool call %s", id)
	return proto.ToolCallResult{}
}

func TestBatchRunsConcurrently(t *testing.T) {
	release := make(chan struct{})
	slow := &fakeTool{name: "slow", output: "slow done", release: release, started: make(chan struct{})}
	fast := &fakeTool{name: "fast", output: "fast done"}
	h := newHarness(t, slow, fast)

	h.execute(t, "req-1",
		proto.ToolCall{ID: "c1", Name: "slow"},
		proto.ToolCall{ID: "c2", Name: "fast"},
	)

	// The slow call is running; the fast one must not be stuck behind it.
	select {
	case <-slow.started:
	case <-time.After(5 * time.Second):
		t.Fatal("slow tool never started")
	}
	close(release)

	resp := h.awaitResponse(t)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Cancelled)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, proto.ToolStatusSuccess, resultByID(t, resp, "c1").Status)
	assert.Equal(t, "slow done", resultByID(t, resp, "c1").Output)
	assert.Equal(t, proto.ToolStatusSuccess, resultByID(t, resp, "c2").Status)
}

func TestToolFailureBecomesResult(t *testing.T) {
	h := newHarness(t,
		&fakeTool{name: "broken", fail: fmt.Errorf("disk on fire")},
		&fakeTool{name: "ok", output: "fine"},
	)

	h.execute(t, "req-1",
		proto.ToolCall{ID: "c1", Name: "broken"},
		proto.ToolCall{ID: "c2", Name: "ok"},
		proto.ToolCall{ID: "c3", Name: "no_such_tool"},
	)

	resp := h.awaitResponse(t)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, proto.ToolStatusFailure, resultByID(t, resp, "c1").Status)
	assert.Contains(t, resultByID(t, resp, "c1").Output, "disk on fire")
	assert.Equal(t, proto.ToolStatusSuccess, resultByID(t, resp, "c2").Status)
	assert.Equal(t, proto.ToolStatusFailure, resultByID(t, resp, "c3").Status)

	// A failing item never kills the actor.
	h.execute(t, "req-2", proto.ToolCall{ID: "c4", Name: "ok"})
	resp = h.awaitResponse(t)
	assert.Equal(t, "req-2", resp.RequestID)
}

func TestCancelAbortsRunningBatch(t *testing.T) {
	blocked := &fakeTool{name: "blocked", release: make(chan struct{}), started: make(chan struct{})}
	h := newHarness(t, blocked)

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "blocked"})
	select {
	case <-blocked.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.handle.Send(ctx, proto.CancelToolsRequest{RequestID: "req-1"}))

	resp := h.awaitResponse(t)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, proto.ToolStatusCancelled, resultByID(t, resp, "c1").Status)
}

// Two calls in one batch, one already finished when the cancel lands:
// the finished call keeps its success, only the running one is cancelled,
// and the single response arrives after both resolve.
func TestCancelSparesFinishedCallInBatch(t *testing.T) {
	fast := &fakeTool{name: "fast", output: "fast done", started: make(chan struct{})}
	blocked := &fakeTool{name: "blocked", release: make(chan struct{}), started: make(chan struct{})}
	h := newHarness(t, fast, blocked)

	h.execute(t, "req-1",
		proto.ToolCall{ID: "c1", Name: "fast"},
		proto.ToolCall{ID: "c2", Name: "blocked"},
	)
	for _, started := range []chan struct{}{fast.started, blocked.started} {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("tool never started")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.handle.Send(ctx, proto.CancelToolsRequest{RequestID: "req-1"}))

	resp := h.awaitResponse(t)
	assert.True(t, resp.Cancelled)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, proto.ToolStatusSuccess, resultByID(t, resp, "c1").Status)
	assert.Equal(t, "fast done", resultByID(t, resp, "c1").Output)
	assert.Equal(t, proto.ToolStatusCancelled, resultByID(t, resp, "c2").Status)

	select {
	case extra := <-h.replies:
		t.Fatalf("unexpected extra response for %s", extra.RequestID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	h := newHarness(t, &fakeTool{name: "ok", output: "done"})

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "ok"})
	resp := h.awaitResponse(t)
	assert.False(t, resp.Cancelled)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.handle.Send(ctx, proto.CancelToolsRequest{RequestID: "req-1"}))

	// Exactly one response per request, and the actor is still serving.
	h.execute(t, "req-2", proto.ToolCall{ID: "c2", Name: "ok"})
	resp = h.awaitResponse(t)
	assert.Equal(t, "req-2", resp.RequestID)

	select {
	case extra := <-h.replies:
		t.Fatalf("unexpected extra response for %s", extra.RequestID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateInflightRequestRejected(t *testing.T) {
	release := make(chan struct{})
	blocked := &fakeTool{name: "blocked", output: "done", release: release, started: make(chan struct{})}
	h := newHarness(t, blocked)

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "blocked"})
	select {
	case <-blocked.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}

	// Same id while the first batch is still running.
	h.execute(t, "req-1", proto.ToolCall{ID: "c2", Name: "blocked"})

	resp := h.awaitResponse(t)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.NotEmpty(t, resp.Err)
	assert.Empty(t, resp.Results)

	close(release)
	resp = h.awaitResponse(t)
	assert.Empty(t, resp.Err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, proto.ToolStatusSuccess, resp.Results[0].Status)
}

func TestRequestIDReusableAfterCompletion(t *testing.T) {
	h := newHarness(t, &fakeTool{name: "ok", output: "done"})

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "ok"})
	first := h.awaitResponse(t)
	require.Empty(t, first.Err)

	h.execute(t, "req-1", proto.ToolCall{ID: "c2", Name: "ok"})
	second := h.awaitResponse(t)
	assert.Empty(t, second.Err)
	require.Len(t, second.Results, 1)
}

const testUserURI = "actor://test/user"

// confirmResponder plays the User Actor: it answers every ConfirmRequest
// with the scripted decision and counts the questions it was asked.
type confirmResponder struct {
	dir    *actor.Directory
	accept bool
	asked  int64
}

func (c *confirmResponder) Receive(ctx context.Context, msg proto.Message) error {
	req, ok := msg.(proto.ConfirmRequest)
	if !ok {
		return nil
	}
	atomic.AddInt64(&c.asked, 1)
	return c.dir.Send(ctx, req.ReplyTo, proto.ConfirmResponse{RequestID: req.RequestID, Value: c.accept})
}

func (c *confirmResponder) questions() int { return int(atomic.LoadInt64(&c.asked)) }

// withConfirmation installs a gate on the harness actor plus a scripted
// responder standing in for the User Actor.
func (h *harness) withConfirmation(t *testing.T, toolPatterns, shellPatterns []string, accept bool) *confirmResponder {
	t.Helper()

	gate, err := NewGate(toolPatterns, shellPatterns)
	require.NoError(t, err)
	h.tc.WithConfirmation(gate, testToolCallURI, testUserURI)

	responder := &confirmResponder{dir: h.dir, accept: accept}
	handle := h.runtime.Spawn(testUserURI, responder)
	require.NoError(t, h.dir.Register(testUserURI, handle))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = handle.Stop(ctx)
	})
	return responder
}

func TestConfirmationDenialBlocksExecution(t *testing.T) {
	risky := &fakeTool{name: "delete_everything", output: "gone", started: make(chan struct{})}
	h := newHarness(t, risky)
	responder := h.withConfirmation(t, []string{"^delete_"}, nil, false)

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "delete_everything"})

	resp := h.awaitResponse(t)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, proto.ToolStatusFailure, resp.Results[0].Status)
	assert.Equal(t, "Tool execution denied.", resp.Results[0].Output)
	assert.Equal(t, 1, responder.questions())

	// The tool itself never ran.
	select {
	case <-risky.started:
		t.Fatal("denied tool was executed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConfirmationApprovalExecutes(t *testing.T) {
	risky := &fakeTool{name: "delete_everything", output: "gone"}
	h := newHarness(t, risky)
	responder := h.withConfirmation(t, []string{"^delete_"}, nil, true)

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "delete_everything"})

	resp := h.awaitResponse(t)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, proto.ToolStatusSuccess, resp.Results[0].Status)
	assert.Equal(t, "gone", resp.Results[0].Output)
	assert.Equal(t, 1, responder.questions())
}

func TestShellConfirmationMatchesCommand(t *testing.T) {
	shell := &fakeTool{name: "shell", output: "ok"}
	h := newHarness(t, shell)
	responder := h.withConfirmation(t, nil, []string{`\brm\b`}, false)

	h.execute(t, "req-1",
		proto.ToolCall{ID: "c1", Name: "shell", Arguments: map[string]any{"command": "rm -rf /tmp/x"}},
		proto.ToolCall{ID: "c2", Name: "shell", Arguments: map[string]any{"command": "ls"}},
	)

	resp := h.awaitResponse(t)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, proto.ToolStatusFailure, resultByID(t, resp, "c1").Status)
	assert.Equal(t, "Shell command execution denied.", resultByID(t, resp, "c1").Output)
	assert.Equal(t, proto.ToolStatusSuccess, resultByID(t, resp, "c2").Status)
	assert.Equal(t, 1, responder.questions())
}

func TestUnmatchedCallSkipsConfirmation(t *testing.T) {
	h := newHarness(t, &fakeTool{name: "ok", output: "fine"})
	responder := h.withConfirmation(t, []string{"^delete_"}, nil, false)

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "ok"})

	resp := h.awaitResponse(t)
	assert.Equal(t, proto.ToolStatusSuccess, resp.Results[0].Status)
	assert.Equal(t, 0, responder.questions())
}

func TestCancelWhileAwaitingConfirmation(t *testing.T) {
	h := newHarness(t, &fakeTool{name: "delete_everything", output: "gone"})

	// No responder: the question stays unanswered until the cancel.
	gate, err := NewGate([]string{"^delete_"}, nil)
	require.NoError(t, err)
	h.tc.WithConfirmation(gate, testToolCallURI, testToolCallURI)

	h.execute(t, "req-1", proto.ToolCall{ID: "c1", Name: "delete_everything"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.handle.Send(ctx, proto.CancelToolsRequest{RequestID: "req-1"}))

	resp := h.awaitResponse(t)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, proto.ToolStatusCancelled, resultByID(t, resp, "c1").Status)
}
