package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/actor"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

func spawnLLMActor(t *testing.T, completer Completer) (*actor.Handle, chan proto.CompleteStepResponse) {
	handle, replies, _ := spawnNotifyingLLMActor(t, completer, "")
	return handle, replies
}

// spawnNotifyingLLMActor additionally registers a user-side sink at
// notifyURI (when non-empty) collecting forwarded progress messages.
func spawnNotifyingLLMActor(t *testing.T, completer Completer, notifyURI string) (*actor.Handle, chan proto.CompleteStepResponse, chan proto.Message) {
	t.Helper()

	runtime := actor.NewRuntime()
	dir := actor.NewDirectory()
	replies := make(chan proto.CompleteStepResponse, 4)
	progress := make(chan proto.Message, 16)

	llmHandle := runtime.Spawn("actor://test/llm", NewActor(dir, completer, notifyURI))
	require.NoError(t, dir.Register("actor://test/llm", llmHandle))

	if notifyURI != "" {
		user := runtime.Spawn(notifyURI, actor.BehaviorFunc(func(_ context.Context, msg proto.Message) error {
			progress <- msg
			return nil
		}))
		require.NoError(t, dir.Register(notifyURI, user))
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = user.Stop(ctx)
		})
	}

	sink := runtime.Spawn("actor://test/agent", actor.BehaviorFunc(func(_ context.Context, msg proto.Message) error {
		if resp, ok := msg.(proto.CompleteStepResponse); ok {
			replies <- resp
		}
		return nil
	}))
	require.NoError(t, dir.Register("actor://test/agent", sink))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = llmHandle.Stop(ctx)
		_ = sink.Stop(ctx)
	})
	return llmHandle, replies, progress
}

func awaitStep(t *testing.T, replies chan proto.CompleteStepResponse) proto.CompleteStepResponse {
	t.Helper()
	select {
	case resp := <-replies:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for CompleteStepResponse")
		return proto.CompleteStepResponse{}
	}
}

func TestActorDeliversCompletion(t *testing.T) {
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){
		func() (CompletionResponse, error) {
			return CompletionResponse{
				Text:      "hello",
				ToolCalls: []proto.ToolCall{{ID: "c1", Name: "shell", Arguments: map[string]any{"command": "ls"}}},
				Usage:     proto.Usage{PromptTokens: 20, CompletionTokens: 7, CostUSD: 0.002},
			}, nil
		},
	}}
	handle, replies := spawnLLMActor(t, base)

	err := handle.Send(context.Background(), proto.CompleteStepRequest{
		RequestID: proto.NewRequestID(),
		Turns:     []proto.Turn{{Role: proto.RoleUser, Content: "hi"}},
		ReplyTo:   "actor://test/agent",
	})
	require.NoError(t, err)

	resp := awaitStep(t, replies)
	assert.False(t, resp.Failed())
	assert.Equal(t, "hello", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "shell", resp.ToolCalls[0].Name)
	assert.Equal(t, 27, resp.Usage.Tokens())
}

func TestActorClassifiesFailure(t *testing.T) {
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){
		fail(llmerrors.ErrorTypeAuth),
	}}
	handle, replies := spawnLLMActor(t, base)

	require.NoError(t, handle.Send(context.Background(), proto.CompleteStepRequest{
		RequestID: "req-1",
		Turns:     []proto.Turn{{Role: proto.RoleUser, Content: "hi"}},
		ReplyTo:   "actor://test/agent",
	}))

	resp := awaitStep(t, replies)
	assert.True(t, resp.Failed())
	assert.Equal(t, proto.CompletionErrAuth, resp.ErrKind)
	assert.NotEmpty(t, resp.ErrMsg)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestActorDropsInvalidRequest(t *testing.T) {
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){ok("never")}}
	handle, replies := spawnLLMActor(t, base)

	// Missing reply-to: dropped with a diagnostic, no completion attempted.
	require.NoError(t, handle.Send(context.Background(), proto.CompleteStepRequest{
		RequestID: "req-1",
		Turns:     []proto.Turn{{Role: proto.RoleUser, Content: "hi"}},
	}))

	select {
	case <-replies:
		t.Fatal("unexpected response to invalid request")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, base.calls)
}

// chunkingCompleter streams fragments through the request's progress
// sink before returning the assembled text.
type chunkingCompleter struct {
	chunks []string
}

func (c *chunkingCompleter) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	var text string
	for _, chunk := range c.chunks {
		text += chunk
		if req.Progress != nil {
			req.Progress.Chunk(chunk)
		}
	}
	return CompletionResponse{Text: text}, nil
}

func (c *chunkingCompleter) ModelName() string { return "test-model" }

func TestActorForwardsStreamedChunks(t *testing.T) {
	completer := &chunkingCompleter{chunks: []string{"hel", "lo"}}
	handle, replies, progress := spawnNotifyingLLMActor(t, completer, "actor://test/user")

	require.NoError(t, handle.Send(context.Background(), proto.CompleteStepRequest{
		RequestID: "req-1",
		Turns:     []proto.Turn{{Role: proto.RoleUser, Content: "hi"}},
		ReplyTo:   "actor://test/agent",
	}))

	resp := awaitStep(t, replies)
	assert.Equal(t, "hello", resp.Text)

	var streamed []string
	for len(streamed) < 2 {
		select {
		case msg := <-progress:
			chunk, ok := msg.(proto.AssistantChunk)
			require.True(t, ok, "expected AssistantChunk, got %s", msg.Kind())
			streamed = append(streamed, chunk.Text)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for streamed chunks")
		}
	}
	assert.Equal(t, []string{"hel", "lo"}, streamed)
}

func TestQuietRequestSuppressesStreaming(t *testing.T) {
	completer := &chunkingCompleter{chunks: []string{"summary"}}
	handle, replies, progress := spawnNotifyingLLMActor(t, completer, "actor://test/user")

	require.NoError(t, handle.Send(context.Background(), proto.CompleteStepRequest{
		RequestID: "req-1",
		Turns:     []proto.Turn{{Role: proto.RoleUser, Content: "summarize"}},
		ReplyTo:   "actor://test/agent",
		Quiet:     true,
	}))

	resp := awaitStep(t, replies)
	assert.Equal(t, "summary", resp.Text)

	select {
	case msg := <-progress:
		t.Fatalf("unexpected progress message %s for quiet request", msg.Kind())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestErrKindMapping(t *testing.T) {
	assert.Equal(t, proto.CompletionErrAuth, errKind(llmerrors.ErrorTypeAuth))
	assert.Equal(t, proto.CompletionErrRateLimit, errKind(llmerrors.ErrorTypeRateLimit))
	assert.Equal(t, proto.CompletionErrBadPrompt, errKind(llmerrors.ErrorTypeBadPrompt))
	assert.Equal(t, proto.CompletionErrTransient, errKind(llmerrors.ErrorTypeTransient))
	assert.Equal(t, proto.CompletionErrTransient, errKind(llmerrors.ErrorTypeServiceUnavailable))
	assert.Equal(t, proto.CompletionErrEmpty, errKind(llmerrors.ErrorTypeEmptyResponse))
	assert.Equal(t, proto.CompletionErrUnknown, errKind(llmerrors.ErrorTypeUnknown))
}
