package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/chat"
	"aide/pkg/config"
	"aide/pkg/eventlog"
	"aide/pkg/llm"
	"aide/pkg/persistence"
	"aide/pkg/proto"
)

// fakeTransport records outbound calls and lets the test feed events.
type fakeTransport struct {
	events chan chat.Event
	calls  chan string
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan chat.Event),
		calls:  make(chan string, 64),
	}
}

func (f *fakeTransport) Events() <-chan chat.Event { return f.events }
func (f *fakeTransport) Prompt()                   { f.calls <- "prompt" }
func (f *fakeTransport) Ask(id, prompt, def string) {
	f.calls <- "ask:" + id
}
func (f *fakeTransport) Confirm(id, prompt string) { f.calls <- "confirm:" + id }
func (f *fakeTransport) Status(level proto.StatusLevel, text string) {
	f.calls <- "status:" + text
}
func (f *fakeTransport) Assistant(text string) { f.calls <- "assistant:" + text }
func (f *fakeTransport) Chunk(text string)     { f.calls <- "chunk:" + text }
func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

// scriptedCompleter pops one canned response per call.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []llm.CompletionResponse
}

func (s *scriptedCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return llm.CompletionResponse{Text: "done"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedCompleter) ModelName() string { return "test-model" }

func wantCall(t *testing.T, calls chan string, prefix string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case call := <-calls:
			if strings.HasPrefix(call, prefix) {
				return call
			}
		case <-deadline:
			t.Fatalf("no %q call on transport", prefix)
		}
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Model.ContextWindow = 200000
	cfg.Persistence.Path = filepath.Join(t.TempDir(), "aide.db")
	cfg.EventLog.Dir = filepath.Join(t.TempDir(), "logs")
	cfg.Metrics.Enabled = false
	cfg.SystemPrompt = "be helpful"
	return cfg
}

func TestSessionRunsOneTurnAndExits(t *testing.T) {
	cfg := testConfig(t)
	transport := newFakeTransport()
	completer := &scriptedCompleter{responses: []llm.CompletionResponse{
		{Text: "hi there", Usage: proto.Usage{PromptTokens: 10, CompletionTokens: 3}},
	}}

	s, err := New(Options{
		Config:    cfg,
		WorkDir:   t.TempDir(),
		Transport: transport,
		Completer: completer,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	// Bring-up yields the first turn to the human.
	wantCall(t, transport.calls, "prompt")

	transport.events <- chat.LineEvent{Text: "hello"}
	assert.Equal(t, "assistant:hi there", wantCall(t, transport.calls, "assistant:"))
	wantCall(t, transport.calls, "prompt")

	transport.events <- chat.LineEvent{Text: "/exit"}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not signal exit")
	}

	require.NoError(t, s.Shutdown(ctx))

	// The exit flush persisted the conversation.
	store, err := persistence.Open(cfg.Persistence.Path, cfg.SessionID, cfg.Model.Name)
	require.NoError(t, err)
	defer store.Close()

	turns, err := store.LoadTurns(ctx, cfg.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, turns)
	assert.Equal(t, proto.RoleSystem, turns[0].Role)
	assert.Equal(t, "hello", turns[1].Content)

	events, err := store.Events(ctx)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, "session_started")
	assert.Contains(t, kinds, "session_ended")
}

func TestSessionWritesMessageTrace(t *testing.T) {
	cfg := testConfig(t)
	transport := newFakeTransport()

	s, err := New(Options{
		Config:    cfg,
		WorkDir:   t.TempDir(),
		Transport: transport,
		Completer: &scriptedCompleter{},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	wantCall(t, transport.calls, "prompt")

	transport.events <- chat.LineEvent{Text: "/exit"}
	<-s.Done()
	require.NoError(t, s.Shutdown(ctx))

	files, err := eventlog.ListLogFiles(cfg.EventLog.Dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	records, err := eventlog.ReadRecords(files[0])
	require.NoError(t, err)
	require.NotEmpty(t, records)

	kinds := make(map[string]bool, len(records))
	for _, rec := range records {
		kinds[rec.Kind] = true
	}
	assert.True(t, kinds["AGENT_YIELDED"], "trace should include the turn handoff")
	assert.True(t, kinds["SESSION_EXIT"], "trace should include the exit request")
}

func TestSessionRequiresConfig(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
