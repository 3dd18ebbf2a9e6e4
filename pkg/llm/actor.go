package llm

import (
	"context"
	"time"

	"aide/pkg/actor"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/logx"
	"aide/pkg/proto"
)

// Actor serves CompleteStepRequest messages with the wrapped Completer.
// Completions serialize: one request is in flight at a time, in mailbox
// order. Failures cross the boundary as classified kind + message, never
// as live error values.
type Actor struct {
	dir       *actor.Directory
	completer Completer
	notifyURI string
	logger    *logx.Logger
}

// NewActor creates the LLM Actor around a (middleware-wrapped) completer.
// Streamed chunks and status lines go to notifyURI (normally the User
// Actor); empty disables progress.
func NewActor(dir *actor.Directory, completer Completer, notifyURI string) *Actor {
	return &Actor{
		dir:       dir,
		completer: completer,
		notifyURI: notifyURI,
		logger:    logx.NewLogger("llm"),
	}
}

// messageProgress forwards streamed output as messages to the notify URI.
// Sends are fire-and-forget; a full mailbox drops the fragment rather
// than stalling the stream.
type messageProgress struct {
	dir    *actor.Directory
	uri    string
	logger *logx.Logger
}

func (p *messageProgress) Chunk(text string) {
	p.forward(proto.AssistantChunk{Text: text})
}

func (p *messageProgress) Status(level proto.StatusLevel, text string) {
	p.forward(proto.StatusUpdate{Level: level, Text: text})
}

func (p *messageProgress) forward(msg proto.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.dir.Send(ctx, p.uri, msg); err != nil {
		p.logger.Debug("progress %s not delivered to %s: %v", msg.Kind(), p.uri, err)
	}
}

// Receive implements actor.Behavior.
func (a *Actor) Receive(ctx context.Context, msg proto.Message) error {
	req, ok := msg.(proto.CompleteStepRequest)
	if !ok {
		a.logger.Warn("unexpected message kind %s, dropping", msg.Kind())
		return nil
	}
	if err := req.Validate(); err != nil {
		a.logger.Warn("invalid CompleteStepRequest: %v", err)
		return nil
	}

	in := NewCompletionRequest(req.Turns)
	in.Tools = req.Tools
	if a.notifyURI != "" && !req.Quiet {
		in.Progress = &messageProgress{dir: a.dir, uri: a.notifyURI, logger: a.logger}
	}

	a.logger.Debug("completing step %s: %d turns, %d tools", req.RequestID, len(req.Turns), len(req.Tools))
	out, err := a.completer.Complete(ctx, in)

	resp := proto.CompleteStepResponse{RequestID: req.RequestID}
	if err != nil {
		classified := llmerrors.Classify(err)
		resp.ErrKind = errKind(classified.Type)
		resp.ErrMsg = classified.Error()
		a.logger.Warn("completion %s failed (%s): %v", req.RequestID, resp.ErrKind, err)
	} else {
		resp.Text = out.Text
		resp.ToolCalls = out.ToolCalls
		resp.Usage = out.Usage
	}

	if sendErr := a.dir.Send(ctx, req.ReplyTo, resp); sendErr != nil {
		a.logger.Error("response for %s not delivered to %s: %v", req.RequestID, req.ReplyTo, sendErr)
	}
	return nil
}

// errKind maps classified error types to the wire classification.
func errKind(t llmerrors.ErrorType) proto.CompletionErrKind {
	switch t {
	case llmerrors.ErrorTypeAuth:
		return proto.CompletionErrAuth
	case llmerrors.ErrorTypeRateLimit:
		return proto.CompletionErrRateLimit
	case llmerrors.ErrorTypeBadPrompt:
		return proto.CompletionErrBadPrompt
	case llmerrors.ErrorTypeTransient, llmerrors.ErrorTypeServiceUnavailable:
		return proto.CompletionErrTransient
	case llmerrors.ErrorTypeEmptyResponse:
		return proto.CompletionErrEmpty
	default:
		return proto.CompletionErrUnknown
	}
}
