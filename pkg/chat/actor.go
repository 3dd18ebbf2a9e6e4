package chat

import (
	"context"
	"fmt"
	"strings"

	"aide/pkg/actor"
	"aide/pkg/logx"
	"aide/pkg/proto"
)

const helpText = `commands:
  /exit, /quit     end the session
  /clear           reset conversation history
  /compact         summarize conversation history
  /image <path>    attach an image to the next message
  /help            show this help`

// interactionKind discriminates the queued requests for the human's
// attention.
type interactionKind int

const (
	interactionPrompt interactionKind = iota
	interactionAsk
	interactionConfirm
)

type interaction struct {
	kind    interactionKind
	id      string
	replyTo string
	prompt  string
	def     string
}

// Internal messages the transport pump feeds into the mailbox. They never
// cross an actor boundary.

type lineInput struct{ Text string }

func (lineInput) Kind() proto.Kind { return "chat._LINE" }

type askAnswer struct {
	RequestID string
	Text      string
}

func (askAnswer) Kind() proto.Kind { return "chat._ANSWER" }

type confirmAnswer struct {
	RequestID string
	Accepted  bool
}

func (confirmAnswer) Kind() proto.Kind { return "chat._CONFIRM" }

type transportClosed struct{}

func (transportClosed) Kind() proto.Kind { return "chat._CLOSED" }

// Actor is the User Actor: the single owner of the human's attention. It
// parses input lines into domain messages for the Agent Actor, serializes
// ask/confirm/handoff requests so at most one is outstanding, and matches
// responses by request id alone. It never touches agent history.
type Actor struct {
	dir       *actor.Directory
	transport Transport
	scanner   SecretScanner
	selfURI   string
	agentURI  string
	logger    *logx.Logger

	current *interaction
	queue   []interaction
	closed  bool
}

// New creates the User Actor. scanner may be nil to disable redaction.
func New(dir *actor.Directory, transport Transport, scanner SecretScanner, selfURI, agentURI string) *Actor {
	return &Actor{
		dir:       dir,
		transport: transport,
		scanner:   scanner,
		selfURI:   selfURI,
		agentURI:  agentURI,
		logger:    logx.NewLogger("user"),
	}
}

// OnStart launches the pump translating transport events into mailbox
// messages.
func (a *Actor) OnStart(context.Context) error {
	go a.pump()
	return nil
}

func (a *Actor) pump() {
	for ev := range a.transport.Events() {
		var msg proto.Message
		switch e := ev.(type) {
		case LineEvent:
			msg = lineInput{Text: e.Text}
		case AnswerEvent:
			msg = askAnswer{RequestID: e.RequestID, Text: e.Text}
		case ConfirmEvent:
			msg = confirmAnswer{RequestID: e.RequestID, Accepted: e.Accepted}
		default:
			continue
		}
		if err := a.dir.Send(context.Background(), a.selfURI, msg); err != nil {
			a.logger.Warn("transport event dropped: %v", err)
			return
		}
	}
	if err := a.dir.Send(context.Background(), a.selfURI, transportClosed{}); err != nil {
		a.logger.Debug("transport close not delivered: %v", err)
	}
}

// Receive implements actor.Behavior.
func (a *Actor) Receive(ctx context.Context, msg proto.Message) error {
	switch m := msg.(type) {
	case proto.AgentYieldedToUser:
		a.enqueue(ctx, interaction{kind: interactionPrompt, id: m.RequestID, replyTo: m.ReplyTo}, m.Validate())
	case proto.AskRequest:
		a.enqueue(ctx, interaction{kind: interactionAsk, id: m.RequestID, replyTo: m.ReplyTo, prompt: m.Prompt, def: m.Default}, m.Validate())
	case proto.ConfirmRequest:
		a.enqueue(ctx, interaction{kind: interactionConfirm, id: m.RequestID, replyTo: m.ReplyTo, prompt: m.Prompt}, m.Validate())
	case proto.StatusUpdate:
		a.transport.Status(m.Level, m.Text)
	case proto.AssistantOutput:
		a.transport.Assistant(m.Text)
	case proto.AssistantChunk:
		a.transport.Chunk(m.Text)
	case lineInput:
		a.handleLine(ctx, m.Text)
	case askAnswer:
		a.handleAnswer(ctx, m)
	case confirmAnswer:
		a.handleConfirm(ctx, m)
	case transportClosed:
		a.handleClosed(ctx)
	default:
		a.logger.Warn("unexpected message kind %s, dropping", msg.Kind())
	}
	return nil
}

// enqueue admits one request for the human's attention. While another is
// outstanding it waits its turn.
func (a *Actor) enqueue(ctx context.Context, in interaction, validErr error) {
	if validErr != nil {
		a.logger.Warn("invalid interaction request: %v", validErr)
		return
	}
	if a.current != nil {
		a.logger.Debug("queueing interaction %s behind %s", in.id, a.current.id)
		a.queue = append(a.queue, in)
		return
	}
	a.begin(ctx, in)
}

func (a *Actor) begin(ctx context.Context, in interaction) {
	if a.closed {
		a.failInteraction(ctx, in, "transport closed")
		return
	}
	a.current = &in
	switch in.kind {
	case interactionPrompt:
		a.transport.Prompt()
	case interactionAsk:
		a.transport.Ask(in.id, in.prompt, in.def)
	case interactionConfirm:
		a.transport.Confirm(in.id, in.prompt)
	}
}

// resolve retires the current interaction and starts the next queued one.
func (a *Actor) resolve(ctx context.Context) {
	a.current = nil
	if len(a.queue) == 0 {
		return
	}
	next := a.queue[0]
	a.queue = a.queue[1:]
	a.begin(ctx, next)
}

func (a *Actor) handleLine(ctx context.Context, raw string) {
	cur := a.current
	if cur == nil || cur.kind != interactionPrompt {
		a.logger.Warn("unsolicited input line, discarding")
		return
	}

	msg, local := a.parseLine(ctx, cur.id, raw)
	if local {
		// Handled here (help, blank line); the human still owns the turn.
		a.transport.Prompt()
		return
	}
	a.send(ctx, cur.replyTo, msg)
	a.resolve(ctx)
}

// parseLine turns one raw input line into a domain message, or handles it
// locally (local=true) without resolving the handoff.
func (a *Actor) parseLine(ctx context.Context, requestID, raw string) (msg proto.Message, local bool) {
	stripped := strings.TrimSpace(raw)
	if stripped == "" {
		return nil, true
	}

	command, arg, _ := strings.Cut(stripped, " ")
	if !strings.HasPrefix(command, "/") {
		return proto.UserTextSubmitted{Text: a.redact(ctx, raw)}, false
	}

	switch command {
	case "/exit", "/quit":
		return proto.SessionExitRequested{}, false
	case "/clear":
		return proto.ClearHistoryRequested{}, false
	case "/compact":
		return proto.CompactionRequested{}, false
	case "/image":
		source := strings.TrimSpace(arg)
		if source == "" {
			return proto.UserInputFailed{RequestID: requestID, Reason: "/image requires a path or URL"}, false
		}
		return proto.ImageAttachRequested{Source: source}, false
	case "/help":
		a.transport.Status(proto.StatusInfo, helpText)
		return nil, true
	default:
		return proto.UserInputFailed{RequestID: requestID, Reason: fmt.Sprintf("unknown command %s", command)}, false
	}
}

// redact strips secrets from outgoing user text. Fail-open: scanner
// errors leave the text unchanged.
func (a *Actor) redact(ctx context.Context, text string) string {
	if a.scanner == nil {
		return text
	}
	redacted, had, err := a.scanner.Scan(ctx, text)
	if err != nil {
		a.logger.Warn("secret scan failed, passing text through: %v", err)
		return text
	}
	if had {
		a.transport.Status(proto.StatusWarn, "secret-like content redacted from your message")
	}
	return redacted
}

func (a *Actor) handleAnswer(ctx context.Context, ans askAnswer) {
	cur := a.current
	if cur == nil || cur.kind != interactionAsk || cur.id != ans.RequestID {
		a.logger.Warn("answer for unknown or resolved request %s, discarding", ans.RequestID)
		return
	}
	a.send(ctx, cur.replyTo, proto.AskResponse{RequestID: cur.id, Value: ans.Text})
	a.resolve(ctx)
}

func (a *Actor) handleConfirm(ctx context.Context, dec confirmAnswer) {
	cur := a.current
	if cur == nil || cur.kind != interactionConfirm || cur.id != dec.RequestID {
		a.logger.Warn("confirmation for unknown or resolved request %s, discarding", dec.RequestID)
		return
	}
	a.send(ctx, cur.replyTo, proto.ConfirmResponse{RequestID: cur.id, Value: dec.Accepted})
	a.resolve(ctx)
}

// handleClosed fails everything waiting on the human and turns transport
// EOF into a session exit.
func (a *Actor) handleClosed(ctx context.Context) {
	if a.closed {
		return
	}
	a.closed = true
	a.logger.Info("transport closed, requesting session exit")

	if cur := a.current; cur != nil {
		a.current = nil
		a.failInteraction(ctx, *cur, "transport closed")
	}
	for _, in := range a.queue {
		a.failInteraction(ctx, in, "transport closed")
	}
	a.queue = nil

	a.send(ctx, a.agentURI, proto.SessionExitRequested{})
}

// failInteraction reports that no human input will arrive for in.
func (a *Actor) failInteraction(ctx context.Context, in interaction, reason string) {
	switch in.kind {
	case interactionPrompt:
		a.send(ctx, in.replyTo, proto.UserInputFailed{RequestID: in.id, Reason: reason})
	case interactionAsk:
		a.send(ctx, in.replyTo, proto.AskResponse{RequestID: in.id, Err: reason})
	case interactionConfirm:
		a.send(ctx, in.replyTo, proto.ConfirmResponse{RequestID: in.id, Err: reason})
	}
}

func (a *Actor) send(ctx context.Context, uri string, msg proto.Message) {
	if err := a.dir.Send(ctx, uri, msg); err != nil {
		a.logger.Error("message %s not delivered to %s: %v", msg.Kind(), uri, err)
	}
}
