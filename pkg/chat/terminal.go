package chat

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"aide/pkg/proto"
)

// input modes for the terminal reader goroutine.
type termMode int

const (
	modeIdle termMode = iota
	modePrompt
	modeAsk
	modeConfirm
)

// TerminalTransport renders to a terminal and reads lines from it. One
// reader goroutine turns raw lines into Events according to the mode set
// by the last outbound call.
type TerminalTransport struct {
	out    io.Writer
	events chan Event
	isTTY  bool

	mu         sync.Mutex
	mode       termMode
	pendingID  string
	pendingDef string
}

// NewTerminalTransport wires stdin/stdout. The caller owns Close.
func NewTerminalTransport() *TerminalTransport {
	t := newTerminalTransport(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
	return t
}

func newTerminalTransport(in io.Reader, out io.Writer, isTTY bool) *TerminalTransport {
	t := &TerminalTransport{
		out:    out,
		events: make(chan Event),
		isTTY:  isTTY,
	}
	go t.readLoop(bufio.NewReader(in))
	return t
}

// Events implements Transport.
func (t *TerminalTransport) Events() <-chan Event { return t.events }

// Prompt implements Transport.
func (t *TerminalTransport) Prompt() {
	t.setMode(modePrompt, "", "")
	if t.isTTY {
		fmt.Fprint(t.out, "\n> ")
	}
}

// Ask implements Transport.
func (t *TerminalTransport) Ask(requestID, prompt, defaultValue string) {
	t.setMode(modeAsk, requestID, defaultValue)
	if defaultValue != "" {
		fmt.Fprintf(t.out, "\n%s [%s]: ", prompt, defaultValue)
		return
	}
	fmt.Fprintf(t.out, "\n%s: ", prompt)
}

// Confirm implements Transport.
func (t *TerminalTransport) Confirm(requestID, prompt string) {
	t.setMode(modeConfirm, requestID, "")
	fmt.Fprintf(t.out, "\n%s [y/n]: ", prompt)
}

// Status implements Transport.
func (t *TerminalTransport) Status(level proto.StatusLevel, text string) {
	fmt.Fprintf(t.out, "[%s] %s\n", level, text)
}

// Assistant implements Transport.
func (t *TerminalTransport) Assistant(text string) {
	fmt.Fprintf(t.out, "\n%s\n", text)
}

// Chunk implements Transport.
func (t *TerminalTransport) Chunk(text string) {
	fmt.Fprint(t.out, text)
}

// Close implements Transport. The event channel closes once the reader
// goroutine observes EOF or a read error; closing stdin is the caller's
// concern (typically process exit).
func (t *TerminalTransport) Close() error {
	t.setMode(modeIdle, "", "")
	return nil
}

func (t *TerminalTransport) setMode(mode termMode, id, def string) {
	t.mu.Lock()
	t.mode = mode
	t.pendingID = id
	t.pendingDef = def
	t.mu.Unlock()
}

func (t *TerminalTransport) snapshotMode() (termMode, string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode, t.pendingID, t.pendingDef
}

func (t *TerminalTransport) readLoop(in *bufio.Reader) {
	defer close(t.events)
	for {
		line, err := in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" || err == nil {
			t.dispatch(line)
		}
		if err != nil {
			return
		}
	}
}

// dispatch turns one raw line into the event the current mode expects.
func (t *TerminalTransport) dispatch(line string) {
	mode, id, def := t.snapshotMode()
	switch mode {
	case modeAsk:
		text := strings.TrimSpace(line)
		if text == "" {
			text = def
		}
		t.setMode(modeIdle, "", "")
		t.events <- AnswerEvent{RequestID: id, Text: text}
	case modeConfirm:
		accepted, ok := parseYesNo(line)
		if !ok {
			fmt.Fprint(t.out, "please answer y or n: ")
			return
		}
		t.setMode(modeIdle, "", "")
		t.events <- ConfirmEvent{RequestID: id, Accepted: accepted}
	default:
		t.events <- LineEvent{Text: line}
	}
}

func parseYesNo(line string) (accepted, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	default:
		return false, false
	}
}
