// Package chat implements the User Actor: it parses raw human input into
// domain messages, serializes competing requests for the human's attention,
// and renders agent output through a pluggable transport.
package chat

import "aide/pkg/proto"

// Event is one piece of inbound human input delivered by a Transport.
type Event interface {
	isEvent()
}

// LineEvent carries one free input line answering a prompt handoff.
type LineEvent struct {
	Text string
}

// AnswerEvent carries the human's answer to an outstanding ask, framed
// with the request id the transport was given.
type AnswerEvent struct {
	RequestID string
	Text      string
}

// ConfirmEvent carries the human's yes/no decision for an outstanding
// confirm.
type ConfirmEvent struct {
	RequestID string
	Accepted  bool
}

func (LineEvent) isEvent()    {}
func (AnswerEvent) isEvent()  {}
func (ConfirmEvent) isEvent() {}

// Transport is the human I/O boundary. Outbound calls render prompts and
// output; inbound input arrives on Events, framed with a request id where
// correlation matters. The channel is closed when the transport shuts
// down (EOF, closed terminal).
//
// The User Actor serializes outbound interactions: at most one of Prompt,
// Ask, or Confirm is outstanding at a time.
type Transport interface {
	// Events delivers inbound input. Closed on transport shutdown.
	Events() <-chan Event

	// Prompt requests one free input line; it arrives as a LineEvent.
	Prompt()

	// Ask displays a question; the answer arrives as an AnswerEvent
	// carrying the same request id.
	Ask(requestID, prompt, defaultValue string)

	// Confirm displays a yes/no question; the decision arrives as a
	// ConfirmEvent carrying the same request id.
	Confirm(requestID, prompt string)

	// Status renders a one-line status message.
	Status(level proto.StatusLevel, text string)

	// Assistant renders a complete assistant reply.
	Assistant(text string)

	// Chunk renders one fragment of a streamed assistant reply.
	Chunk(text string)

	// Close shuts the transport down and closes the event channel.
	Close() error
}
