package actor

import "errors"

var (
	// ErrStopped is returned when sending to or stopping an actor that has
	// already terminated.
	ErrStopped = errors.New("actor stopped")

	// ErrURIBound is returned by Directory.Register when the URI is
	// already bound to a live actor.
	ErrURIBound = errors.New("actor URI already registered")

	// ErrUnknownURI is returned by Directory.Resolve for a URI that was
	// never provisioned. Routing errors are fatal; callers must not retry.
	ErrUnknownURI = errors.New("unknown actor URI")
)
