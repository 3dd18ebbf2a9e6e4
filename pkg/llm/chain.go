package llm

import "context"

// Middleware wraps a Completer with additional behavior. Middlewares are
// composed with Chain to form a processing pipeline.
type Middleware func(next Completer) Completer

// completerFunc adapts plain functions to the Completer interface.
type completerFunc struct {
	complete  func(context.Context, CompletionRequest) (CompletionResponse, error)
	modelName func() string
}

func (f completerFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f completerFunc) ModelName() string { return f.modelName() }

// WrapCompleter builds a Completer from function implementations. Helper
// for middleware that wraps behavior around a next client.
func WrapCompleter(
	complete func(context.Context, CompletionRequest) (CompletionResponse, error),
	modelName func() string,
) Completer {
	return completerFunc{complete: complete, modelName: modelName}
}

// Chain composes middlewares around a base Completer. The first
// middleware in the slice becomes the outermost wrapper:
//
//	Chain(client, mw1, mw2) yields mw1 -> mw2 -> client
func Chain(base Completer, middlewares ...Middleware) Completer {
	completer := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		completer = middlewares[i](completer)
	}
	return completer
}
