// Package worker defines the transport boundary to external experts: the
// Worker interface plus subprocess and OpenAI-backed implementations, and the
// process-wide invocation gate.
package worker

import (
	"context"

	"github.com/councilgo-dev/councilgo/internal/expert"
)

// Invocation is one request to an external expert. The deadline travels on
// the context.
type Invocation struct {
	// Prompt is the full prompt text, already assembled by the caller.
	Prompt string

	// Workdir is the directory the expert should operate in. Empty means the
	// process working directory.
	Workdir string

	// Instance carries per-replica seed/temperature/focus. Nil for plain
	// single invocations.
	Instance *expert.InstanceSpec
}

// Worker executes a single expert invocation and returns the proposal text.
// Implementations must honour context cancellation by terminating the
// underlying call, and must be safe for concurrent use.
type Worker interface {
	Invoke(ctx context.Context, inv Invocation) (string, error)
}

// Factory resolves the Worker used for a given expert id. It lets one debate
// mix transports (a subprocess CLI for one expert, an HTTP API for another).
type Factory interface {
	WorkerFor(expertID string) (Worker, error)
}

// StaticFactory returns the same worker for every expert, with optional
// per-expert overrides.
type StaticFactory struct {
	Default   Worker
	Overrides map[string]Worker
}

// WorkerFor implements Factory.
func (f *StaticFactory) WorkerFor(expertID string) (Worker, error) {
	if w, ok := f.Overrides[expertID]; ok {
		return w, nil
	}
	return f.Default, nil
}
