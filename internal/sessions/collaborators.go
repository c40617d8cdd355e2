package sessions

import (
	"context"

	"github.com/joescharf/modelrepo/internal/conflict"
	"github.com/joescharf/modelrepo/internal/models"
)

// Prompter is the user-facing side of a session. Each call blocks until the
// user answers; the session runs it off its worker goroutine and stops
// waiting when the session is cancelled.
type Prompter interface {
	// PromptSave asks whether unsaved edits should be written to disk first.
	PromptSave(ctx context.Context) (bool, error)

	// PromptCommitMessage asks for the message of the local commit. changed
	// lists the paths with local changes and suggestion may be empty.
	// Returning ok == false cancels the session.
	PromptCommitMessage(ctx context.Context, changed []string, suggestion string) (msg string, ok bool, err error)

	// PresentConflicts lets the user decide per path and returns the set,
	// possibly with entries left unresolved.
	PresentConflicts(ctx context.Context, set *conflict.Set) (*conflict.Set, error)

	// DisplayError reports a failed session.
	DisplayError(ctx context.Context, phase Phase, err error)
}

// Document is an open, editable model whose in-memory edits can be saved.
type Document interface {
	IsDirty() bool
	Save(ctx context.Context) error
}

// Suggester proposes a commit message for a set of changed paths.
type Suggester interface {
	SuggestCommitMessage(ctx context.Context, changed []string) (string, error)
}

// Recorder keeps the history of finished sessions.
type Recorder interface {
	RecordSync(ctx context.Context, repoPath string, rec *models.SyncRecord) error
}

// await runs fn on its own goroutine and returns its answer, or ctx.Err() as
// soon as ctx is done.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type answer struct {
		v   T
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		v, err := fn(ctx)
		ch <- answer{v, err}
	}()
	select {
	case a := <-ch:
		return a.v, a.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
