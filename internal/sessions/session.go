package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/joescharf/modelrepo/internal/repo"
)

// Status is the terminal status of a session.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// PullResult says what the pull phase did to the working copy.
type PullResult string

const (
	PullNone              PullResult = ""
	PullNoOp              PullResult = "no_op"
	PullUpdated           PullResult = "updated"
	PullConflictsResolved PullResult = "conflicts_resolved"
)

// Outcome is the terminal result of a session.
type Outcome struct {
	SessionID string
	Direction Direction
	Status    Status
	Pull      PullResult

	// Err is a *SessionError when Status is StatusError, nil otherwise.
	Err error

	// Conflicts lists the paths the merge reported. Theirs holds those
	// resolved with the remote content and Defaulted those nobody decided
	// on, placed by the conflict policy (the local content by default).
	Conflicts []string
	Theirs    []string
	Defaulted []string

	CommitID      string // local commit created before pulling
	MergeCommitID string
	Trace         []Phase
	StartedAt     time.Time
	EndedAt       time.Time
}

// Session is one running sync. It is driven by its own goroutine; callers
// observe it through Phase, Done and Wait and stop it with Cancel.
type Session struct {
	ID        string
	Direction Direction

	handle *repo.Handle
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	phase   Phase
	trace   []Phase
	outcome *Outcome
}

func newSession(id string, dir Direction, h *repo.Handle, cancel context.CancelFunc) *Session {
	return &Session{
		ID:        id,
		Direction: dir,
		handle:    h,
		cancel:    cancel,
		done:      make(chan struct{}),
		phase:     PhaseInit,
		trace:     []Phase{PhaseInit},
	}
}

// Handle returns the repository the session runs against.
func (s *Session) Handle() *repo.Handle { return s.handle }

// Phase returns the phase the session is in.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Cancel asks the session to stop at the next cancellation point. It does
// not wait.
func (s *Session) Cancel() { s.cancel() }

// Done is closed once the session has finished and released its lock.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session finishes and returns its outcome.
func (s *Session) Wait() *Outcome {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) enter(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	s.trace = append(s.trace, p)
}

func (s *Session) traceCopy() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Phase(nil), s.trace...)
}

func (s *Session) finish(out *Outcome) {
	s.mu.Lock()
	s.outcome = out
	s.mu.Unlock()
	close(s.done)
}
