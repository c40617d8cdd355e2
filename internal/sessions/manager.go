// Package sessions runs sync sessions: the save, commit, authenticate, pull,
// resolve, push and notify sequence against one repository, one session per
// repository at a time.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/oklog/ulid/v2"

	"github.com/joescharf/modelrepo/internal/auth"
	"github.com/joescharf/modelrepo/internal/conflict"
	"github.com/joescharf/modelrepo/internal/models"
	"github.com/joescharf/modelrepo/internal/repo"
)

// Manager starts sync sessions and drives them to a terminal phase.
type Manager struct {
	prompter  Prompter
	document  Document
	creds     auth.CredentialProvider
	proxy     auth.ProxyResolver
	suggester Suggester
	recorder  Recorder
	policy    conflict.Policy
	log       *slog.Logger
	newID     func() string
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDocument sets the open model checked for unsaved edits.
func WithDocument(d Document) Option { return func(m *Manager) { m.document = d } }

// WithCredentials sets the credential provider.
func WithCredentials(p auth.CredentialProvider) Option { return func(m *Manager) { m.creds = p } }

// WithProxy sets the proxy resolver.
func WithProxy(p auth.ProxyResolver) Option { return func(m *Manager) { m.proxy = p } }

// WithSuggester sets the commit message suggester.
func WithSuggester(s Suggester) Option { return func(m *Manager) { m.suggester = s } }

// WithRecorder sets where finished sessions are recorded.
func WithRecorder(r Recorder) Option { return func(m *Manager) { m.recorder = r } }

// WithPolicy sets how conflicts left unresolved are finalized.
func WithPolicy(p conflict.Policy) Option {
	return func(m *Manager) {
		if p != "" {
			m.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithIDGenerator overrides how session IDs are made.
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

// NewManager creates a manager that asks p for every user decision.
func NewManager(p Prompter, opts ...Option) *Manager {
	m := &Manager{
		prompter: p,
		policy:   conflict.PolicyOurs,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:    func() string { return ulid.Make().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start locks h and runs a session on its own goroutine. It fails at once
// with repo.ErrSessionBusy when h already has a session. Cancelling ctx
// cancels the session.
func (m *Manager) Start(ctx context.Context, h *repo.Handle, dir Direction) (*Session, error) {
	id := m.newID()
	guard, err := h.Acquire(id)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	s := newSession(id, dir, h, cancel)
	go m.drive(sctx, s, guard)
	return s, nil
}

// RunPull runs a pull session and waits for it. The error is non-nil when
// the handle is busy or the session failed; a cancelled session returns its
// outcome and a nil error.
func (m *Manager) RunPull(ctx context.Context, h *repo.Handle) (*Outcome, error) {
	return m.runAndWait(ctx, h, DirectionPull)
}

// RunPush runs a pull followed, only if the pull succeeded, by a push.
func (m *Manager) RunPush(ctx context.Context, h *repo.Handle) (*Outcome, error) {
	return m.runAndWait(ctx, h, DirectionPush)
}

func (m *Manager) runAndWait(ctx context.Context, h *repo.Handle, dir Direction) (*Outcome, error) {
	s, err := m.Start(ctx, h, dir)
	if err != nil {
		return nil, err
	}
	out := s.Wait()
	if out.Status == StatusError {
		return out, out.Err
	}
	return out, nil
}

// run is the worker-owned state of one session.
type run struct {
	m   *Manager
	s   *Session
	h   *repo.Handle
	eng repo.Engine
	log *slog.Logger

	phase        Phase
	branch       string
	creds        repo.Credentials
	proxy        *repo.ProxyConfig
	merge        repo.MergeOutcome
	mergePending bool
	failure      error
	out          *Outcome
}

func (m *Manager) drive(ctx context.Context, s *Session, guard *repo.Guard) {
	r := &run{
		m:     m,
		s:     s,
		h:     s.handle,
		eng:   s.handle.Engine(),
		log:   m.log.With("session", s.ID, "repo", s.handle.Path, "direction", string(s.Direction)),
		phase: PhaseInit,
		out: &Outcome{
			SessionID: s.ID,
			Direction: s.Direction,
			StartedAt: m.now(),
		},
	}

	defer func() {
		if p := recover(); p != nil {
			r.failure = sessionErr(r.phase, ErrRepository, fmt.Errorf("panic: %v", p))
			r.phase = PhaseFailed
			s.enter(PhaseFailed)
		}
		r.finish(ctx)
		if err := guard.Release(); err != nil {
			r.log.Warn("release repository lock", "error", err)
		}
		s.cancel()
		s.finish(r.out)
	}()

	r.log.Debug("session started")
	for !r.phase.Terminal() {
		res := r.step(ctx)
		if res.kind == resultFailed {
			r.failure = res.err
		}
		next := transition(s.Direction, r.phase, res)
		if next == PhaseFailed && r.failure == nil {
			r.failure = sessionErr(r.phase, ErrRepository, fmt.Errorf("no transition from %s", r.phase))
		}
		r.log.Debug("phase", "from", string(r.phase), "to", string(next))
		r.phase = next
		s.enter(next)
	}
}

// step runs the current phase. Cancellation is checked at every phase
// boundary up to the push; once the remote accepted the push the session
// completes.
func (r *run) step(ctx context.Context) stepResult {
	if r.phase != PhaseNotify && ctx.Err() != nil {
		return stepCancelled()
	}
	switch r.phase {
	case PhaseInit:
		return stepOK()
	case PhaseSavePrompt:
		return r.savePrompt(ctx)
	case PhaseCommitPrompt:
		return r.commitPrompt(ctx)
	case PhaseCredentials:
		return r.credentials(ctx)
	case PhaseProxyConfig:
		return r.proxyConfig(ctx)
	case PhasePull:
		return r.pull(ctx)
	case PhaseResolve:
		return r.resolve(ctx)
	case PhaseMergeCommit:
		return r.mergeCommit(ctx)
	case PhasePush:
		return r.push(ctx)
	case PhaseNotify:
		return r.notify()
	}
	return r.fail(ErrRepository, fmt.Errorf("unknown phase %s", r.phase))
}

func (r *run) fail(kind, err error) stepResult {
	return stepFailed(sessionErr(r.phase, kind, err))
}

// interrupted maps an error from a blocking call made while ctx may have
// been cancelled.
func (r *run) interrupted(ctx context.Context, err error, kind error) stepResult {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return stepCancelled()
	}
	return r.fail(kind, err)
}

func (r *run) savePrompt(ctx context.Context) stepResult {
	doc := r.m.document
	if doc == nil || !doc.IsDirty() {
		return stepNoChange()
	}
	save, err := await(ctx, r.m.prompter.PromptSave)
	if err != nil {
		return r.interrupted(ctx, err, ErrIO)
	}
	if !save {
		r.log.Info("continuing with the saved state on disk")
		return stepNoChange()
	}
	if err := doc.Save(ctx); err != nil {
		return r.fail(ErrIO, fmt.Errorf("save model: %w", err))
	}
	return stepOK()
}

type commitAnswer struct {
	msg string
	ok  bool
}

func (r *run) commitPrompt(ctx context.Context) stepResult {
	dirty, err := r.eng.HasLocalChanges(ctx)
	if err != nil {
		return r.fail(ErrRepository, err)
	}
	if !dirty {
		return stepNoChange()
	}
	changed, err := r.eng.ChangedPaths(ctx)
	if err != nil {
		return r.fail(ErrRepository, err)
	}

	suggestion := r.suggest(ctx, changed)
	a, err := await(ctx, func(ctx context.Context) (commitAnswer, error) {
		msg, ok, err := r.m.prompter.PromptCommitMessage(ctx, changed, suggestion)
		return commitAnswer{msg, ok}, err
	})
	if err != nil {
		return r.interrupted(ctx, err, ErrIO)
	}
	msg := strings.TrimSpace(a.msg)
	if !a.ok || msg == "" {
		r.log.Info("commit declined")
		return stepCancelled()
	}

	id, err := r.eng.Commit(ctx, msg)
	if err != nil {
		return r.fail(ErrRepository, fmt.Errorf("commit local changes: %w", err))
	}
	r.out.CommitID = id
	r.log.Info("committed local changes", "commit", id, "paths", len(changed))
	return stepOK()
}

func (r *run) suggest(ctx context.Context, changed []string) string {
	if r.m.suggester == nil {
		return ""
	}
	msg, err := await(ctx, func(ctx context.Context) (string, error) {
		return r.m.suggester.SuggestCommitMessage(ctx, changed)
	})
	if err != nil {
		r.log.Debug("no commit message suggestion", "error", err)
		return ""
	}
	return msg
}

func (r *run) credentials(ctx context.Context) stepResult {
	if r.m.creds == nil {
		return stepNoChange()
	}
	c, err := await(ctx, func(ctx context.Context) (repo.Credentials, error) {
		return r.m.creds.Credentials(ctx, r.h.RemoteURL)
	})
	switch {
	case err == nil:
		r.creds = c
		return stepOK()
	case errors.Is(err, auth.ErrNoCredentials) && !auth.NeedsCredentials(r.h.RemoteURL):
		return stepNoChange()
	default:
		return r.interrupted(ctx, err, ErrAuthentication)
	}
}

func (r *run) proxyConfig(ctx context.Context) stepResult {
	if r.m.proxy == nil {
		return stepNoChange()
	}
	pc, err := r.m.proxy.Proxy(ctx, r.h.RemoteURL)
	if err != nil {
		return r.interrupted(ctx, err, ErrAuthentication)
	}
	if pc == nil {
		return stepNoChange()
	}
	r.proxy = pc
	return stepOK()
}

func (r *run) pull(ctx context.Context) stepResult {
	branch, err := r.eng.CurrentBranch(ctx)
	if err != nil {
		return r.fail(ErrRepository, err)
	}
	r.branch = branch

	ref, err := r.eng.Fetch(ctx, r.h.Remote, r.creds, r.proxy)
	if ctx.Err() != nil {
		// The engine keeps refs unchanged on an interrupted fetch; a fetch
		// that finished anyway is simply not merged.
		return stepCancelled()
	}
	if err != nil {
		return r.fail(transportKind(err), err)
	}

	mo, err := r.eng.MergeInto(ctx, branch, ref)
	if err != nil {
		return r.fail(ErrRepository, fmt.Errorf("merge %s: %w", ref.Name, err))
	}
	r.merge = mo
	r.log.Info("pulled", "result", string(mo.Kind), "remote", ref.Hash)

	switch mo.Kind {
	case repo.MergeUpToDate:
		r.out.Pull = PullNoOp
		return stepNoChange()
	case repo.MergeFastForward:
		r.out.Pull = PullUpdated
		return stepOK()
	case repo.MergeClean:
		r.mergePending = true
		return stepMerged()
	case repo.MergeConflicts:
		r.mergePending = true
		r.out.Conflicts = mo.ConflictPaths()
		return stepConflicts()
	}
	return r.fail(ErrRepository, fmt.Errorf("unknown merge result %q", mo.Kind))
}

func (r *run) resolve(ctx context.Context) stepResult {
	set := conflict.Load(r.out.Conflicts)
	set.Policy = r.m.policy
	for _, c := range r.merge.Conflicts {
		if c.Kind == repo.ConflictDeleteModify {
			if err := set.FlagDeleteModify(c.Path); err != nil {
				return r.fail(ErrConflicts, err)
			}
		}
	}

	resolved, err := await(ctx, func(ctx context.Context) (*conflict.Set, error) {
		return r.m.prompter.PresentConflicts(ctx, set)
	})
	if err != nil {
		return r.interrupted(ctx, err, ErrConflicts)
	}
	if resolved == nil {
		resolved = set
	}
	if !resolved.SamePaths(set) {
		return r.fail(ErrConflicts, errors.New("conflict set returned with different paths"))
	}
	// A prompter may hand back a fresh set; policy and delete/modify flags
	// come from the session, not from it.
	resolved.Policy = r.m.policy
	for _, c := range r.merge.Conflicts {
		if c.Kind == repo.ConflictDeleteModify {
			_ = resolved.FlagDeleteModify(c.Path)
		}
	}
	if ctx.Err() != nil {
		return stepCancelled()
	}

	part, err := conflict.Apply(ctx, resolved, r.eng)
	if err != nil {
		if errors.Is(err, conflict.ErrPartialApply) {
			return r.fail(ErrIO, err)
		}
		return r.fail(ErrConflicts, err)
	}

	theirs := part.Theirs.ToSlice()
	sort.Strings(theirs)
	r.out.Theirs = theirs
	r.out.Defaulted = part.Defaulted
	if len(part.Defaulted) > 0 {
		r.log.Warn("undecided conflicts resolved by policy", "policy", string(resolved.Policy),
			"paths", strings.Join(part.Defaulted, ", "))
	}
	return stepOK()
}

func (r *run) mergeCommit(ctx context.Context) stepResult {
	msg := fmt.Sprintf("Merge %s/%s into %s", r.h.Remote, r.branch, r.branch)
	id, err := r.eng.CommitMerge(context.WithoutCancel(ctx), []string{r.merge.Local, r.merge.Remote}, msg)
	if err != nil {
		return r.fail(ErrRepository, err)
	}
	r.mergePending = false
	r.out.MergeCommitID = id
	if len(r.out.Conflicts) > 0 {
		r.out.Pull = PullConflictsResolved
	} else {
		r.out.Pull = PullUpdated
	}
	r.log.Info("merge committed", "commit", id)
	return stepOK()
}

func (r *run) push(ctx context.Context) stepResult {
	if r.out.Pull == PullNone {
		return r.fail(ErrRepository, errors.New("push requires a completed pull"))
	}
	po, err := r.eng.Push(ctx, r.h.Remote, r.creds, r.proxy)
	if err != nil {
		return r.interrupted(ctx, err, transportKind(err))
	}
	if !po.Accepted {
		return r.fail(ErrPushRejected, errors.New(po.Reason))
	}
	r.log.Info("pushed", "branch", r.branch)
	return stepOK()
}

func (r *run) notify() stepResult {
	kind := repo.HistoryChanged
	if r.s.Direction == DirectionPull && r.out.Pull != PullNoOp {
		kind = repo.ModelChanged
	}
	ev := repo.Event{Kind: kind, Source: r.h, SessionID: r.s.ID}
	if err := r.h.Notifier().Publish(ev); err != nil {
		r.log.Warn("listener failed", "event", string(kind), "error", err)
	}
	return stepOK()
}

// finish aborts a merge left pending, fills the outcome, reports a failure
// and records the session.
func (r *run) finish(ctx context.Context) {
	bg := context.WithoutCancel(ctx)

	if r.mergePending && r.phase != PhaseDone {
		if err := r.eng.AbortMerge(bg); err != nil {
			r.log.Error("abort merge", "error", err)
			if r.failure != nil {
				r.failure = errors.Join(r.failure, fmt.Errorf("abort merge: %w", err))
			}
		} else {
			r.log.Info("merge aborted, working copy reset")
		}
		r.mergePending = false
	}

	r.out.EndedAt = r.m.now()
	r.out.Trace = r.s.traceCopy()
	switch r.phase {
	case PhaseDone:
		r.out.Status = StatusSuccess
	case PhaseCancelled:
		r.out.Status = StatusCancelled
	default:
		r.out.Status = StatusError
		r.out.Err = r.failure
	}

	switch r.out.Status {
	case StatusError:
		r.log.Error("session failed", "error", r.failure)
		_, _ = await(bg, func(ctx context.Context) (struct{}, error) {
			r.m.prompter.DisplayError(ctx, failedPhase(r.failure), r.failure)
			return struct{}{}, nil
		})
	case StatusCancelled:
		r.log.Info("session cancelled")
	default:
		r.log.Info("session finished", "pull", string(r.out.Pull))
	}

	if r.m.recorder != nil {
		if err := r.m.recorder.RecordSync(bg, r.h.Path, r.out.Record()); err != nil {
			r.log.Warn("record session", "error", err)
		}
	}
}

func failedPhase(err error) Phase {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Phase
	}
	return PhaseFailed
}

func transportKind(err error) error {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return ErrAuthentication
	}
	return ErrNetwork
}

// Record converts the outcome to a history record.
func (o *Outcome) Record() *models.SyncRecord {
	rec := &models.SyncRecord{
		ID:         o.SessionID,
		Direction:  models.SyncDirection(o.Direction),
		Status:     models.SyncStatus(o.Status),
		PullResult: string(o.Pull),
		Conflicts:  o.Conflicts,
		Theirs:     o.Theirs,
		Defaulted:  o.Defaulted,
		CommitID:   o.MergeCommitID,
		StartedAt:  o.StartedAt,
		EndedAt:    o.EndedAt,
	}
	if rec.CommitID == "" {
		rec.CommitID = o.CommitID
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
		rec.Phase = string(failedPhase(o.Err))
	} else if n := len(o.Trace); n > 0 {
		rec.Phase = string(o.Trace[n-1])
	}
	return rec
}
