package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/joescharf/modelrepo/internal/conflict"
	"github.com/joescharf/modelrepo/internal/models"
	"github.com/joescharf/modelrepo/internal/repo"
)

const (
	localHead  = "1111111111111111111111111111111111111111"
	remoteHead = "2222222222222222222222222222222222222222"
	staleHead  = "0000000000000000000000000000000000000000"
)

// fakeEngine is an in-memory repo.Engine that records every call.
type fakeEngine struct {
	mu sync.Mutex

	changed []string

	fetchRef     repo.Ref
	fetchErr     error
	fetchStarted chan struct{} // closed when Fetch is entered
	fetchBlock   chan struct{} // Fetch waits for this or ctx

	merge    repo.MergeOutcome
	mergeErr error

	checkoutErr map[string]error
	pushOutcome repo.PushOutcome
	pushErr     error

	// trackingRef is the local copy of the remote ref; Fetch moves it only
	// when it completes.
	trackingRef string

	calls        []string
	fetchCreds   repo.Credentials
	commitMsgs   []string
	checkedOut   []string
	staged       []string
	mergeParents []string
	aborts       int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		fetchRef:    repo.Ref{Name: "refs/remotes/origin/main", Hash: remoteHead},
		merge:       repo.MergeOutcome{Kind: repo.MergeUpToDate, Local: localHead, Remote: remoteHead},
		pushOutcome: repo.PushOutcome{Accepted: true},
		trackingRef: staleHead,
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEngine) CurrentBranch(context.Context) (string, error) { return "main", nil }

func (f *fakeEngine) Head(context.Context) (string, error) { return localHead, nil }

func (f *fakeEngine) HasLocalChanges(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changed) > 0, nil
}

func (f *fakeEngine) ChangedPaths(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.changed...), nil
}

func (f *fakeEngine) Commit(_ context.Context, message string) (string, error) {
	f.record("commit")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitMsgs = append(f.commitMsgs, message)
	f.changed = nil
	return localHead, nil
}

func (f *fakeEngine) Fetch(ctx context.Context, _ string, creds repo.Credentials, _ *repo.ProxyConfig) (repo.Ref, error) {
	f.record("fetch")
	f.mu.Lock()
	f.fetchCreds = creds
	started, block := f.fetchStarted, f.fetchBlock
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return repo.Ref{}, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return repo.Ref{}, f.fetchErr
	}
	f.mu.Lock()
	f.trackingRef = f.fetchRef.Hash
	f.mu.Unlock()
	return f.fetchRef, nil
}

func (f *fakeEngine) MergeInto(context.Context, string, repo.Ref) (repo.MergeOutcome, error) {
	f.record("merge")
	return f.merge, f.mergeErr
}

func (f *fakeEngine) CheckoutTheirs(_ context.Context, path string) error {
	f.record("checkout_theirs")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkoutErr[path]; err != nil {
		return err
	}
	f.checkedOut = append(f.checkedOut, path)
	return nil
}

func (f *fakeEngine) StageResolved(_ context.Context, path string) error {
	f.record("stage")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, path)
	return nil
}

func (f *fakeEngine) CommitMerge(_ context.Context, parents []string, _ string) (string, error) {
	f.record("commit_merge")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeParents = append([]string(nil), parents...)
	return "3333333333333333333333333333333333333333", nil
}

func (f *fakeEngine) AbortMerge(context.Context) error {
	f.record("abort_merge")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	return nil
}

func (f *fakeEngine) Push(context.Context, string, repo.Credentials, *repo.ProxyConfig) (repo.PushOutcome, error) {
	f.record("push")
	return f.pushOutcome, f.pushErr
}

// spyPrompter answers prompts from fields and records what it was asked.
type spyPrompter struct {
	mu sync.Mutex

	save      bool
	commitMsg string
	commitOK  bool
	decide    func(*conflict.Set) error
	present   chan struct{} // closed when PresentConflicts is entered
	holdAsk   bool          // PresentConflicts waits for ctx

	saveCalls     int
	commitChanged []string
	suggestion    string
	presented     []*conflict.Set
	displayed     []error
	displayPhases []Phase
}

func (p *spyPrompter) PromptSave(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveCalls++
	return p.save, nil
}

func (p *spyPrompter) PromptCommitMessage(_ context.Context, changed []string, suggestion string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitChanged = changed
	p.suggestion = suggestion
	return p.commitMsg, p.commitOK, nil
}

func (p *spyPrompter) PresentConflicts(ctx context.Context, set *conflict.Set) (*conflict.Set, error) {
	p.mu.Lock()
	p.presented = append(p.presented, set)
	decide, entered, hold := p.decide, p.present, p.holdAsk
	p.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if decide != nil {
		if err := decide(set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (p *spyPrompter) DisplayError(_ context.Context, phase Phase, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayed = append(p.displayed, err)
	p.displayPhases = append(p.displayPhases, phase)
}

func (p *spyPrompter) Displayed() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.displayed...)
}

func (p *spyPrompter) Presented() []*conflict.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*conflict.Set(nil), p.presented...)
}

type recordingListener struct {
	mu     sync.Mutex
	events []repo.Event
	err    error
}

func (l *recordingListener) OnRepositoryEvent(ev repo.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.err
}

func (l *recordingListener) Events() []repo.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]repo.Event(nil), l.events...)
}

type fakeDocument struct {
	dirty   bool
	saves   int
	saveErr error
}

func (d *fakeDocument) IsDirty() bool { return d.dirty }

func (d *fakeDocument) Save(context.Context) error {
	d.saves++
	if d.saveErr != nil {
		return d.saveErr
	}
	d.dirty = false
	return nil
}

type fakeCreds struct {
	creds repo.Credentials
	err   error
	calls int
}

func (c *fakeCreds) Credentials(context.Context, string) (repo.Credentials, error) {
	c.calls++
	return c.creds, c.err
}

type fakeSuggester struct{ msg string }

func (s fakeSuggester) SuggestCommitMessage(context.Context, []string) (string, error) {
	if s.msg == "" {
		return "", errors.New("no suggestion")
	}
	return s.msg, nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []*models.SyncRecord
	paths   []string
}

func (r *memRecorder) RecordSync(_ context.Context, repoPath string, rec *models.SyncRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, repoPath)
	r.records = append(r.records, rec)
	return nil
}
