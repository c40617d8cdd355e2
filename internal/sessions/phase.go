package sessions

// Direction is what a session does: pull only, or pull then push.
type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

// Phase is a state of the sync state machine.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseSavePrompt   Phase = "save_prompt"
	PhaseCommitPrompt Phase = "commit_prompt"
	PhaseCredentials  Phase = "credentials"
	PhaseProxyConfig  Phase = "proxy_config"
	PhasePull         Phase = "pull"
	PhaseResolve      Phase = "resolve"
	PhaseMergeCommit  Phase = "merge_commit"
	PhasePush         Phase = "push"
	PhaseNotify       Phase = "notify"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

// Terminal reports whether no further transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

type resultKind int

const (
	resultOK resultKind = iota
	resultNoChange
	resultMerged    // divergent merge without conflicts, needs a merge commit
	resultConflicts // divergent merge with conflicts, needs resolution
	resultFailed
	resultCancelled
)

// stepResult is what one phase step produced. err is set for resultFailed.
type stepResult struct {
	kind resultKind
	err  error
}

func stepOK() stepResult { return stepResult{kind: resultOK} }
func stepNoChange() stepResult { return stepResult{kind: resultNoChange} }
func stepMerged() stepResult { return stepResult{kind: resultMerged} }
func stepConflicts() stepResult { return stepResult{kind: resultConflicts} }
func stepCancelled() stepResult { return stepResult{kind: resultCancelled} }
func stepFailed(err error) stepResult { return stepResult{kind: resultFailed, err: err} }

// transition returns the phase that follows p given its result. It has no
// side effects; every ordering rule of a session lives here. A result that
// makes no sense for p fails the session.
func transition(dir Direction, p Phase, r stepResult) Phase {
	if p.Terminal() {
		return p
	}
	switch r.kind {
	case resultFailed:
		return PhaseFailed
	case resultCancelled:
		return PhaseCancelled
	}

	afterPull := PhaseNotify
	if dir == DirectionPush {
		afterPull = PhasePush
	}

	switch p {
	case PhaseInit:
		return PhaseSavePrompt
	case PhaseSavePrompt:
		return PhaseCommitPrompt
	case PhaseCommitPrompt:
		return PhaseCredentials
	case PhaseCredentials:
		return PhaseProxyConfig
	case PhaseProxyConfig:
		return PhasePull
	case PhasePull:
		switch r.kind {
		case resultConflicts:
			return PhaseResolve
		case resultMerged:
			return PhaseMergeCommit
		default:
			return afterPull
		}
	case PhaseResolve:
		if r.kind == resultOK {
			return PhaseMergeCommit
		}
	case PhaseMergeCommit:
		if r.kind == resultOK {
			return afterPull
		}
	case PhasePush:
		if r.kind == resultOK {
			return PhaseNotify
		}
	case PhaseNotify:
		return PhaseDone
	}
	return PhaseFailed
}
