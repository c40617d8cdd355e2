package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/modelrepo/internal/sessions"
)

// ShortID abbreviates a commit hash for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Outcome reports how a finished sync session ended. Failures are reported
// by the prompter when they happen, so only the phase trace is added here.
func (u *UI) Outcome(out *sessions.Outcome) {
	switch out.Status {
	case sessions.StatusCancelled:
		u.Warning("Sync cancelled, working copy left as it was")
		return
	case sessions.StatusError:
		u.VerboseLog("Phases: %s", Trace(out.Trace))
		return
	}

	switch out.Pull {
	case sessions.PullNoOp:
		u.Info("Already up to date")
	case sessions.PullUpdated:
		u.Success("Merged remote changes")
	case sessions.PullConflictsResolved:
		u.Success("Merged remote changes, %d conflict(s) resolved", len(out.Conflicts))
		for _, p := range out.Theirs {
			fmt.Fprintf(u.Out, "  %s %s\n", yellow("theirs"), p)
		}
		for _, p := range out.Defaulted {
			fmt.Fprintf(u.Out, "  %s %s\n", red("undecided"), p)
		}
		if len(out.Defaulted) > 0 {
			u.Warning("%d undecided path(s) were resolved by the conflict policy", len(out.Defaulted))
		}
	}
	if out.CommitID != "" {
		u.VerboseLog("Local commit: %s", ShortID(out.CommitID))
	}
	if out.MergeCommitID != "" {
		u.VerboseLog("Merge commit: %s", ShortID(out.MergeCommitID))
	}
	if out.Direction == sessions.DirectionPush {
		u.Success("Pushed to remote")
	}
	u.VerboseLog("Took %s", out.EndedAt.Sub(out.StartedAt).Round(time.Millisecond))
}

// Trace joins the phases a session went through.
func Trace(trace []sessions.Phase) string {
	parts := make([]string, len(trace))
	for i, p := range trace {
		parts[i] = string(p)
	}
	return strings.Join(parts, " > ")
}
