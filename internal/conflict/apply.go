package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrPartialApply wraps failures that happened after Apply started writing.
// The working copy must be reset before the result can be trusted.
var ErrPartialApply = errors.New("conflict resolution partially applied")

// DeleteModifyConflictError lists paths deleted on one side and modified on
// the other. They need manual handling.
type DeleteModifyConflictError struct {
	Paths []string
}

func (e *DeleteModifyConflictError) Error() string {
	return fmt.Sprintf("delete/modify conflict on %s: resolve manually", strings.Join(e.Paths, ", "))
}

// Stager is the part of the engine Apply writes through.
type Stager interface {
	// CheckoutTheirs overwrites the working-copy file with the incoming version.
	CheckoutTheirs(ctx context.Context, path string) error
	// StageResolved marks the working-copy content of path as resolved.
	StageResolved(ctx context.Context, path string) error
}

// Apply finalizes set and writes the decisions through st: Theirs paths get
// the remote content, Ours paths keep the local content, and every path is
// staged. Once writing starts it runs to completion regardless of ctx.
func Apply(ctx context.Context, set *Set, st Stager) (Partition, error) {
	if set.Empty() {
		return Partition{
			Ours:   mapset.NewThreadUnsafeSet[string](),
			Theirs: mapset.NewThreadUnsafeSet[string](),
		}, nil
	}

	var dm []string
	for _, e := range set.Entries() {
		if e.DeleteModify {
			dm = append(dm, e.Path)
		}
	}
	if len(dm) > 0 {
		return Partition{}, &DeleteModifyConflictError{Paths: dm}
	}

	part, err := set.Finalize()
	if err != nil {
		return Partition{}, err
	}

	ctx = context.WithoutCancel(ctx)

	for _, p := range sorted(part.Theirs) {
		if err := st.CheckoutTheirs(ctx, p); err != nil {
			return part, fmt.Errorf("%w: checkout theirs %s: %w", ErrPartialApply, p, err)
		}
		if err := st.StageResolved(ctx, p); err != nil {
			return part, fmt.Errorf("%w: stage %s: %w", ErrPartialApply, p, err)
		}
	}
	for _, p := range sorted(part.Ours) {
		if err := st.StageResolved(ctx, p); err != nil {
			return part, fmt.Errorf("%w: stage %s: %w", ErrPartialApply, p, err)
		}
	}
	return part, nil
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}
