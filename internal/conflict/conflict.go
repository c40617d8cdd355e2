// Package conflict models the set of conflicting paths produced by one merge
// attempt and the per-path decision to keep the local version or take the
// remote one.
package conflict

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Resolution is the decision recorded for one path.
type Resolution string

const (
	Unresolved Resolution = "unresolved"
	Ours       Resolution = "ours"
	Theirs     Resolution = "theirs"
)

// Policy decides what happens to entries left Unresolved at Finalize.
type Policy string

const (
	// PolicyOurs keeps the local version. Doing nothing discards the remote
	// edit for that path, so Finalize reports every defaulted path.
	PolicyOurs   Policy = "ours"
	PolicyTheirs Policy = "theirs"
	// PolicyReject makes Finalize fail while any entry is unresolved.
	PolicyReject Policy = "reject"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyOurs, nil
	case PolicyOurs, PolicyTheirs, PolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want ours, theirs or reject)", s)
	}
}

// ErrUnresolved is returned by Finalize under PolicyReject.
var ErrUnresolved = errors.New("unresolved conflicts")

// UnknownPathError reports a path that is not a member of the set.
type UnknownPathError struct {
	Path string
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("path %q is not in the conflict set", e.Path)
}

// Entry is one conflicting path.
type Entry struct {
	Path       string
	Resolution Resolution
	// DeleteModify is set when one side deleted the path and the other
	// modified it. Such entries cannot be applied by overwriting.
	DeleteModify bool
}

// Set is the conflicting paths of one merge attempt. Membership is fixed at
// Load; only resolutions change afterwards.
type Set struct {
	Policy  Policy
	entries map[string]*Entry
}

// Load creates a set with one Unresolved entry per distinct path.
func Load(paths []string) *Set {
	s := &Set{
		Policy:  PolicyOurs,
		entries: make(map[string]*Entry, len(paths)),
	}
	for _, p := range paths {
		if _, ok := s.entries[p]; ok {
			continue
		}
		s.entries[p] = &Entry{Path: p, Resolution: Unresolved}
	}
	return s
}

// Len returns the number of entries.
func (s *Set) Len() int { return len(s.entries) }

// Empty reports whether there is nothing to resolve.
func (s *Set) Empty() bool { return len(s.entries) == 0 }

// Paths returns the member paths sorted.
func (s *Set) Paths() []string {
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Entries returns copies of the entries sorted by path.
func (s *Set) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, p := range s.Paths() {
		out = append(out, *s.entries[p])
	}
	return out
}

// Entry returns a copy of the entry for path.
func (s *Set) Entry(path string) (Entry, bool) {
	e, ok := s.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Toggle records Theirs when useTheirs is set and Ours otherwise.
func (s *Set) Toggle(path string, useTheirs bool) error {
	e, ok := s.entries[path]
	if !ok {
		return &UnknownPathError{Path: path}
	}
	if useTheirs {
		e.Resolution = Theirs
	} else {
		e.Resolution = Ours
	}
	return nil
}

// FlagDeleteModify marks path as a delete/modify conflict.
func (s *Set) FlagDeleteModify(path string) error {
	e, ok := s.entries[path]
	if !ok {
		return &UnknownPathError{Path: path}
	}
	e.DeleteModify = true
	return nil
}

// SamePaths reports whether o has exactly the members of s.
func (s *Set) SamePaths(o *Set) bool {
	if o == nil || len(o.entries) != len(s.entries) {
		return false
	}
	for p := range s.entries {
		if _, ok := o.entries[p]; !ok {
			return false
		}
	}
	return true
}

// Unresolved returns the paths still Unresolved, sorted.
func (s *Set) Unresolved() []string {
	var out []string
	for _, p := range s.Paths() {
		if s.entries[p].Resolution == Unresolved {
			out = append(out, p)
		}
	}
	return out
}

// Partition is the final split of a set. Defaulted lists the paths that
// were Unresolved and placed by the policy.
type Partition struct {
	Ours      mapset.Set[string]
	Theirs    mapset.Set[string]
	Defaulted []string
}

// Finalize partitions every path into Ours or Theirs. It does not mutate the
// set, so repeated calls without an intervening Toggle are identical.
func (s *Set) Finalize() (Partition, error) {
	part := Partition{
		Ours:   mapset.NewThreadUnsafeSet[string](),
		Theirs: mapset.NewThreadUnsafeSet[string](),
	}

	policy := s.Policy
	if policy == "" {
		policy = PolicyOurs
	}

	for _, p := range s.Paths() {
		switch s.entries[p].Resolution {
		case Theirs:
			part.Theirs.Add(p)
		case Ours:
			part.Ours.Add(p)
		default:
			part.Defaulted = append(part.Defaulted, p)
			switch policy {
			case PolicyTheirs:
				part.Theirs.Add(p)
			case PolicyReject:
				return Partition{}, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(s.Unresolved(), ", "))
			default:
				part.Ours.Add(p)
			}
		}
	}
	return part, nil
}
