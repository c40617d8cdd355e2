package models

import "time"

// SyncDirection is the kind of sync session.
type SyncDirection string

const (
	SyncDirectionPull SyncDirection = "pull"
	SyncDirectionPush SyncDirection = "push"
)

// SyncStatus is the terminal status of a sync session.
type SyncStatus string

const (
	SyncStatusSuccess   SyncStatus = "success"
	SyncStatusError     SyncStatus = "error"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// SyncRecord is the history entry for one finished sync session.
type SyncRecord struct {
	ID           string
	RepositoryID string
	Direction    SyncDirection
	Status       SyncStatus
	Phase        string // last phase reached
	PullResult   string
	Conflicts    []string
	Theirs       []string
	Defaulted    []string
	CommitID     string
	Error        string
	StartedAt    time.Time
	EndedAt      time.Time
}
