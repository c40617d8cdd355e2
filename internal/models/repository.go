package models

import "time"

// Repository is a registered model working copy.
type Repository struct {
	ID        string
	Name      string
	Path      string
	RemoteURL string
	Remote    string
	Branch    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
