package models

import "time"

// DiffStatus tracks a file change staged by an agent.
type DiffStatus string

const (
	DiffPending  DiffStatus = "pending"
	DiffApplied  DiffStatus = "applied"
	DiffRejected DiffStatus = "rejected"
	DiffReverted DiffStatus = "reverted"
)

// Diff is a persisted file change. Content fields are cleared once applied changes age out.
type Diff struct {
	ID         string     `json:"id" db:"id"`
	SessionID  string     `json:"session_id" db:"session_id"`
	ApprovalID string     `json:"approval_id,omitempty" db:"approval_id"`
	FilePath   string     `json:"file_path" db:"file_path"`
	OldContent *string    `json:"old_content,omitempty" db:"old_content"`
	NewContent *string    `json:"new_content,omitempty" db:"new_content"`
	FullText   *string    `json:"full_text,omitempty" db:"full_text"`
	Status     DiffStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// HasContent reports whether any large field is still populated.
func (d *Diff) HasContent() bool {
	return d.OldContent != nil || d.NewContent != nil || d.FullText != nil
}
