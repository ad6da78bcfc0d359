package model

import "time"

// Submission is write-once: its presence on a team is the lock.
type Submission struct {
	TeamID      string    `json:"team_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
}
