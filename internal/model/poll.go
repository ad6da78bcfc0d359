package model

import (
	"slices"
	"time"
)

type PollStatus string

const (
	PollStatusActive    PollStatus = "active"
	PollStatusConcluded PollStatus = "concluded"
)

type Poll struct {
	ID               string     `json:"id"`
	TeamID           string     `json:"team_id"`
	CandidateOptions []string   `json:"candidate_options"`
	StartedAt        time.Time  `json:"started_at"`
	DurationMinutes  int        `json:"duration_minutes"`
	EndsAt           time.Time  `json:"ends_at"`
	Status           PollStatus `json:"status"`
	Result           *string    `json:"result,omitempty"`
	ConcludedAt      *time.Time `json:"concluded_at,omitempty"`
}

func (p *Poll) HasOption(optionID string) bool {
	return slices.Contains(p.CandidateOptions, optionID)
}

// Expired reports whether the poll deadline has passed. Status is checked
// separately; an active poll past EndsAt must behave as concluded.
func (p *Poll) Expired(now time.Time) bool {
	return !now.Before(p.EndsAt)
}

// Vote is a participant's current choice in a poll. Re-voting overwrites
// the row and refreshes CastAt.
type Vote struct {
	PollID   string    `json:"poll_id"`
	VoterID  string    `json:"voter_id"`
	OptionID string    `json:"option_id"`
	CastAt   time.Time `json:"cast_at"`
}

type TallyEntry struct {
	OptionID string `json:"option_id"`
	Votes    int    `json:"votes"`
}
