package model

import (
	"regexp"
	"time"
)

type TeamStatus string

const (
	TeamStatusForming   TeamStatus = "forming"
	TeamStatusFinalized TeamStatus = "finalized"
)

// teamNamePattern bounds team names to a lowercase slug, 3..32 chars.
var teamNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{2,31}$`)

func ValidTeamName(name string) bool {
	return teamNamePattern.MatchString(name)
}

type Team struct {
	ID                         string        `json:"id"`
	EventID                    string        `json:"event_id"`
	Name                       string        `json:"name"`
	MemberLimit                int           `json:"member_limit"`
	LeaderID                   string        `json:"leader_id"`
	Status                     TeamStatus    `json:"status"`
	SelectedProblemStatementID *string       `json:"selected_problem_statement_id,omitempty"`
	SelectionLocked            bool          `json:"selection_locked"`
	Members                    []*TeamMember `json:"members,omitempty"`
}

type TeamMember struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	JoinedAt      time.Time `json:"joined_at"`
}
