package model

import "time"

type RequestDirection string

const (
	// DirectionInvite: team leader asks a candidate; the candidate resolves.
	// DirectionRequest: candidate asks a team; the leader resolves.
	DirectionInvite  RequestDirection = "invite"
	DirectionRequest RequestDirection = "request"
)

type RequestStatus string

const (
	RequestStatusPending     RequestStatus = "pending"
	RequestStatusAccepted    RequestStatus = "accepted"
	RequestStatusRejected    RequestStatus = "rejected"
	RequestStatusInvalidated RequestStatus = "invalidated"
)

type RequestDecision string

const (
	DecisionAccept RequestDecision = "accept"
	DecisionReject RequestDecision = "reject"
)

// Request models one half of the bidirectional consent flow: an invitation
// or a join request. Terminal once resolved.
type Request struct {
	ID         string           `json:"id"`
	EventID    string           `json:"event_id"`
	TeamID     string           `json:"team_id"`
	Direction  RequestDirection `json:"direction"`
	FromID     string           `json:"from_id"`
	ToID       string           `json:"to_id"`
	Status     RequestStatus    `json:"status"`
	Message    string           `json:"message,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

func (r *Request) Pending() bool {
	return r.Status == RequestStatusPending
}

// Resolver returns the participant whose decision resolves this request.
func (r *Request) Resolver(teamLeaderID string) string {
	if r.Direction == DirectionInvite {
		return r.ToID
	}
	return teamLeaderID
}
