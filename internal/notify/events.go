package notify

import "time"

// Kind enumerates every state-change notification this core emits. The set
// is closed so consumers can handle each case exhaustively.
type Kind string

const (
	KindInvitationCreated     Kind = "invitation_created"
	KindRequestCreated        Kind = "request_created"
	KindRequestResolved       Kind = "request_resolved"
	KindMemberAdded           Kind = "member_added"
	KindMemberRemoved         Kind = "member_removed"
	KindLeadershipTransferred Kind = "leadership_transferred"
	KindPollStarted           Kind = "poll_started"
	KindVoteCast              Kind = "vote_cast"
	KindPollConcluded         Kind = "poll_concluded"
	KindPollExpiring          Kind = "poll_expiring"
	KindSelectionLocked       Kind = "selection_locked"
	KindSubmissionCreated     Kind = "submission_created"
)

// Notification is one committed state transition. TeamID and ParticipantID
// key fan-out routing; Payload is the kind-specific struct below.
type Notification struct {
	Kind          Kind      `json:"kind"`
	EventID       string    `json:"event_id"`
	TeamID        string    `json:"team_id,omitempty"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload,omitempty"`
}

type RequestPayload struct {
	RequestID string `json:"request_id"`
	Direction string `json:"direction"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Status    string `json:"status,omitempty"`
}

type MembershipPayload struct {
	TeamID        string `json:"team_id"`
	ParticipantID string `json:"participant_id"`
	NewLeaderID   string `json:"new_leader_id,omitempty"`
}

type PollPayload struct {
	PollID           string    `json:"poll_id"`
	CandidateOptions []string  `json:"candidate_options,omitempty"`
	EndsAt           time.Time `json:"ends_at,omitempty"`
	OptionID         string    `json:"option_id,omitempty"`
	Result           string    `json:"result,omitempty"`
	MinutesLeft      int       `json:"minutes_left,omitempty"`
}

type SelectionPayload struct {
	ProblemStatementID string `json:"problem_statement_id"`
}

type SubmissionPayload struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	SubmittedBy string `json:"submitted_by"`
}
