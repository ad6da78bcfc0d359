package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
)

// asServiceError unwraps the *Error a transaction callback returned
// through the transactor, falling back to UNSPECIFIED for infrastructure
// failures (begin/commit errors and the like).
func asServiceError(err error) *Error {
	if err == nil {
		return nil
	}
	svcErr := &Error{}
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return NewError(ErrorCodeUnspecified, "internal error")
}

func memberOf(ctx context.Context, members repository.MembershipRepository, teamID, participantID string) bool {
	list, err := members.GetMembers(ctx, teamID)
	if err != nil {
		return false
	}
	for _, m := range list {
		if m.ParticipantID == participantID {
			return true
		}
	}
	return false
}

func requestResolvedNotifications(requests []*repository.Request) []notify.Notification {
	notifications := make([]notify.Notification, 0, len(requests))
	for _, r := range requests {
		notifications = append(notifications, notify.Notification{
			Kind:          notify.KindRequestResolved,
			EventID:       r.EventID,
			TeamID:        r.TeamID,
			ParticipantID: requestCandidate(r),
			Payload: notify.RequestPayload{
				RequestID: r.ID,
				Direction: string(r.Direction),
				FromID:    r.FromID,
				ToID:      r.ToID,
				Status:    string(model.RequestStatusInvalidated),
			},
		})
	}
	return notifications
}

// requestCandidate is the non-leader party of a request: the invitee for
// invitations, the requester for join requests.
func requestCandidate(r *repository.Request) string {
	if r.Direction == model.DirectionInvite {
		return r.ToID
	}
	return r.FromID
}
