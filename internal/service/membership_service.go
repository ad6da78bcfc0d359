package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/pkg/logger"
)

// MembershipService is the single source of truth for "does this
// participant have a team". Assign and Remove expect to run inside the
// caller's transaction with the team row already locked; they take the
// participant row lock themselves, so two acceptances for the same
// candidate serialize even when they target different teams.
type MembershipService struct {
	participants repository.ParticipantRepository
	members      repository.MembershipRepository
	teams        repository.TeamRepository
	requests     repository.RequestRepository
}

func NewMembershipService() *MembershipService {
	return &MembershipService{}
}

// Assign commits a join: re-checks exclusivity and capacity at commit
// time, writes both sides of the relation and bulk-invalidates every
// other pending request touching the participant. acceptedRequestID, when
// non-empty, is left out of the invalidation so the accepting flow can
// resolve it as accepted. Returns the invalidated requests so the caller
// can announce them after commit.
func (m *MembershipService) Assign(ctx context.Context, team *repository.Team, participantID, acceptedRequestID string, now time.Time) ([]*repository.Request, *Error) {
	l := logger.FromContext(ctx)

	participant, err := m.participants.GetForUpdate(ctx, participantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "participant not found")
	}
	if err != nil {
		l.Error("failed to lock participant", zap.String("participant_id", participantID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to read participant")
	}

	if participant.TeamID != nil {
		return nil, NewError(ErrorCodeAlreadyMember, "participant already belongs to a team in this event")
	}

	count, err := m.members.CountMembers(ctx, team.ID)
	if err != nil {
		l.Error("failed to count members", zap.String("team_id", team.ID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to count team members")
	}
	if count >= team.MemberLimit {
		return nil, NewError(ErrorCodeTeamFull, "team is at member limit")
	}

	if err = m.members.Add(ctx, team.ID, participantID, now); err != nil {
		l.Error("failed to add member", zap.String("team_id", team.ID), zap.String("participant_id", participantID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to add team member")
	}

	if err = m.participants.SetTeam(ctx, participantID, &team.ID); err != nil {
		l.Error("failed to set participant team", zap.String("participant_id", participantID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to update participant")
	}

	invalidated, err := m.requests.InvalidatePendingFor(ctx, team.EventID, participantID, acceptedRequestID, now)
	if err != nil {
		l.Error("failed to invalidate pending requests", zap.String("participant_id", participantID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to invalidate pending requests")
	}

	l.Debug("participant assigned",
		zap.String("team_id", team.ID),
		zap.String("participant_id", participantID),
		zap.Int("invalidated_requests", len(invalidated)))

	return invalidated, nil
}

// Remove takes a member off the roster and clears the reverse pointer.
// When the departing member is the leader and others remain, leadership
// transfers to the earliest-joined remaining member before the removal
// commits, so the team is never leaderless while populated. Returns the
// new leader id, or "" when no transfer happened.
func (m *MembershipService) Remove(ctx context.Context, team *repository.Team, participantID string) (string, *Error) {
	l := logger.FromContext(ctx)

	newLeaderID := ""
	if team.LeaderID == participantID {
		successor, err := m.members.OldestMember(ctx, team.ID, participantID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// Last member out; the team keeps its stale leader id but has
			// no members, which the leader-existence invariant permits.
		case err != nil:
			l.Error("failed to find successor", zap.String("team_id", team.ID), zap.Error(err))
			return "", NewError(ErrorCodeUnspecified, "failed to find leadership successor")
		default:
			if _, err = m.teams.Patch(ctx, &repository.TeamPatch{
				ID:       team.ID,
				LeaderID: &successor.ParticipantID,
			}); err != nil {
				l.Error("failed to transfer leadership", zap.String("team_id", team.ID), zap.Error(err))
				return "", NewError(ErrorCodeUnspecified, "failed to transfer leadership")
			}
			newLeaderID = successor.ParticipantID
		}
	}

	if err := m.members.Remove(ctx, team.ID, participantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", NewError(ErrorCodeNotAMember, "participant is not a member of this team")
		}
		l.Error("failed to remove member", zap.String("team_id", team.ID), zap.String("participant_id", participantID), zap.Error(err))
		return "", NewError(ErrorCodeUnspecified, "failed to remove team member")
	}

	if err := m.participants.SetTeam(ctx, participantID, nil); err != nil {
		l.Error("failed to clear participant team", zap.String("participant_id", participantID), zap.Error(err))
		return "", NewError(ErrorCodeUnspecified, "failed to update participant")
	}

	return newLeaderID, nil
}

// TeamOf resolves the participant's current team id, nil when teamless.
func (m *MembershipService) TeamOf(ctx context.Context, participantID string) (*string, *Error) {
	participant, err := m.participants.Get(ctx, participantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "participant not found")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to read participant")
	}
	return participant.TeamID, nil
}

func (m *MembershipService) WithParticipantRepo(r repository.ParticipantRepository) *MembershipService {
	m.participants = r
	return m
}

func (m *MembershipService) WithMembershipRepo(r repository.MembershipRepository) *MembershipService {
	m.members = r
	return m
}

func (m *MembershipService) WithTeamRepo(r repository.TeamRepository) *MembershipService {
	m.teams = r
	return m
}

func (m *MembershipService) WithRequestRepo(r repository.RequestRepository) *MembershipService {
	m.requests = r
	return m
}
