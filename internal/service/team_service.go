package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/config"
	"github.com/okoshkin/teamup/internal/db"
	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/pkg/logger"
)

type TeamService struct {
	tx  db.Transactor
	cfg *config.Config

	participants repository.ParticipantRepository
	teams        repository.TeamRepository
	members      repository.MembershipRepository
	ledger       *MembershipService
	notifier     *notify.Notifier
}

func NewTeamService(tx db.Transactor, cfg *config.Config) *TeamService {
	return &TeamService{
		tx:  tx,
		cfg: cfg,
	}
}

func (t *TeamService) CreateTeam(ctx context.Context, leaderID, name string, memberLimit int, isAdmin bool) (*model.Team, *Error) {
	l := logger.FromContext(ctx)
	l.Info("creating team", zap.String("leader_id", leaderID), zap.String("team_name", name))

	if t.cfg.TeamCreation == config.TeamCreationModeAdmin && !isAdmin {
		return nil, NewError(ErrorCodeCreationDisabled, "team creation is restricted to admins for this event")
	}

	if !model.ValidTeamName(name) {
		return nil, NewError(ErrorCodeInvalidName, "team name must be a lowercase slug of 3-32 characters")
	}

	if memberLimit <= 0 {
		memberLimit = t.cfg.MemberLimitDefault
	}

	team := &repository.Team{
		ID:          uuid.NewString(),
		Name:        name,
		MemberLimit: memberLimit,
		LeaderID:    leaderID,
		Status:      model.TeamStatusForming,
	}
	notifications := make([]notify.Notification, 0, 2)

	err := t.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		creator, err := t.participants.GetForUpdate(txCtx, leaderID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "participant not found")
		}
		if err != nil {
			l.Error("failed to lock creator", zap.String("leader_id", leaderID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to read participant")
		}
		if creator.TeamID != nil {
			return NewError(ErrorCodeAlreadyMember, "creator already belongs to a team in this event")
		}

		team.EventID = creator.EventID

		err = t.teams.Create(txCtx, team)
		if errors.Is(err, repository.ErrAlreadyExists) {
			l.Warn("team name taken", zap.String("team_name", name))
			return NewError(ErrorCodeDuplicateTeamName, "team name already exists in this event")
		}
		if err != nil {
			l.Error("failed to create team", zap.String("team_name", name), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to create team")
		}

		invalidated, svcErr := t.ledger.Assign(txCtx, team, leaderID, "", time.Now())
		if svcErr != nil {
			return svcErr
		}

		notifications = append(notifications, notify.Notification{
			Kind:          notify.KindMemberAdded,
			EventID:       team.EventID,
			TeamID:        team.ID,
			ParticipantID: leaderID,
			Payload:       notify.MembershipPayload{TeamID: team.ID, ParticipantID: leaderID},
		})
		notifications = append(notifications, requestResolvedNotifications(invalidated)...)

		return nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	t.publish(notifications)

	return t.GetTeam(ctx, team.ID)
}

func (t *TeamService) GetTeam(ctx context.Context, teamID string) (*model.Team, *Error) {
	team, err := t.teams.Get(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "team not found")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to get team")
	}

	membersRepo, err := t.members.GetMembers(ctx, teamID)
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to get team members")
	}

	members := make([]*model.TeamMember, 0, len(membersRepo))
	for _, member := range membersRepo {
		members = append(members, &model.TeamMember{
			ParticipantID: member.ParticipantID,
			DisplayName:   member.DisplayName,
			JoinedAt:      member.JoinedAt,
		})
	}

	return &model.Team{
		ID:                         team.ID,
		EventID:                    team.EventID,
		Name:                       team.Name,
		MemberLimit:                team.MemberLimit,
		LeaderID:                   team.LeaderID,
		Status:                     team.Status,
		SelectedProblemStatementID: team.SelectedProblemStatementID,
		SelectionLocked:            team.SelectionLocked,
		Members:                    members,
	}, nil
}

func (t *TeamService) TransferLeadership(ctx context.Context, teamID, byID, newLeaderID string) *Error {
	l := logger.FromContext(ctx)
	l.Info("transferring leadership",
		zap.String("team_id", teamID),
		zap.String("by_id", byID),
		zap.String("new_leader_id", newLeaderID))

	var eventID string

	err := t.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := t.teams.GetForUpdate(txCtx, teamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}
		eventID = team.EventID

		if team.LeaderID != byID {
			return NewError(ErrorCodeNotLeader, "only the team leader can transfer leadership")
		}

		if !memberOf(txCtx, t.members, teamID, newLeaderID) {
			return NewError(ErrorCodeNotAMember, "new leader must already be a team member")
		}

		if _, err = t.teams.Patch(txCtx, &repository.TeamPatch{ID: teamID, LeaderID: &newLeaderID}); err != nil {
			l.Error("failed to patch leader", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to transfer leadership")
		}

		return nil
	})
	if err != nil {
		return asServiceError(err)
	}

	t.publish([]notify.Notification{{
		Kind:          notify.KindLeadershipTransferred,
		EventID:       eventID,
		TeamID:        teamID,
		ParticipantID: newLeaderID,
		Payload:       notify.MembershipPayload{TeamID: teamID, ParticipantID: byID, NewLeaderID: newLeaderID},
	}})

	return nil
}

// RemoveMember is the leader kicking someone off the roster. The leader
// cannot remove themself here; leaving is a separate operation so the
// successor rule always applies.
func (t *TeamService) RemoveMember(ctx context.Context, teamID, byID, participantID string) *Error {
	if byID == participantID {
		return NewError(ErrorCodeNotAuthorized, "use leave to exit your own team")
	}
	return t.removeFromTeam(ctx, teamID, byID, participantID, true)
}

// Leave is a member (leader included) exiting voluntarily. The freed seat
// is available to the next capacity check immediately.
func (t *TeamService) Leave(ctx context.Context, teamID, participantID string) *Error {
	return t.removeFromTeam(ctx, teamID, participantID, participantID, false)
}

func (t *TeamService) removeFromTeam(ctx context.Context, teamID, byID, participantID string, requireLeader bool) *Error {
	l := logger.FromContext(ctx)
	l.Info("removing member",
		zap.String("team_id", teamID),
		zap.String("by_id", byID),
		zap.String("participant_id", participantID))

	var eventID, newLeaderID string

	err := t.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := t.teams.GetForUpdate(txCtx, teamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}
		eventID = team.EventID

		if requireLeader && team.LeaderID != byID {
			return NewError(ErrorCodeNotLeader, "only the team leader can remove members")
		}
		if !requireLeader && !memberOf(txCtx, t.members, teamID, participantID) {
			return NewError(ErrorCodeNotAMember, "participant is not a member of this team")
		}

		leaderID, svcErr := t.ledger.Remove(txCtx, team, participantID)
		if svcErr != nil {
			return svcErr
		}
		newLeaderID = leaderID

		return nil
	})
	if err != nil {
		return asServiceError(err)
	}

	notifications := []notify.Notification{{
		Kind:          notify.KindMemberRemoved,
		EventID:       eventID,
		TeamID:        teamID,
		ParticipantID: participantID,
		Payload:       notify.MembershipPayload{TeamID: teamID, ParticipantID: participantID},
	}}
	if newLeaderID != "" {
		notifications = append(notifications, notify.Notification{
			Kind:          notify.KindLeadershipTransferred,
			EventID:       eventID,
			TeamID:        teamID,
			ParticipantID: newLeaderID,
			Payload:       notify.MembershipPayload{TeamID: teamID, ParticipantID: participantID, NewLeaderID: newLeaderID},
		})
	}
	t.publish(notifications)

	return nil
}

func (t *TeamService) publish(notifications []notify.Notification) {
	if t.notifier == nil {
		return
	}
	for _, n := range notifications {
		t.notifier.Publish(n)
	}
}

func (t *TeamService) WithParticipantRepo(r repository.ParticipantRepository) *TeamService {
	t.participants = r
	return t
}

func (t *TeamService) WithTeamRepo(r repository.TeamRepository) *TeamService {
	t.teams = r
	return t
}

func (t *TeamService) WithMembershipRepo(r repository.MembershipRepository) *TeamService {
	t.members = r
	return t
}

func (t *TeamService) WithLedger(m *MembershipService) *TeamService {
	t.ledger = m
	return t
}

func (t *TeamService) WithNotifier(n *notify.Notifier) *TeamService {
	t.notifier = n
	return t
}
