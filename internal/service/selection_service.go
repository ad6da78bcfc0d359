package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/db"
	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/pkg/logger"
)

// SelectionService guards the team's problem-statement decision:
// unselected, optionally polling, then locked. Locked is terminal; every
// mutating entry point short-circuits on it before touching other state.
type SelectionService struct {
	tx db.Transactor

	teams    repository.TeamRepository
	polls    repository.PollRepository
	notifier *notify.Notifier
}

func NewSelectionService(tx db.Transactor) *SelectionService {
	return &SelectionService{tx: tx}
}

// DirectSelect locks the problem statement without a poll. An active poll
// must run its course first; a poll that already expired is settled here
// rather than bypassed.
func (s *SelectionService) DirectSelect(ctx context.Context, teamID, byID, problemStatementID string) *Error {
	l := logger.FromContext(ctx)
	l.Info("direct-selecting problem statement",
		zap.String("team_id", teamID),
		zap.String("by_id", byID),
		zap.String("problem_statement_id", problemStatementID))

	if problemStatementID == "" {
		return NewError(ErrorCodeInvalidBody, "problem statement id is required")
	}

	var (
		eventID       string
		deferredErr   *Error
		notifications []notify.Notification
	)

	err := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := s.teams.GetForUpdate(txCtx, teamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}
		eventID = team.EventID

		if team.SelectionLocked {
			return NewError(ErrorCodeAlreadyLocked, "problem statement selection is already locked")
		}
		if team.LeaderID != byID {
			return NewError(ErrorCodeNotLeader, "only the team leader can select a problem statement")
		}

		now := time.Now()

		active, err := s.polls.GetActiveByTeam(txCtx, teamID)
		switch {
		case err == nil:
			if !pollToModel(active).Expired(now) {
				return NewError(ErrorCodeActivePollExists, "an active poll must conclude before direct selection")
			}
			outcome, svcErr := concludeActivePoll(txCtx, s.polls, s.teams, team, active, now)
			if svcErr != nil {
				return svcErr
			}
			notifications = append(notifications, pollConcludedNotifications(team, active, outcome)...)
			if outcome.locked {
				deferredErr = NewError(ErrorCodeAlreadyLocked, "problem statement selection is already locked")
				return nil
			}
		case !errors.Is(err, repository.ErrNotFound):
			l.Error("failed to check active poll", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to check active poll")
		}

		if err = s.teams.LockSelection(txCtx, teamID, problemStatementID); err != nil {
			l.Error("failed to lock selection", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to lock selection")
		}

		notifications = append(notifications, notify.Notification{
			Kind:    notify.KindSelectionLocked,
			EventID: eventID,
			TeamID:  teamID,
			Payload: notify.SelectionPayload{ProblemStatementID: problemStatementID},
		})

		return nil
	})
	if err != nil {
		return asServiceError(err)
	}

	s.publish(notifications)

	return deferredErr
}

// GetSelection is a lock-free snapshot of the team's selection state.
func (s *SelectionService) GetSelection(ctx context.Context, teamID string) (*model.Team, *Error) {
	team, err := s.teams.Get(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "team not found")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to get team")
	}

	return &model.Team{
		ID:                         team.ID,
		EventID:                    team.EventID,
		Name:                       team.Name,
		LeaderID:                   team.LeaderID,
		Status:                     team.Status,
		SelectedProblemStatementID: team.SelectedProblemStatementID,
		SelectionLocked:            team.SelectionLocked,
	}, nil
}

func (s *SelectionService) publish(notifications []notify.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notifications {
		s.notifier.Publish(n)
	}
}

func (s *SelectionService) WithTeamRepo(r repository.TeamRepository) *SelectionService {
	s.teams = r
	return s
}

func (s *SelectionService) WithPollRepo(r repository.PollRepository) *SelectionService {
	s.polls = r
	return s
}

func (s *SelectionService) WithNotifier(n *notify.Notifier) *SelectionService {
	s.notifier = n
	return s
}
