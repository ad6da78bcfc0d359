package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/config"
	"github.com/okoshkin/teamup/internal/db"
	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/pkg/logger"
)

// SubmissionService accepts exactly one final submission per team. There
// is deliberately no edit or delete path; corrections are an
// administrative override outside this core.
type SubmissionService struct {
	tx  db.Transactor
	cfg *config.Config

	teams       repository.TeamRepository
	submissions repository.SubmissionRepository
	notifier    *notify.Notifier
}

func NewSubmissionService(tx db.Transactor, cfg *config.Config) *SubmissionService {
	return &SubmissionService{
		tx:  tx,
		cfg: cfg,
	}
}

func (s *SubmissionService) Submit(ctx context.Context, teamID, byID, url, title, description string) (*model.Submission, *Error) {
	l := logger.FromContext(ctx)
	l.Info("submitting project",
		zap.String("team_id", teamID),
		zap.String("by_id", byID),
		zap.String("url", url))

	if url == "" {
		return nil, NewError(ErrorCodeInvalidBody, "submission url is required")
	}

	now := time.Now()
	if !s.cfg.SubmissionWindowOpen(now) {
		return nil, NewError(ErrorCodeOutsideWindow, "submissions are closed")
	}

	submission := &repository.Submission{
		TeamID:      teamID,
		URL:         url,
		Title:       title,
		Description: description,
		SubmittedBy: byID,
		SubmittedAt: now,
	}

	var eventID string

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

		if team.LeaderID != byID {
			return NewError(ErrorCodeNotLeader, "only the team leader can submit")
		}
		if !team.SelectionLocked {
			return NewError(ErrorCodeNoSelection, "a problem statement must be locked before submitting")
		}

		err = s.submissions.Create(txCtx, submission)
		if errors.Is(err, repository.ErrAlreadyExists) {
			return NewError(ErrorCodeAlreadySubmitted, "team has already submitted")
		}
		if err != nil {
			l.Error("failed to create submission", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to create submission")
		}

		status := model.TeamStatusFinalized
		if _, err = s.teams.Patch(txCtx, &repository.TeamPatch{ID: teamID, Status: &status}); err != nil {
			l.Error("failed to finalize team", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to finalize team")
		}

		return nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	s.publish([]notify.Notification{{
		Kind:          notify.KindSubmissionCreated,
		EventID:       eventID,
		TeamID:        teamID,
		ParticipantID: byID,
		Payload:       notify.SubmissionPayload{URL: url, Title: title, SubmittedBy: byID},
	}})

	return submissionToModel(submission), nil
}

func (s *SubmissionService) GetSubmission(ctx context.Context, teamID string) (*model.Submission, *Error) {
	submission, err := s.submissions.Get(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "no submission for this team")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to get submission")
	}
	return submissionToModel(submission), nil
}

func submissionToModel(s *repository.Submission) *model.Submission {
	return &model.Submission{
		TeamID:      s.TeamID,
		URL:         s.URL,
		Title:       s.Title,
		Description: s.Description,
		SubmittedBy: s.SubmittedBy,
		SubmittedAt: s.SubmittedAt,
	}
}

func (s *SubmissionService) publish(notifications []notify.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notifications {
		s.notifier.Publish(n)
	}
}

func (s *SubmissionService) WithTeamRepo(r repository.TeamRepository) *SubmissionService {
	s.teams = r
	return s
}

func (s *SubmissionService) WithSubmissionRepo(r repository.SubmissionRepository) *SubmissionService {
	s.submissions = r
	return s
}

func (s *SubmissionService) WithNotifier(n *notify.Notifier) *SubmissionService {
	s.notifier = n
	return s
}
