package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/config"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/pkg/logger"
)

// Warning thresholds before a poll's deadline.
const (
	warnEarly = 20 * time.Minute
	warnLate  = 10 * time.Minute
)

// PollSweeper is the background companion to the lazy deadline checks in
// PollService: it concludes polls whose deadline passed with nobody
// touching them, and emits the 20- and 10-minute expiry warnings. Each
// warning fires at most once; MarkWarned flips the flag conditionally so
// concurrent sweepers cannot double-send.
type PollSweeper struct {
	cfg *config.Config

	pollService *PollService
	teams       repository.TeamRepository
	polls       repository.PollRepository
	notifier    *notify.Notifier
}

func NewPollSweeper(cfg *config.Config, pollService *PollService) *PollSweeper {
	return &PollSweeper{
		cfg:         cfg,
		pollService: pollService,
	}
}

// Run blocks until ctx is cancelled.
func (s *PollSweeper) Run(ctx context.Context) {
	l := logger.FromContext(ctx)
	l.Info("poll sweeper started", zap.Duration("interval", s.cfg.PollSweepInterval))

	ticker := time.NewTicker(s.cfg.PollSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("poll sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *PollSweeper) sweep(ctx context.Context) {
	l := logger.FromContext(ctx)

	polls, err := s.polls.ListActive(ctx)
	if err != nil {
		l.Error("failed to list active polls", zap.Error(err))
		return
	}

	now := time.Now()
	for _, poll := range polls {
		if !now.Before(poll.EndsAt) {
			if _, svcErr := s.pollService.ConcludeExpired(ctx, poll.ID); svcErr != nil {
				l.Error("failed to conclude expired poll",
					zap.String("poll_id", poll.ID), zap.String("code", string(svcErr.Code)))
			}
			continue
		}
		s.warn(ctx, poll, now)
	}
}

func (s *PollSweeper) warn(ctx context.Context, poll *repository.Poll, now time.Time) {
	remaining := poll.EndsAt.Sub(now)

	if remaining <= warnLate && !poll.Warned10m {
		// A poll crossing straight into the late window still burns the
		// early flag so a later sweep cannot re-send it.
		if !poll.Warned20m {
			if _, err := s.polls.MarkWarned(ctx, poll.ID, "warned_20m"); err != nil {
				logger.FromContext(ctx).Error("failed to mark poll warned",
					zap.String("poll_id", poll.ID), zap.Error(err))
				return
			}
		}
		s.emitWarning(ctx, poll, "warned_10m", 10)
		return
	}

	if remaining <= warnEarly && !poll.Warned20m {
		s.emitWarning(ctx, poll, "warned_20m", 20)
	}
}

func (s *PollSweeper) emitWarning(ctx context.Context, poll *repository.Poll, column string, minutesLeft int) {
	l := logger.FromContext(ctx)

	flipped, err := s.polls.MarkWarned(ctx, poll.ID, column)
	if err != nil {
		l.Error("failed to mark poll warned", zap.String("poll_id", poll.ID), zap.Error(err))
		return
	}
	if !flipped {
		return
	}

	team, err := s.teams.Get(ctx, poll.TeamID)
	if err != nil {
		l.Error("failed to get team for poll warning",
			zap.String("poll_id", poll.ID), zap.String("team_id", poll.TeamID), zap.Error(err))
		return
	}

	if s.notifier != nil {
		s.notifier.Publish(notify.Notification{
			Kind:    notify.KindPollExpiring,
			EventID: team.EventID,
			TeamID:  poll.TeamID,
			Payload: notify.PollPayload{
				PollID:      poll.ID,
				EndsAt:      poll.EndsAt,
				MinutesLeft: minutesLeft,
			},
		})
	}
}

func (s *PollSweeper) WithTeamRepo(r repository.TeamRepository) *PollSweeper {
	s.teams = r
	return s
}

func (s *PollSweeper) WithPollRepo(r repository.PollRepository) *PollSweeper {
	s.polls = r
	return s
}

func (s *PollSweeper) WithNotifier(n *notify.Notifier) *PollSweeper {
	s.notifier = n
	return s
}
