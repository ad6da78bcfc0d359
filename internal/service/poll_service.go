package service

import (
	"context"
	"slices"
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

// PollService runs the time-boxed vote over problem-statement candidates.
// A poll's deadline is enforced lazily on every touch and by the sweeper;
// either path concludes it exactly once.
type PollService struct {
	tx  db.Transactor
	cfg *config.Config

	participants repository.ParticipantRepository
	teams        repository.TeamRepository
	polls        repository.PollRepository
	notifier     *notify.Notifier
}

func NewPollService(tx db.Transactor, cfg *config.Config) *PollService {
	return &PollService{
		tx:  tx,
		cfg: cfg,
	}
}

func (p *PollService) StartPoll(ctx context.Context, teamID, byID string, options []string, durationMinutes int) (*model.Poll, *Error) {
	l := logger.FromContext(ctx)
	l.Info("starting poll",
		zap.String("team_id", teamID),
		zap.String("by_id", byID),
		zap.Int("duration_minutes", durationMinutes))

	if !p.cfg.AllowedPollDuration(durationMinutes) {
		return nil, NewError(ErrorCodeInvalidDuration, "poll duration must be one of the configured presets")
	}
	if len(options) == 0 {
		return nil, NewError(ErrorCodeInvalidOption, "poll needs at least one candidate option")
	}
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if opt == "" {
			return nil, NewError(ErrorCodeInvalidOption, "candidate options must be non-empty")
		}
		if _, ok := seen[opt]; ok {
			return nil, NewError(ErrorCodeInvalidOption, "candidate options must be unique")
		}
		seen[opt] = struct{}{}
	}

	now := time.Now()
	poll := &repository.Poll{
		ID:               uuid.NewString(),
		TeamID:           teamID,
		CandidateOptions: slices.Clone(options),
		StartedAt:        now,
		DurationMinutes:  durationMinutes,
		EndsAt:           now.Add(time.Duration(durationMinutes) * time.Minute),
		Status:           model.PollStatusActive,
	}

	var (
		eventID       string
		deferredErr   *Error
		notifications []notify.Notification
	)

	err := p.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := p.teams.GetForUpdate(txCtx, teamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}
		eventID = team.EventID

		if team.LeaderID != byID {
			return NewError(ErrorCodeNotLeader, "only the team leader can start a poll")
		}
		if team.SelectionLocked {
			return NewError(ErrorCodeAlreadyLocked, "problem statement selection is already locked")
		}

		active, err := p.polls.GetActiveByTeam(txCtx, teamID)
		switch {
		case err == nil:
			if !pollToModel(active).Expired(now) {
				return NewError(ErrorCodeActivePollExists, "a poll is already active for this team")
			}
			// Expired but not yet swept: settle it now, then re-check the
			// lock its result may have applied.
			outcome, svcErr := concludeActivePoll(txCtx, p.polls, p.teams, team, active, now)
			if svcErr != nil {
				return svcErr
			}
			notifications = append(notifications, pollConcludedNotifications(team, active, outcome)...)
			if outcome.locked {
				// The settlement must commit even though the start fails;
				// surface the error after the transaction.
				deferredErr = NewError(ErrorCodeAlreadyLocked, "problem statement selection is already locked")
				return nil
			}
		case !errors.Is(err, repository.ErrNotFound):
			l.Error("failed to check active poll", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to check active poll")
		}

		if err = p.polls.Create(txCtx, poll); err != nil {
			l.Error("failed to create poll", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to create poll")
		}

		notifications = append(notifications, notify.Notification{
			Kind:    notify.KindPollStarted,
			EventID: eventID,
			TeamID:  teamID,
			Payload: notify.PollPayload{
				PollID:           poll.ID,
				CandidateOptions: poll.CandidateOptions,
				EndsAt:           poll.EndsAt,
			},
		})

		return nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	p.publish(notifications)

	if deferredErr != nil {
		return nil, deferredErr
	}
	return pollToModel(poll), nil
}

// Vote records or overwrites the voter's choice. The deadline is checked
// server-side against the locked poll row; a vote that finds the poll
// expired settles the conclusion and is rejected.
func (p *PollService) Vote(ctx context.Context, pollID, voterID, optionID string) *Error {
	l := logger.FromContext(ctx)
	l.Info("casting vote",
		zap.String("poll_id", pollID),
		zap.String("voter_id", voterID),
		zap.String("option_id", optionID))

	peek, err := p.polls.Get(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return NewError(ErrorCodeNotFound, "poll not found")
	}
	if err != nil {
		return NewError(ErrorCodeUnspecified, "failed to get poll")
	}

	var (
		lateErr       *Error
		notifications []notify.Notification
	)

	txErr := p.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := p.teams.GetForUpdate(txCtx, peek.TeamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", peek.TeamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}

		poll, err := p.polls.GetForUpdate(txCtx, pollID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "poll not found")
		}
		if err != nil {
			l.Error("failed to lock poll", zap.String("poll_id", pollID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get poll")
		}

		if poll.Status != model.PollStatusActive {
			return NewError(ErrorCodePollNotActive, "poll has concluded")
		}

		pm := pollToModel(poll)
		now := time.Now()
		if pm.Expired(now) {
			// Too late; settle the overdue conclusion in this transaction
			// and reject the vote after commit.
			outcome, svcErr := concludeActivePoll(txCtx, p.polls, p.teams, team, poll, now)
			if svcErr != nil {
				return svcErr
			}
			notifications = append(notifications, pollConcludedNotifications(team, poll, outcome)...)
			lateErr = NewError(ErrorCodePollNotActive, "poll deadline has passed")
			return nil
		}

		voter, err := p.participants.Get(txCtx, voterID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "voter not found")
		}
		if err != nil {
			l.Error("failed to get voter", zap.String("voter_id", voterID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to read voter")
		}
		if voter.TeamID == nil || *voter.TeamID != poll.TeamID {
			return NewError(ErrorCodeNotATeamMember, "only team members can vote")
		}

		if !pm.HasOption(optionID) {
			return NewError(ErrorCodeInvalidOption, "option is not a candidate in this poll")
		}

		if err = p.polls.UpsertVote(txCtx, &repository.Vote{
			PollID:   pollID,
			VoterID:  voterID,
			OptionID: optionID,
			CastAt:   now,
		}); err != nil {
			l.Error("failed to upsert vote", zap.String("poll_id", pollID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to record vote")
		}

		notifications = append(notifications, notify.Notification{
			Kind:          notify.KindVoteCast,
			EventID:       team.EventID,
			TeamID:        poll.TeamID,
			ParticipantID: voterID,
			Payload:       notify.PollPayload{PollID: pollID, OptionID: optionID},
		})

		return nil
	})
	if txErr != nil {
		return asServiceError(txErr)
	}

	p.publish(notifications)

	return lateErr
}

// Conclude ends the poll early on the leader's word. System-timeout
// conclusion goes through ConcludeExpired instead and needs no actor.
func (p *PollService) Conclude(ctx context.Context, pollID, byID string) (*model.Poll, *Error) {
	l := logger.FromContext(ctx)
	l.Info("concluding poll", zap.String("poll_id", pollID), zap.String("by_id", byID))

	return p.conclude(ctx, pollID, &byID)
}

// ConcludeExpired settles a poll whose deadline has passed. Safe to race
// with a leader conclusion; whichever loses finds the poll concluded.
func (p *PollService) ConcludeExpired(ctx context.Context, pollID string) (*model.Poll, *Error) {
	return p.conclude(ctx, pollID, nil)
}

func (p *PollService) conclude(ctx context.Context, pollID string, byID *string) (*model.Poll, *Error) {
	l := logger.FromContext(ctx)

	peek, err := p.polls.Get(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "poll not found")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to get poll")
	}

	var (
		poll          *repository.Poll
		notifications []notify.Notification
	)

	txErr := p.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := p.teams.GetForUpdate(txCtx, peek.TeamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", peek.TeamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}

		if byID != nil && team.LeaderID != *byID {
			return NewError(ErrorCodeNotLeader, "only the team leader can conclude a poll early")
		}

		poll, err = p.polls.GetForUpdate(txCtx, pollID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "poll not found")
		}
		if err != nil {
			l.Error("failed to lock poll", zap.String("poll_id", pollID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get poll")
		}

		if poll.Status != model.PollStatusActive {
			if byID == nil {
				// Timeout racing a leader conclusion is expected; nothing
				// left to do.
				return nil
			}
			return NewError(ErrorCodePollNotActive, "poll has already concluded")
		}

		now := time.Now()
		if byID == nil && !pollToModel(poll).Expired(now) {
			// Sweeper raced a deadline extension it can't see; leave the
			// poll alone.
			return nil
		}

		outcome, svcErr := concludeActivePoll(txCtx, p.polls, p.teams, team, poll, now)
		if svcErr != nil {
			return svcErr
		}
		notifications = append(notifications, pollConcludedNotifications(team, poll, outcome)...)

		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	p.publish(notifications)

	return pollToModel(poll), nil
}

// GetPoll returns the poll with its live tally, recomputed from the vote
// rows on every read.
func (p *PollService) GetPoll(ctx context.Context, pollID string) (*model.Poll, []model.TallyEntry, *Error) {
	poll, err := p.polls.Get(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, NewError(ErrorCodeNotFound, "poll not found")
	}
	if err != nil {
		return nil, nil, NewError(ErrorCodeUnspecified, "failed to get poll")
	}

	votes, err := p.polls.GetVotes(ctx, pollID)
	if err != nil {
		return nil, nil, NewError(ErrorCodeUnspecified, "failed to get votes")
	}

	return pollToModel(poll), tallyVotes(poll.CandidateOptions, votes), nil
}

func (p *PollService) publish(notifications []notify.Notification) {
	if p.notifier == nil {
		return
	}
	for _, n := range notifications {
		p.notifier.Publish(n)
	}
}

func (p *PollService) WithParticipantRepo(r repository.ParticipantRepository) *PollService {
	p.participants = r
	return p
}

func (p *PollService) WithTeamRepo(r repository.TeamRepository) *PollService {
	p.teams = r
	return p
}

func (p *PollService) WithPollRepo(r repository.PollRepository) *PollService {
	p.polls = r
	return p
}

func (p *PollService) WithNotifier(n *notify.Notifier) *PollService {
	p.notifier = n
	return p
}
