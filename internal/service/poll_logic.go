package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/pkg/logger"
)

type pollOutcome struct {
	result *string
	locked bool
}

// concludeActivePoll settles an active poll under the team and poll row
// locks: tallies, writes the conditional conclusion, and locks the team's
// selection when there is a winner. A poll with zero votes concludes with
// no result and leaves the selection open.
//
// Tie-break is earliest-final-vote-wins: among options tied at the top
// count, the one whose tally-completing vote is oldest takes it. Ties on
// the exact timestamp fall back to candidate order, so the outcome is
// always deterministic.
func concludeActivePoll(ctx context.Context, polls repository.PollRepository, teams repository.TeamRepository, team *repository.Team, poll *repository.Poll, now time.Time) (*pollOutcome, *Error) {
	l := logger.FromContext(ctx)

	votes, err := polls.GetVotes(ctx, poll.ID)
	if err != nil {
		l.Error("failed to get votes", zap.String("poll_id", poll.ID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to get votes")
	}

	winner := pollWinner(poll.CandidateOptions, votes)

	if err = polls.Conclude(ctx, poll.ID, winner, now); err != nil {
		l.Error("failed to conclude poll", zap.String("poll_id", poll.ID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to conclude poll")
	}

	poll.Status = model.PollStatusConcluded
	poll.Result = winner
	poll.ConcludedAt = &now

	outcome := &pollOutcome{result: winner}

	if winner != nil {
		if err = teams.LockSelection(ctx, team.ID, *winner); err != nil {
			l.Error("failed to lock selection from poll",
				zap.String("team_id", team.ID),
				zap.String("poll_id", poll.ID),
				zap.Error(err))
			return nil, NewError(ErrorCodeUnspecified, "failed to lock selection")
		}
		team.SelectedProblemStatementID = winner
		team.SelectionLocked = true
		outcome.locked = true
	}

	return outcome, nil
}

// pollWinner picks the winning option, nil when nobody voted. Votes come
// ordered by cast time, so the last vote seen for an option is the one
// that produced its final count.
func pollWinner(options []string, votes []*repository.Vote) *string {
	if len(votes) == 0 {
		return nil
	}

	counts := make(map[string]int, len(options))
	finalAt := make(map[string]time.Time, len(options))
	for _, v := range votes {
		counts[v.OptionID]++
		finalAt[v.OptionID] = v.CastAt
	}

	var winner string
	best := -1
	for _, opt := range options {
		count := counts[opt]
		if count == 0 {
			continue
		}
		switch {
		case count > best:
			winner, best = opt, count
		case count == best && finalAt[opt].Before(finalAt[winner]):
			winner = opt
		}
	}

	if best <= 0 {
		return nil
	}
	return &winner
}

func tallyVotes(options []string, votes []*repository.Vote) []model.TallyEntry {
	counts := make(map[string]int, len(options))
	for _, v := range votes {
		counts[v.OptionID]++
	}

	tally := make([]model.TallyEntry, 0, len(options))
	for _, opt := range options {
		tally = append(tally, model.TallyEntry{OptionID: opt, Votes: counts[opt]})
	}
	return tally
}

func pollConcludedNotifications(team *repository.Team, poll *repository.Poll, outcome *pollOutcome) []notify.Notification {
	result := ""
	if outcome.result != nil {
		result = *outcome.result
	}

	notifications := []notify.Notification{{
		Kind:    notify.KindPollConcluded,
		EventID: team.EventID,
		TeamID:  team.ID,
		Payload: notify.PollPayload{PollID: poll.ID, Result: result},
	}}
	if outcome.locked {
		notifications = append(notifications, notify.Notification{
			Kind:    notify.KindSelectionLocked,
			EventID: team.EventID,
			TeamID:  team.ID,
			Payload: notify.SelectionPayload{ProblemStatementID: result},
		})
	}
	return notifications
}

func pollToModel(poll *repository.Poll) *model.Poll {
	return &model.Poll{
		ID:               poll.ID,
		TeamID:           poll.TeamID,
		CandidateOptions: poll.CandidateOptions,
		StartedAt:        poll.StartedAt,
		DurationMinutes:  poll.DurationMinutes,
		EndsAt:           poll.EndsAt,
		Status:           poll.Status,
		Result:           poll.Result,
		ConcludedAt:      poll.ConcludedAt,
	}
}
