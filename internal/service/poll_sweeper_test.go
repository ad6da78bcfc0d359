package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/okoshkin/teamup/internal/repository"
)

func newTestPollSweeper(tr *MockTeamRepository, plr *MockPollRepository) *PollSweeper {
	pollService := NewPollService(new(MockTransactor), testConfig()).
		WithTeamRepo(tr).
		WithPollRepo(plr)

	return NewPollSweeper(testConfig(), pollService).
		WithTeamRepo(tr).
		WithPollRepo(plr)
}

func TestPollSweeper_Sweep(t *testing.T) {
	t.Run("expired poll is concluded", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		stale := activePoll(time.Now().Add(-time.Minute))
		plr.On("ListActive", mock.Anything).Return([]*repository.Poll{stale}, nil)
		plr.On("Get", mock.Anything, "poll1").Return(stale, nil)
		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
		plr.On("GetForUpdate", mock.Anything, "poll1").Return(stale, nil)
		plr.On("GetVotes", mock.Anything, "poll1").Return([]*repository.Vote{}, nil)
		plr.On("Conclude", mock.Anything, "poll1", (*string)(nil), mock.Anything).Return(nil)

		newTestPollSweeper(tr, plr).sweep(context.Background())

		plr.AssertExpectations(t)
	})

	t.Run("poll inside the early window gets the first warning", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		poll := activePoll(time.Now().Add(15 * time.Minute))
		plr.On("ListActive", mock.Anything).Return([]*repository.Poll{poll}, nil)
		plr.On("MarkWarned", mock.Anything, "poll1", "warned_20m").Return(true, nil)
		tr.On("Get", mock.Anything, "t1").Return(testTeam(), nil)

		newTestPollSweeper(tr, plr).sweep(context.Background())

		plr.AssertExpectations(t)
		plr.AssertNotCalled(t, "MarkWarned", mock.Anything, "poll1", "warned_10m")
	})

	t.Run("poll inside the late window gets the second warning", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		poll := activePoll(time.Now().Add(5 * time.Minute))
		poll.Warned20m = true
		plr.On("ListActive", mock.Anything).Return([]*repository.Poll{poll}, nil)
		plr.On("MarkWarned", mock.Anything, "poll1", "warned_10m").Return(true, nil)
		tr.On("Get", mock.Anything, "t1").Return(testTeam(), nil)

		newTestPollSweeper(tr, plr).sweep(context.Background())

		plr.AssertExpectations(t)
	})

	t.Run("fully warned poll is left alone", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		poll := activePoll(time.Now().Add(5 * time.Minute))
		poll.Warned20m = true
		poll.Warned10m = true
		plr.On("ListActive", mock.Anything).Return([]*repository.Poll{poll}, nil)

		newTestPollSweeper(tr, plr).sweep(context.Background())

		plr.AssertNotCalled(t, "MarkWarned", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("poll far from the deadline is left alone", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		poll := activePoll(time.Now().Add(45 * time.Minute))
		plr.On("ListActive", mock.Anything).Return([]*repository.Poll{poll}, nil)

		newTestPollSweeper(tr, plr).sweep(context.Background())

		plr.AssertNotCalled(t, "MarkWarned", mock.Anything, mock.Anything, mock.Anything)
	})
}
