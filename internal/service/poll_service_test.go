package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/repository"
)

func newTestPollService(pr *MockParticipantRepository, tr *MockTeamRepository, plr *MockPollRepository) *PollService {
	return NewPollService(new(MockTransactor), testConfig()).
		WithParticipantRepo(pr).
		WithTeamRepo(tr).
		WithPollRepo(plr)
}

func activePoll(endsAt time.Time) *repository.Poll {
	return &repository.Poll{
		ID:               "poll1",
		TeamID:           "t1",
		CandidateOptions: []string{"ps-alpha", "ps-beta"},
		StartedAt:        endsAt.Add(-time.Hour),
		DurationMinutes:  60,
		EndsAt:           endsAt,
		Status:           model.PollStatusActive,
	}
}

func TestPollService_StartPoll(t *testing.T) {
	tests := []struct {
		name          string
		byID          string
		options       []string
		duration      int
		setupMocks    func(*MockTeamRepository, *MockPollRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:     "success",
			byID:     "p1",
			options:  []string{"ps-alpha", "ps-beta"},
			duration: 60,
			setupMocks: func(tr *MockTeamRepository, plr *MockPollRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetActiveByTeam", mock.Anything, "t1").Return(nil, repository.ErrNotFound)
				plr.On("Create", mock.Anything, mock.Anything).Return(nil)
			},
		},
		{
			name:          "duration outside presets",
			byID:          "p1",
			options:       []string{"ps-alpha"},
			duration:      45,
			setupMocks:    func(*MockTeamRepository, *MockPollRepository) {},
			expectedError: true,
			errorCode:     ErrorCodeInvalidDuration,
		},
		{
			name:          "no options",
			byID:          "p1",
			options:       nil,
			duration:      60,
			setupMocks:    func(*MockTeamRepository, *MockPollRepository) {},
			expectedError: true,
			errorCode:     ErrorCodeInvalidOption,
		},
		{
			name:          "duplicate options",
			byID:          "p1",
			options:       []string{"ps-alpha", "ps-alpha"},
			duration:      60,
			setupMocks:    func(*MockTeamRepository, *MockPollRepository) {},
			expectedError: true,
			errorCode:     ErrorCodeInvalidOption,
		},
		{
			name:     "not the leader",
			byID:     "p2",
			options:  []string{"ps-alpha"},
			duration: 60,
			setupMocks: func(tr *MockTeamRepository, plr *MockPollRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotLeader,
		},
		{
			name:     "selection already locked",
			byID:     "p1",
			options:  []string{"ps-alpha"},
			duration: 60,
			setupMocks: func(tr *MockTeamRepository, plr *MockPollRepository) {
				locked := testTeam()
				locked.SelectionLocked = true
				tr.On("GetForUpdate", mock.Anything, "t1").Return(locked, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyLocked,
		},
		{
			name:     "active poll blocks a new one",
			byID:     "p1",
			options:  []string{"ps-alpha"},
			duration: 60,
			setupMocks: func(tr *MockTeamRepository, plr *MockPollRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetActiveByTeam", mock.Anything, "t1").
					Return(activePoll(time.Now().Add(30*time.Minute)), nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeActivePollExists,
		},
		{
			name:     "expired poll with no votes is settled and a new poll starts",
			byID:     "p1",
			options:  []string{"ps-alpha"},
			duration: 60,
			setupMocks: func(tr *MockTeamRepository, plr *MockPollRepository) {
				stale := activePoll(time.Now().Add(-time.Minute))
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetActiveByTeam", mock.Anything, "t1").Return(stale, nil)
				plr.On("GetVotes", mock.Anything, "poll1").Return([]*repository.Vote{}, nil)
				plr.On("Conclude", mock.Anything, "poll1", (*string)(nil), mock.Anything).Return(nil)
				plr.On("Create", mock.Anything, mock.Anything).Return(nil)
			},
		},
		{
			name:     "expired poll with a winner locks selection and blocks the start",
			byID:     "p1",
			options:  []string{"ps-alpha"},
			duration: 60,
			setupMocks: func(tr *MockTeamRepository, plr *MockPollRepository) {
				stale := activePoll(time.Now().Add(-time.Minute))
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetActiveByTeam", mock.Anything, "t1").Return(stale, nil)
				plr.On("GetVotes", mock.Anything, "poll1").Return([]*repository.Vote{
					{PollID: "poll1", VoterID: "p1", OptionID: "ps-beta", CastAt: time.Now().Add(-2 * time.Hour)},
				}, nil)
				plr.On("Conclude", mock.Anything, "poll1", mock.Anything, mock.Anything).Return(nil)
				tr.On("LockSelection", mock.Anything, "t1", "ps-beta").Return(nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyLocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := new(MockTeamRepository)
			plr := new(MockPollRepository)
			tt.setupMocks(tr, plr)

			service := newTestPollService(new(MockParticipantRepository), tr, plr)

			got, svcErr := service.StartPoll(context.Background(), "t1", tt.byID, tt.options, tt.duration)

			if tt.expectedError {
				assert.NotNil(t, svcErr)
				assert.Equal(t, tt.errorCode, svcErr.Code)
				assert.Nil(t, got)
			} else {
				assert.Nil(t, svcErr)
				assert.Equal(t, model.PollStatusActive, got.Status)
				assert.Equal(t, tt.options, got.CandidateOptions)
			}
			plr.AssertExpectations(t)
			tr.AssertExpectations(t)
		})
	}
}

func TestPollService_Vote(t *testing.T) {
	memberTeam := "t1"

	tests := []struct {
		name          string
		voterID       string
		optionID      string
		setupMocks    func(*MockParticipantRepository, *MockTeamRepository, *MockPollRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:     "success",
			voterID:  "p2",
			optionID: "ps-alpha",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, plr *MockPollRepository) {
				poll := activePoll(time.Now().Add(30 * time.Minute))
				plr.On("Get", mock.Anything, "poll1").Return(poll, nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetForUpdate", mock.Anything, "poll1").Return(poll, nil)
				pr.On("Get", mock.Anything, "p2").
					Return(&repository.Participant{ID: "p2", EventID: "ev1", TeamID: &memberTeam}, nil)
				plr.On("UpsertVote", mock.Anything, mock.MatchedBy(func(v *repository.Vote) bool {
					return v.PollID == "poll1" && v.VoterID == "p2" && v.OptionID == "ps-alpha"
				})).Return(nil)
			},
		},
		{
			name:     "poll already concluded",
			voterID:  "p2",
			optionID: "ps-alpha",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, plr *MockPollRepository) {
				concluded := activePoll(time.Now().Add(30 * time.Minute))
				concluded.Status = model.PollStatusConcluded
				plr.On("Get", mock.Anything, "poll1").Return(concluded, nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetForUpdate", mock.Anything, "poll1").Return(concluded, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodePollNotActive,
		},
		{
			name:     "late vote settles the poll and is rejected",
			voterID:  "p2",
			optionID: "ps-alpha",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, plr *MockPollRepository) {
				stale := activePoll(time.Now().Add(-time.Minute))
				plr.On("Get", mock.Anything, "poll1").Return(stale, nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetForUpdate", mock.Anything, "poll1").Return(stale, nil)
				plr.On("GetVotes", mock.Anything, "poll1").Return([]*repository.Vote{}, nil)
				plr.On("Conclude", mock.Anything, "poll1", (*string)(nil), mock.Anything).Return(nil)
			},
			expectedError: true,
			errorCode:     ErrorCodePollNotActive,
		},
		{
			name:     "non-member cannot vote",
			voterID:  "p9",
			optionID: "ps-alpha",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, plr *MockPollRepository) {
				poll := activePoll(time.Now().Add(30 * time.Minute))
				plr.On("Get", mock.Anything, "poll1").Return(poll, nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetForUpdate", mock.Anything, "poll1").Return(poll, nil)
				pr.On("Get", mock.Anything, "p9").Return(&repository.Participant{ID: "p9", EventID: "ev1"}, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotATeamMember,
		},
		{
			name:     "option not a candidate",
			voterID:  "p2",
			optionID: "ps-gamma",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, plr *MockPollRepository) {
				poll := activePoll(time.Now().Add(30 * time.Minute))
				plr.On("Get", mock.Anything, "poll1").Return(poll, nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				plr.On("GetForUpdate", mock.Anything, "poll1").Return(poll, nil)
				pr.On("Get", mock.Anything, "p2").
					Return(&repository.Participant{ID: "p2", EventID: "ev1", TeamID: &memberTeam}, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeInvalidOption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := new(MockParticipantRepository)
			tr := new(MockTeamRepository)
			plr := new(MockPollRepository)
			tt.setupMocks(pr, tr, plr)

			service := newTestPollService(pr, tr, plr)

			svcErr := service.Vote(context.Background(), "poll1", tt.voterID, tt.optionID)

			if tt.expectedError {
				assert.NotNil(t, svcErr)
				assert.Equal(t, tt.errorCode, svcErr.Code)
			} else {
				assert.Nil(t, svcErr)
			}
			plr.AssertExpectations(t)
		})
	}
}

func TestPollService_Conclude(t *testing.T) {
	t.Run("leader concludes early and the winner locks selection", func(t *testing.T) {
		pr := new(MockParticipantRepository)
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		poll := activePoll(time.Now().Add(30 * time.Minute))
		plr.On("Get", mock.Anything, "poll1").Return(poll, nil)
		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
		plr.On("GetForUpdate", mock.Anything, "poll1").Return(poll, nil)
		plr.On("GetVotes", mock.Anything, "poll1").Return([]*repository.Vote{
			{PollID: "poll1", VoterID: "p1", OptionID: "ps-alpha", CastAt: time.Now().Add(-time.Minute)},
			{PollID: "poll1", VoterID: "p2", OptionID: "ps-alpha", CastAt: time.Now()},
		}, nil)
		plr.On("Conclude", mock.Anything, "poll1", mock.Anything, mock.Anything).Return(nil)
		tr.On("LockSelection", mock.Anything, "t1", "ps-alpha").Return(nil)

		service := newTestPollService(pr, tr, plr)

		got, svcErr := service.Conclude(context.Background(), "poll1", "p1")
		assert.Nil(t, svcErr)
		assert.Equal(t, model.PollStatusConcluded, got.Status)
		assert.NotNil(t, got.Result)
		assert.Equal(t, "ps-alpha", *got.Result)
	})

	t.Run("non-leader cannot conclude", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		poll := activePoll(time.Now().Add(30 * time.Minute))
		plr.On("Get", mock.Anything, "poll1").Return(poll, nil)
		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)

		service := newTestPollService(new(MockParticipantRepository), tr, plr)

		got, svcErr := service.Conclude(context.Background(), "poll1", "p2")
		assert.Nil(t, got)
		assert.NotNil(t, svcErr)
		assert.Equal(t, ErrorCodeNotLeader, svcErr.Code)
	})

	t.Run("leader concluding a concluded poll fails", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		concluded := activePoll(time.Now().Add(-time.Hour))
		concluded.Status = model.PollStatusConcluded
		plr.On("Get", mock.Anything, "poll1").Return(concluded, nil)
		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
		plr.On("GetForUpdate", mock.Anything, "poll1").Return(concluded, nil)

		service := newTestPollService(new(MockParticipantRepository), tr, plr)

		_, svcErr := service.Conclude(context.Background(), "poll1", "p1")
		assert.NotNil(t, svcErr)
		assert.Equal(t, ErrorCodePollNotActive, svcErr.Code)
	})

	t.Run("timeout conclusion of a concluded poll is a no-op", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		concluded := activePoll(time.Now().Add(-time.Hour))
		concluded.Status = model.PollStatusConcluded
		plr.On("Get", mock.Anything, "poll1").Return(concluded, nil)
		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
		plr.On("GetForUpdate", mock.Anything, "poll1").Return(concluded, nil)

		service := newTestPollService(new(MockParticipantRepository), tr, plr)

		_, svcErr := service.ConcludeExpired(context.Background(), "poll1")
		assert.Nil(t, svcErr)
		plr.AssertNotCalled(t, "Conclude", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("timeout conclusion before the deadline leaves the poll alone", func(t *testing.T) {
		tr := new(MockTeamRepository)
		plr := new(MockPollRepository)

		poll := activePoll(time.Now().Add(30 * time.Minute))
		plr.On("Get", mock.Anything, "poll1").Return(poll, nil)
		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
		plr.On("GetForUpdate", mock.Anything, "poll1").Return(poll, nil)

		service := newTestPollService(new(MockParticipantRepository), tr, plr)

		_, svcErr := service.ConcludeExpired(context.Background(), "poll1")
		assert.Nil(t, svcErr)
		plr.AssertNotCalled(t, "Conclude", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPollService_GetPoll(t *testing.T) {
	plr := new(MockPollRepository)

	poll := activePoll(time.Now().Add(30 * time.Minute))
	plr.On("Get", mock.Anything, "poll1").Return(poll, nil)
	plr.On("GetVotes", mock.Anything, "poll1").Return([]*repository.Vote{
		{PollID: "poll1", VoterID: "p1", OptionID: "ps-beta", CastAt: time.Now()},
	}, nil)

	service := newTestPollService(new(MockParticipantRepository), new(MockTeamRepository), plr)

	got, tally, svcErr := service.GetPoll(context.Background(), "poll1")
	assert.Nil(t, svcErr)
	assert.Equal(t, "poll1", got.ID)
	assert.Equal(t, []model.TallyEntry{
		{OptionID: "ps-alpha", Votes: 0},
		{OptionID: "ps-beta", Votes: 1},
	}, tally)
}
