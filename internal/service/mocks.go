package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/repository"
)

type MockTransactor struct {
	mock.Mock
}

func (m *MockTransactor) WithinTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type MockParticipantRepository struct {
	mock.Mock
}

func (m *MockParticipantRepository) Get(ctx context.Context, participantID string) (*repository.Participant, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Participant), args.Error(1)
}

func (m *MockParticipantRepository) GetForUpdate(ctx context.Context, participantID string) (*repository.Participant, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Participant), args.Error(1)
}

func (m *MockParticipantRepository) SetTeam(ctx context.Context, participantID string, teamID *string) error {
	args := m.Called(ctx, participantID, teamID)
	return args.Error(0)
}

func (m *MockParticipantRepository) Upsert(ctx context.Context, participant *repository.Participant) error {
	args := m.Called(ctx, participant)
	return args.Error(0)
}

type MockTeamRepository struct {
	mock.Mock
}

func (m *MockTeamRepository) Create(ctx context.Context, team *repository.Team) error {
	args := m.Called(ctx, team)
	return args.Error(0)
}

func (m *MockTeamRepository) Get(ctx context.Context, teamID string) (*repository.Team, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Team), args.Error(1)
}

func (m *MockTeamRepository) GetForUpdate(ctx context.Context, teamID string) (*repository.Team, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Team), args.Error(1)
}

func (m *MockTeamRepository) Patch(ctx context.Context, patch *repository.TeamPatch) (*repository.Team, error) {
	args := m.Called(ctx, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Team), args.Error(1)
}

func (m *MockTeamRepository) LockSelection(ctx context.Context, teamID, problemStatementID string) error {
	args := m.Called(ctx, teamID, problemStatementID)
	return args.Error(0)
}

type MockMembershipRepository struct {
	mock.Mock
}

func (m *MockMembershipRepository) Add(ctx context.Context, teamID, participantID string, joinedAt time.Time) error {
	args := m.Called(ctx, teamID, participantID, joinedAt)
	return args.Error(0)
}

func (m *MockMembershipRepository) Remove(ctx context.Context, teamID, participantID string) error {
	args := m.Called(ctx, teamID, participantID)
	return args.Error(0)
}

func (m *MockMembershipRepository) GetMembers(ctx context.Context, teamID string) ([]*repository.TeamMember, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.TeamMember), args.Error(1)
}

func (m *MockMembershipRepository) CountMembers(ctx context.Context, teamID string) (int, error) {
	args := m.Called(ctx, teamID)
	return args.Int(0), args.Error(1)
}

func (m *MockMembershipRepository) OldestMember(ctx context.Context, teamID, excludeID string) (*repository.TeamMember, error) {
	args := m.Called(ctx, teamID, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.TeamMember), args.Error(1)
}

type MockRequestRepository struct {
	mock.Mock
}

func (m *MockRequestRepository) Create(ctx context.Context, request *repository.Request) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

func (m *MockRequestRepository) Get(ctx context.Context, requestID string) (*repository.Request, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Request), args.Error(1)
}

func (m *MockRequestRepository) GetForUpdate(ctx context.Context, requestID string) (*repository.Request, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Request), args.Error(1)
}

func (m *MockRequestRepository) Resolve(ctx context.Context, requestID string, status model.RequestStatus, resolvedAt time.Time) error {
	args := m.Called(ctx, requestID, status, resolvedAt)
	return args.Error(0)
}

func (m *MockRequestRepository) HasPending(ctx context.Context, teamID string, direction model.RequestDirection, fromID, toID string) (bool, error) {
	args := m.Called(ctx, teamID, direction, fromID, toID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRequestRepository) InvalidatePendingFor(ctx context.Context, eventID, participantID, excludeID string, resolvedAt time.Time) ([]*repository.Request, error) {
	args := m.Called(ctx, eventID, participantID, excludeID, resolvedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Request), args.Error(1)
}

func (m *MockRequestRepository) ListByTeam(ctx context.Context, teamID string, status model.RequestStatus) ([]*repository.Request, error) {
	args := m.Called(ctx, teamID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Request), args.Error(1)
}

func (m *MockRequestRepository) ListByParticipant(ctx context.Context, eventID, participantID string, status model.RequestStatus) ([]*repository.Request, error) {
	args := m.Called(ctx, eventID, participantID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Request), args.Error(1)
}

type MockPollRepository struct {
	mock.Mock
}

func (m *MockPollRepository) Create(ctx context.Context, poll *repository.Poll) error {
	args := m.Called(ctx, poll)
	return args.Error(0)
}

func (m *MockPollRepository) Get(ctx context.Context, pollID string) (*repository.Poll, error) {
	args := m.Called(ctx, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Poll), args.Error(1)
}

func (m *MockPollRepository) GetForUpdate(ctx context.Context, pollID string) (*repository.Poll, error) {
	args := m.Called(ctx, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Poll), args.Error(1)
}

func (m *MockPollRepository) GetActiveByTeam(ctx context.Context, teamID string) (*repository.Poll, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Poll), args.Error(1)
}

func (m *MockPollRepository) Conclude(ctx context.Context, pollID string, result *string, concludedAt time.Time) error {
	args := m.Called(ctx, pollID, result, concludedAt)
	return args.Error(0)
}

func (m *MockPollRepository) UpsertVote(ctx context.Context, vote *repository.Vote) error {
	args := m.Called(ctx, vote)
	return args.Error(0)
}

func (m *MockPollRepository) GetVotes(ctx context.Context, pollID string) ([]*repository.Vote, error) {
	args := m.Called(ctx, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Vote), args.Error(1)
}

func (m *MockPollRepository) ListActive(ctx context.Context) ([]*repository.Poll, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Poll), args.Error(1)
}

func (m *MockPollRepository) MarkWarned(ctx context.Context, pollID string, column string) (bool, error) {
	args := m.Called(ctx, pollID, column)
	return args.Bool(0), args.Error(1)
}

type MockSubmissionRepository struct {
	mock.Mock
}

func (m *MockSubmissionRepository) Create(ctx context.Context, submission *repository.Submission) error {
	args := m.Called(ctx, submission)
	return args.Error(0)
}

func (m *MockSubmissionRepository) Get(ctx context.Context, teamID string) (*repository.Submission, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Submission), args.Error(1)
}
