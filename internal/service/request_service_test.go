package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/repository"
)

func newTestRequestService(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) *RequestService {
	ledger := NewMembershipService().
		WithParticipantRepo(pr).
		WithMembershipRepo(mr).
		WithTeamRepo(tr).
		WithRequestRepo(rr)

	return NewRequestService(new(MockTransactor)).
		WithParticipantRepo(pr).
		WithTeamRepo(tr).
		WithMembershipRepo(mr).
		WithRequestRepo(rr).
		WithLedger(ledger)
}

func testTeam() *repository.Team {
	return &repository.Team{ID: "t1", EventID: "ev1", Name: "night-owls", MemberLimit: 4, LeaderID: "p1"}
}

func TestRequestService_CreateInvitation(t *testing.T) {
	tests := []struct {
		name          string
		byLeaderID    string
		candidateID   string
		setupMocks    func(*MockParticipantRepository, *MockTeamRepository, *MockMembershipRepository, *MockRequestRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:        "success",
			byLeaderID:  "p1",
			candidateID: "p2",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				pr.On("Get", mock.Anything, "p2").Return(&repository.Participant{ID: "p2", EventID: "ev1"}, nil)
				mr.On("CountMembers", mock.Anything, "t1").Return(1, nil)
				rr.On("HasPending", mock.Anything, "t1", model.DirectionInvite, "p1", "p2").Return(false, nil)
				rr.On("Create", mock.Anything, mock.Anything).Return(nil)
			},
		},
		{
			name:        "only the leader can invite",
			byLeaderID:  "p2",
			candidateID: "p3",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotLeader,
		},
		{
			name:        "candidate already on a team",
			byLeaderID:  "p1",
			candidateID: "p2",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				teamID := "other"
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				pr.On("Get", mock.Anything, "p2").
					Return(&repository.Participant{ID: "p2", EventID: "ev1", TeamID: &teamID}, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyMember,
		},
		{
			name:        "team at member limit",
			byLeaderID:  "p1",
			candidateID: "p2",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				pr.On("Get", mock.Anything, "p2").Return(&repository.Participant{ID: "p2", EventID: "ev1"}, nil)
				mr.On("CountMembers", mock.Anything, "t1").Return(4, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeTeamFull,
		},
		{
			name:        "duplicate pending invitation",
			byLeaderID:  "p1",
			candidateID: "p2",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				pr.On("Get", mock.Anything, "p2").Return(&repository.Participant{ID: "p2", EventID: "ev1"}, nil)
				mr.On("CountMembers", mock.Anything, "t1").Return(1, nil)
				rr.On("HasPending", mock.Anything, "t1", model.DirectionInvite, "p1", "p2").Return(true, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeDuplicatePending,
		},
		{
			name:        "team not found",
			byLeaderID:  "p1",
			candidateID: "p2",
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				tr.On("GetForUpdate", mock.Anything, "t1").Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := new(MockParticipantRepository)
			tr := new(MockTeamRepository)
			mr := new(MockMembershipRepository)
			rr := new(MockRequestRepository)
			tt.setupMocks(pr, tr, mr, rr)

			service := newTestRequestService(pr, tr, mr, rr)

			got, svcErr := service.CreateInvitation(context.Background(), "t1", tt.byLeaderID, tt.candidateID, "join us")

			if tt.expectedError {
				assert.NotNil(t, svcErr)
				assert.Equal(t, tt.errorCode, svcErr.Code)
				assert.Nil(t, got)
				return
			}
			assert.Nil(t, svcErr)
			assert.Equal(t, model.DirectionInvite, got.Direction)
			assert.Equal(t, tt.byLeaderID, got.FromID)
			assert.Equal(t, tt.candidateID, got.ToID)
			assert.Equal(t, model.RequestStatusPending, got.Status)
		})
	}
}

func TestRequestService_CreateJoinRequest(t *testing.T) {
	t.Run("addressed to the current leader", func(t *testing.T) {
		pr := new(MockParticipantRepository)
		tr := new(MockTeamRepository)
		mr := new(MockMembershipRepository)
		rr := new(MockRequestRepository)

		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
		pr.On("Get", mock.Anything, "p2").Return(&repository.Participant{ID: "p2", EventID: "ev1"}, nil)
		mr.On("CountMembers", mock.Anything, "t1").Return(1, nil)
		rr.On("HasPending", mock.Anything, "t1", model.DirectionRequest, "p2", "").Return(false, nil)
		rr.On("Create", mock.Anything, mock.Anything).Return(nil)

		service := newTestRequestService(pr, tr, mr, rr)

		got, svcErr := service.CreateJoinRequest(context.Background(), "t1", "p2", "let me in")
		assert.Nil(t, svcErr)
		assert.Equal(t, model.DirectionRequest, got.Direction)
		assert.Equal(t, "p2", got.FromID)
		assert.Equal(t, "p1", got.ToID)
	})

	t.Run("duplicate survives a leadership transfer", func(t *testing.T) {
		pr := new(MockParticipantRepository)
		tr := new(MockTeamRepository)
		mr := new(MockMembershipRepository)
		rr := new(MockRequestRepository)

		// The earlier pending request was addressed to "p1"; the team is
		// now led by "p3". The duplicate check must still catch it.
		team := testTeam()
		team.LeaderID = "p3"
		tr.On("GetForUpdate", mock.Anything, "t1").Return(team, nil)
		pr.On("Get", mock.Anything, "p2").Return(&repository.Participant{ID: "p2", EventID: "ev1"}, nil)
		mr.On("CountMembers", mock.Anything, "t1").Return(1, nil)
		rr.On("HasPending", mock.Anything, "t1", model.DirectionRequest, "p2", "").Return(true, nil)

		service := newTestRequestService(pr, tr, mr, rr)

		got, svcErr := service.CreateJoinRequest(context.Background(), "t1", "p2", "second try")
		assert.Nil(t, got)
		assert.NotNil(t, svcErr)
		assert.Equal(t, ErrorCodeDuplicatePending, svcErr.Code)
		rr.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("requester already on a team", func(t *testing.T) {
		pr := new(MockParticipantRepository)
		tr := new(MockTeamRepository)

		teamID := "other"
		tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
		pr.On("Get", mock.Anything, "p2").
			Return(&repository.Participant{ID: "p2", EventID: "ev1", TeamID: &teamID}, nil)

		service := newTestRequestService(pr, tr, new(MockMembershipRepository), new(MockRequestRepository))

		got, svcErr := service.CreateJoinRequest(context.Background(), "t1", "p2", "")
		assert.Nil(t, got)
		assert.NotNil(t, svcErr)
		assert.Equal(t, ErrorCodeAlreadyMember, svcErr.Code)
	})
}

func pendingInvite() *repository.Request {
	return &repository.Request{
		ID:        "r1",
		EventID:   "ev1",
		TeamID:    "t1",
		Direction: model.DirectionInvite,
		FromID:    "p1",
		ToID:      "p2",
		Status:    model.RequestStatusPending,
	}
}

func TestRequestService_Respond(t *testing.T) {
	tests := []struct {
		name           string
		responderID    string
		decision       model.RequestDecision
		setupMocks     func(*MockParticipantRepository, *MockTeamRepository, *MockMembershipRepository, *MockRequestRepository)
		expectedError  bool
		errorCode      ErrorCode
		expectedStatus model.RequestStatus
	}{
		{
			name:        "accept adds the candidate and resolves accepted",
			responderID: "p2",
			decision:    model.DecisionAccept,
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				rr.On("Get", mock.Anything, "r1").Return(pendingInvite(), nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				rr.On("GetForUpdate", mock.Anything, "r1").Return(pendingInvite(), nil)
				pr.On("GetForUpdate", mock.Anything, "p2").Return(&repository.Participant{ID: "p2", EventID: "ev1"}, nil)
				mr.On("CountMembers", mock.Anything, "t1").Return(2, nil)
				mr.On("Add", mock.Anything, "t1", "p2", mock.Anything).Return(nil)
				pr.On("SetTeam", mock.Anything, "p2", mock.Anything).Return(nil)
				rr.On("InvalidatePendingFor", mock.Anything, "ev1", "p2", "r1", mock.Anything).
					Return([]*repository.Request{
						{ID: "r2", EventID: "ev1", TeamID: "t9", Direction: model.DirectionRequest, FromID: "p2", Status: model.RequestStatusInvalidated},
					}, nil)
				rr.On("Resolve", mock.Anything, "r1", model.RequestStatusAccepted, mock.Anything).Return(nil)
			},
			expectedStatus: model.RequestStatusAccepted,
		},
		{
			name:        "reject resolves without touching membership",
			responderID: "p2",
			decision:    model.DecisionReject,
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				rr.On("Get", mock.Anything, "r1").Return(pendingInvite(), nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				rr.On("GetForUpdate", mock.Anything, "r1").Return(pendingInvite(), nil)
				rr.On("Resolve", mock.Anything, "r1", model.RequestStatusRejected, mock.Anything).Return(nil)
			},
			expectedStatus: model.RequestStatusRejected,
		},
		{
			name:        "acceptance losing the exclusivity race commits as invalidated",
			responderID: "p2",
			decision:    model.DecisionAccept,
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				otherTeam := "t9"
				rr.On("Get", mock.Anything, "r1").Return(pendingInvite(), nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				rr.On("GetForUpdate", mock.Anything, "r1").Return(pendingInvite(), nil)
				pr.On("GetForUpdate", mock.Anything, "p2").
					Return(&repository.Participant{ID: "p2", EventID: "ev1", TeamID: &otherTeam}, nil)
				rr.On("Resolve", mock.Anything, "r1", model.RequestStatusInvalidated, mock.Anything).Return(nil)
			},
			expectedError:  true,
			errorCode:      ErrorCodeAlreadyMember,
			expectedStatus: model.RequestStatusInvalidated,
		},
		{
			name:        "acceptance into a full team commits as invalidated",
			responderID: "p2",
			decision:    model.DecisionAccept,
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				rr.On("Get", mock.Anything, "r1").Return(pendingInvite(), nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				rr.On("GetForUpdate", mock.Anything, "r1").Return(pendingInvite(), nil)
				pr.On("GetForUpdate", mock.Anything, "p2").Return(&repository.Participant{ID: "p2", EventID: "ev1"}, nil)
				mr.On("CountMembers", mock.Anything, "t1").Return(4, nil)
				rr.On("Resolve", mock.Anything, "r1", model.RequestStatusInvalidated, mock.Anything).Return(nil)
			},
			expectedError:  true,
			errorCode:      ErrorCodeTeamFull,
			expectedStatus: model.RequestStatusInvalidated,
		},
		{
			name:        "already resolved",
			responderID: "p2",
			decision:    model.DecisionAccept,
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				resolved := pendingInvite()
				resolved.Status = model.RequestStatusRejected
				rr.On("Get", mock.Anything, "r1").Return(resolved, nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				rr.On("GetForUpdate", mock.Anything, "r1").Return(resolved, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeAlreadyResolved,
		},
		{
			name:        "only the addressed party may respond",
			responderID: "p1",
			decision:    model.DecisionAccept,
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				rr.On("Get", mock.Anything, "r1").Return(pendingInvite(), nil)
				tr.On("GetForUpdate", mock.Anything, "t1").Return(testTeam(), nil)
				rr.On("GetForUpdate", mock.Anything, "r1").Return(pendingInvite(), nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotAuthorized,
		},
		{
			name:        "request not found",
			responderID: "p2",
			decision:    model.DecisionAccept,
			setupMocks: func(pr *MockParticipantRepository, tr *MockTeamRepository, mr *MockMembershipRepository, rr *MockRequestRepository) {
				rr.On("Get", mock.Anything, "r1").Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := new(MockParticipantRepository)
			tr := new(MockTeamRepository)
			mr := new(MockMembershipRepository)
			rr := new(MockRequestRepository)
			tt.setupMocks(pr, tr, mr, rr)

			service := newTestRequestService(pr, tr, mr, rr)

			got, svcErr := service.Respond(context.Background(), "r1", tt.responderID, tt.decision)

			if tt.expectedError {
				assert.NotNil(t, svcErr)
				assert.Equal(t, tt.errorCode, svcErr.Code)
			} else {
				assert.Nil(t, svcErr)
			}
			if tt.expectedStatus != "" {
				assert.NotNil(t, got)
				assert.Equal(t, tt.expectedStatus, got.Status)
			}
			rr.AssertExpectations(t)
		})
	}
}

func TestRequestService_Respond_InvalidDecision(t *testing.T) {
	service := newTestRequestService(new(MockParticipantRepository), new(MockTeamRepository), new(MockMembershipRepository), new(MockRequestRepository))

	got, svcErr := service.Respond(context.Background(), "r1", "p2", "maybe")
	assert.Nil(t, got)
	assert.NotNil(t, svcErr)
	assert.Equal(t, ErrorCodeInvalidBody, svcErr.Code)
}

func TestRequestService_ListForTeam(t *testing.T) {
	t.Run("leader lists pending requests", func(t *testing.T) {
		tr := new(MockTeamRepository)
		rr := new(MockRequestRepository)

		tr.On("Get", mock.Anything, "t1").Return(testTeam(), nil)
		rr.On("ListByTeam", mock.Anything, "t1", model.RequestStatusPending).
			Return([]*repository.Request{pendingInvite()}, nil)

		service := newTestRequestService(new(MockParticipantRepository), tr, new(MockMembershipRepository), rr)

		got, svcErr := service.ListForTeam(context.Background(), "t1", "p1")
		assert.Nil(t, svcErr)
		assert.Len(t, got, 1)
	})

	t.Run("non-leader denied", func(t *testing.T) {
		tr := new(MockTeamRepository)
		tr.On("Get", mock.Anything, "t1").Return(testTeam(), nil)

		service := newTestRequestService(new(MockParticipantRepository), tr, new(MockMembershipRepository), new(MockRequestRepository))

		got, svcErr := service.ListForTeam(context.Background(), "t1", "p2")
		assert.Nil(t, got)
		assert.NotNil(t, svcErr)
		assert.Equal(t, ErrorCodeNotLeader, svcErr.Code)
	})
}
