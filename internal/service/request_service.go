package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/db"
	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/pkg/logger"
)

// RequestService brokers bidirectional consent: invitations go leader to
// candidate, join requests go candidate to leader, and either way the
// addressed party's acceptance is what finally mutates membership.
type RequestService struct {
	tx db.Transactor

	participants repository.ParticipantRepository
	teams        repository.TeamRepository
	members      repository.MembershipRepository
	requests     repository.RequestRepository
	ledger       *MembershipService
	notifier     *notify.Notifier
}

func NewRequestService(tx db.Transactor) *RequestService {
	return &RequestService{tx: tx}
}

func (s *RequestService) CreateInvitation(ctx context.Context, teamID, byLeaderID, candidateID, message string) (*model.Request, *Error) {
	return s.create(ctx, teamID, model.DirectionInvite, byLeaderID, candidateID, message)
}

func (s *RequestService) CreateJoinRequest(ctx context.Context, teamID, candidateID, message string) (*model.Request, *Error) {
	return s.create(ctx, teamID, model.DirectionRequest, candidateID, "", message)
}

func (s *RequestService) create(ctx context.Context, teamID string, direction model.RequestDirection, fromID, toID, message string) (*model.Request, *Error) {
	l := logger.FromContext(ctx)
	l.Info("creating request",
		zap.String("team_id", teamID),
		zap.String("direction", string(direction)),
		zap.String("from_id", fromID))

	request := &repository.Request{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		Direction: direction,
		FromID:    fromID,
		ToID:      toID,
		Status:    model.RequestStatusPending,
		Message:   message,
		CreatedAt: time.Now(),
	}

	err := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := s.teams.GetForUpdate(txCtx, teamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}
		request.EventID = team.EventID

		candidateID := request.FromID
		if direction == model.DirectionInvite {
			if team.LeaderID != request.FromID {
				return NewError(ErrorCodeNotLeader, "only the team leader can invite")
			}
			candidateID = request.ToID
		} else {
			// Join requests are addressed to whoever leads the team when
			// the leader resolves them; record the current leader.
			request.ToID = team.LeaderID
		}

		candidate, err := s.participants.Get(txCtx, candidateID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "candidate not found")
		}
		if err != nil {
			l.Error("failed to get candidate", zap.String("candidate_id", candidateID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to read candidate")
		}
		if candidate.TeamID != nil {
			return NewError(ErrorCodeAlreadyMember, "candidate already belongs to a team in this event")
		}

		count, err := s.members.CountMembers(txCtx, teamID)
		if err != nil {
			l.Error("failed to count members", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to count team members")
		}
		if count >= team.MemberLimit {
			return NewError(ErrorCodeTeamFull, "team is at member limit")
		}

		// For join requests ToID records whoever led the team at creation
		// time; a leadership transfer must not open room for a second
		// pending request from the same candidate, so the duplicate check
		// matches the addressee only for invitations.
		dupToID := request.ToID
		if direction == model.DirectionRequest {
			dupToID = ""
		}
		duplicate, err := s.requests.HasPending(txCtx, teamID, direction, request.FromID, dupToID)
		if err != nil {
			l.Error("failed to check pending duplicates", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to check pending requests")
		}
		if duplicate {
			return NewError(ErrorCodeDuplicatePending, "an identical pending request already exists")
		}

		if err = s.requests.Create(txCtx, request); err != nil {
			l.Error("failed to create request", zap.String("team_id", teamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to create request")
		}

		return nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	kind := notify.KindRequestCreated
	if direction == model.DirectionInvite {
		kind = notify.KindInvitationCreated
	}
	s.publish([]notify.Notification{{
		Kind:          kind,
		EventID:       request.EventID,
		TeamID:        teamID,
		ParticipantID: requestCandidate(request),
		Payload: notify.RequestPayload{
			RequestID: request.ID,
			Direction: string(direction),
			FromID:    request.FromID,
			ToID:      request.ToID,
		},
	}})

	return requestToModel(request), nil
}

// Respond resolves a pending request. Only the addressed party may
// respond: the candidate for invitations, the current leader for join
// requests. An acceptance that loses the membership race does not stay
// pending; it commits as invalidated and the ledger's error is returned,
// so the caller is never stuck retrying an impossible acceptance.
func (s *RequestService) Respond(ctx context.Context, requestID, responderID string, decision model.RequestDecision) (*model.Request, *Error) {
	l := logger.FromContext(ctx)
	l.Info("responding to request",
		zap.String("request_id", requestID),
		zap.String("responder_id", responderID),
		zap.String("decision", string(decision)))

	if decision != model.DecisionAccept && decision != model.DecisionReject {
		return nil, NewError(ErrorCodeInvalidBody, "decision must be accept or reject")
	}

	// Peek without locks to learn the team, then take locks in the fixed
	// team, participant, request order every mutating flow uses.
	peek, err := s.requests.Get(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "request not found")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to get request")
	}

	var (
		request       *repository.Request
		acceptErr     *Error
		notifications []notify.Notification
	)

	txErr := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		team, err := s.teams.GetForUpdate(txCtx, peek.TeamID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "team not found")
		}
		if err != nil {
			l.Error("failed to lock team", zap.String("team_id", peek.TeamID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get team")
		}

		request, err = s.requests.GetForUpdate(txCtx, requestID)
		if errors.Is(err, repository.ErrNotFound) {
			return NewError(ErrorCodeNotFound, "request not found")
		}
		if err != nil {
			l.Error("failed to lock request", zap.String("request_id", requestID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to get request")
		}

		req := requestToModel(request)
		if !req.Pending() {
			return NewError(ErrorCodeAlreadyResolved, "request is already resolved")
		}

		if responderID != req.Resolver(team.LeaderID) {
			return NewError(ErrorCodeNotAuthorized, "only the addressed party may respond")
		}

		now := time.Now()

		if decision == model.DecisionReject {
			if err = s.requests.Resolve(txCtx, requestID, model.RequestStatusRejected, now); err != nil {
				l.Error("failed to resolve request", zap.String("request_id", requestID), zap.Error(err))
				return NewError(ErrorCodeUnspecified, "failed to resolve request")
			}
			request.Status = model.RequestStatusRejected
			request.ResolvedAt = &now
			notifications = append(notifications, resolvedNotification(request))
			return nil
		}

		candidateID := requestCandidate(request)

		invalidated, svcErr := s.ledger.Assign(txCtx, team, candidateID, requestID, now)
		if svcErr != nil {
			if svcErr.Code != ErrorCodeAlreadyMember && svcErr.Code != ErrorCodeTeamFull {
				return svcErr
			}
			// Membership exclusivity or capacity closed this request for
			// good. Commit the invalidation and surface the ledger error
			// afterwards; returning the error here would roll it back.
			if err = s.requests.Resolve(txCtx, requestID, model.RequestStatusInvalidated, now); err != nil {
				l.Error("failed to invalidate request", zap.String("request_id", requestID), zap.Error(err))
				return NewError(ErrorCodeUnspecified, "failed to invalidate request")
			}
			request.Status = model.RequestStatusInvalidated
			request.ResolvedAt = &now
			acceptErr = svcErr
			notifications = append(notifications, resolvedNotification(request))
			return nil
		}

		if err = s.requests.Resolve(txCtx, requestID, model.RequestStatusAccepted, now); err != nil {
			l.Error("failed to resolve request", zap.String("request_id", requestID), zap.Error(err))
			return NewError(ErrorCodeUnspecified, "failed to resolve request")
		}
		request.Status = model.RequestStatusAccepted
		request.ResolvedAt = &now

		notifications = append(notifications, resolvedNotification(request))
		notifications = append(notifications, notify.Notification{
			Kind:          notify.KindMemberAdded,
			EventID:       team.EventID,
			TeamID:        team.ID,
			ParticipantID: candidateID,
			Payload:       notify.MembershipPayload{TeamID: team.ID, ParticipantID: candidateID},
		})
		for _, other := range invalidated {
			notifications = append(notifications, resolvedNotification(other))
		}

		return nil
	})
	if txErr != nil {
		return nil, asServiceError(txErr)
	}

	s.publish(notifications)

	if acceptErr != nil {
		return requestToModel(request), acceptErr
	}
	return requestToModel(request), nil
}

func (s *RequestService) ListForTeam(ctx context.Context, teamID, byID string) ([]*model.Request, *Error) {
	team, err := s.teams.Get(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "team not found")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to get team")
	}
	if team.LeaderID != byID {
		return nil, NewError(ErrorCodeNotLeader, "only the team leader can list team requests")
	}

	requests, err := s.requests.ListByTeam(ctx, teamID, model.RequestStatusPending)
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to list requests")
	}
	return requestsToModel(requests), nil
}

func (s *RequestService) ListForParticipant(ctx context.Context, participantID string) ([]*model.Request, *Error) {
	participant, err := s.participants.Get(ctx, participantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "participant not found")
	}
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to read participant")
	}

	requests, err := s.requests.ListByParticipant(ctx, participant.EventID, participantID, model.RequestStatusPending)
	if err != nil {
		return nil, NewError(ErrorCodeUnspecified, "failed to list requests")
	}
	return requestsToModel(requests), nil
}

func resolvedNotification(r *repository.Request) notify.Notification {
	return notify.Notification{
		Kind:          notify.KindRequestResolved,
		EventID:       r.EventID,
		TeamID:        r.TeamID,
		ParticipantID: requestCandidate(r),
		Payload: notify.RequestPayload{
			RequestID: r.ID,
			Direction: string(r.Direction),
			FromID:    r.FromID,
			ToID:      r.ToID,
			Status:    string(r.Status),
		},
	}
}

func requestToModel(r *repository.Request) *model.Request {
	return &model.Request{
		ID:         r.ID,
		EventID:    r.EventID,
		TeamID:     r.TeamID,
		Direction:  r.Direction,
		FromID:     r.FromID,
		ToID:       r.ToID,
		Status:     r.Status,
		Message:    r.Message,
		CreatedAt:  r.CreatedAt,
		ResolvedAt: r.ResolvedAt,
	}
}

func requestsToModel(requests []*repository.Request) []*model.Request {
	out := make([]*model.Request, 0, len(requests))
	for _, r := range requests {
		out = append(out, requestToModel(r))
	}
	return out
}

func (s *RequestService) publish(notifications []notify.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notifications {
		s.notifier.Publish(n)
	}
}

func (s *RequestService) WithParticipantRepo(r repository.ParticipantRepository) *RequestService {
	s.participants = r
	return s
}

func (s *RequestService) WithTeamRepo(r repository.TeamRepository) *RequestService {
	s.teams = r
	return s
}

func (s *RequestService) WithMembershipRepo(r repository.MembershipRepository) *RequestService {
	s.members = r
	return s
}

func (s *RequestService) WithRequestRepo(r repository.RequestRepository) *RequestService {
	s.requests = r
	return s
}

func (s *RequestService) WithLedger(m *MembershipService) *RequestService {
	s.ledger = m
	return s
}

func (s *RequestService) WithNotifier(n *notify.Notifier) *RequestService {
	s.notifier = n
	return s
}
