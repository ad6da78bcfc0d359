package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/auth"
	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/service"
	"github.com/okoshkin/teamup/pkg/logger"
)

type Handler struct {
	teams       *service.TeamService
	requests    *service.RequestService
	polls       *service.PollService
	selection   *service.SelectionService
	submissions *service.SubmissionService

	healthChecker HealthChecker
	metrics       prometheus.Gatherer

	logger *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

func (h *Handler) WithHealthChecker(c HealthChecker) *Handler {
	h.healthChecker = c
	return h
}

func (h *Handler) WithMetrics(g prometheus.Gatherer) *Handler {
	h.metrics = g
	return h
}

func (h *Handler) WithTeamService(s *service.TeamService) *Handler {
	h.teams = s
	return h
}

func (h *Handler) WithRequestService(s *service.RequestService) *Handler {
	h.requests = s
	return h
}

func (h *Handler) WithPollService(s *service.PollService) *Handler {
	h.polls = s
	return h
}

func (h *Handler) WithSelectionService(s *service.SelectionService) *Handler {
	h.selection = s
	return h
}

func (h *Handler) WithSubmissionService(s *service.SubmissionService) *Handler {
	h.submissions = s
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Validator = NewValidator()
	e.Use(middleware.RequestID())
	e.Use(ZapLoggerMiddleware(h.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", h.healthChecker.HealthCheck())
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.metrics, promhttp.HandlerOpts{})))
	}

	secured := e.Group("", AuthMiddleware(auth.TokenTypeParticipant, auth.TokenTypeAdmin))

	secured.POST("/teams", h.CreateTeam)
	secured.GET("/teams/:teamID", h.GetTeam)
	secured.POST("/teams/:teamID/leave", h.LeaveTeam)
	secured.POST("/teams/:teamID/transfer-leadership", h.TransferLeadership)
	secured.DELETE("/teams/:teamID/members/:participantID", h.RemoveMember)

	secured.POST("/teams/:teamID/invitations", h.CreateInvitation)
	secured.POST("/teams/:teamID/join-requests", h.CreateJoinRequest)
	secured.GET("/teams/:teamID/requests", h.ListTeamRequests)
	secured.GET("/participants/me/requests", h.ListMyRequests)
	secured.POST("/requests/:requestID/respond", h.RespondRequest)

	secured.POST("/teams/:teamID/selection", h.DirectSelect)
	secured.POST("/teams/:teamID/polls", h.StartPoll)
	secured.GET("/polls/:pollID", h.GetPoll)
	secured.POST("/polls/:pollID/votes", h.CastVote)
	secured.POST("/polls/:pollID/conclude", h.ConcludePoll)

	secured.POST("/teams/:teamID/submission", h.Submit)
	secured.GET("/teams/:teamID/submission", h.GetSubmission)
}

func (h *Handler) CreateTeam(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	var req struct {
		Name        string `json:"name" validate:"required"`
		MemberLimit int    `json:"member_limit"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("creating team",
		zap.String("team_name", req.Name),
		zap.String("participant_id", claims.ParticipantID))

	team, err := h.teams.CreateTeam(e.Request().Context(), claims.ParticipantID, req.Name, req.MemberLimit, claims.Type == auth.TokenTypeAdmin)
	if err != nil {
		l.Error("failed to create team", zap.String("team_name", req.Name), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, team)
}

func (h *Handler) GetTeam(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("teamID")

	team, err := h.teams.GetTeam(e.Request().Context(), teamID)
	if err != nil {
		l.Error("failed to get team", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, team)
}

func (h *Handler) LeaveTeam(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	l.Info("leaving team",
		zap.String("team_id", teamID),
		zap.String("participant_id", claims.ParticipantID))

	if err := h.teams.Leave(e.Request().Context(), teamID, claims.ParticipantID); err != nil {
		l.Error("failed to leave team", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.NoContent(http.StatusNoContent)
}

func (h *Handler) TransferLeadership(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	var req struct {
		NewLeaderID string `json:"new_leader_id" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	if err := h.teams.TransferLeadership(e.Request().Context(), teamID, claims.ParticipantID, req.NewLeaderID); err != nil {
		l.Error("failed to transfer leadership", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.NoContent(http.StatusNoContent)
}

func (h *Handler) RemoveMember(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")
	participantID := e.Param("participantID")

	l.Info("removing member",
		zap.String("team_id", teamID),
		zap.String("participant_id", participantID))

	if err := h.teams.RemoveMember(e.Request().Context(), teamID, claims.ParticipantID, participantID); err != nil {
		l.Error("failed to remove member", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateInvitation(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	var req struct {
		CandidateID string `json:"candidate_id" validate:"required"`
		Message     string `json:"message"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	invitation, err := h.requests.CreateInvitation(e.Request().Context(), teamID, claims.ParticipantID, req.CandidateID, req.Message)
	if err != nil {
		l.Error("failed to create invitation",
			zap.String("team_id", teamID),
			zap.String("candidate_id", req.CandidateID),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, invitation)
}

func (h *Handler) CreateJoinRequest(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	var req struct {
		Message string `json:"message"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	joinRequest, err := h.requests.CreateJoinRequest(e.Request().Context(), teamID, claims.ParticipantID, req.Message)
	if err != nil {
		l.Error("failed to create join request", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, joinRequest)
}

func (h *Handler) ListTeamRequests(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	requests, err := h.requests.ListForTeam(e.Request().Context(), teamID, claims.ParticipantID)
	if err != nil {
		l.Error("failed to list team requests", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, requests)
}

func (h *Handler) ListMyRequests(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	requests, err := h.requests.ListForParticipant(e.Request().Context(), claims.ParticipantID)
	if err != nil {
		l.Error("failed to list participant requests",
			zap.String("participant_id", claims.ParticipantID),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, requests)
}

func (h *Handler) RespondRequest(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	requestID := e.Param("requestID")

	var req struct {
		Decision model.RequestDecision `json:"decision" validate:"required,oneof=accept reject"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("responding to request",
		zap.String("request_id", requestID),
		zap.String("decision", string(req.Decision)))

	resolved, err := h.requests.Respond(e.Request().Context(), requestID, claims.ParticipantID, req.Decision)
	if err != nil {
		// An invalidated acceptance still reports the final request state
		// alongside the conflict.
		if resolved != nil {
			return e.JSON(http.StatusConflict, struct {
				Request *model.Request `json:"request"`
				Error   *service.Error `json:"error"`
			}{Request: resolved, Error: err})
		}
		l.Error("failed to respond to request", zap.String("request_id", requestID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, resolved)
}

func (h *Handler) DirectSelect(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	var req struct {
		ProblemStatementID string `json:"problem_statement_id" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	if err := h.selection.DirectSelect(e.Request().Context(), teamID, claims.ParticipantID, req.ProblemStatementID); err != nil {
		l.Error("failed to select problem statement", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	team, err := h.selection.GetSelection(e.Request().Context(), teamID)
	if err != nil {
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, team)
}

func (h *Handler) StartPoll(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	var req struct {
		Options         []string `json:"options" validate:"required,min=1"`
		DurationMinutes int      `json:"duration_minutes" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	poll, err := h.polls.StartPoll(e.Request().Context(), teamID, claims.ParticipantID, req.Options, req.DurationMinutes)
	if err != nil {
		l.Error("failed to start poll", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, poll)
}

func (h *Handler) GetPoll(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	pollID := e.Param("pollID")

	poll, tally, err := h.polls.GetPoll(e.Request().Context(), pollID)
	if err != nil {
		l.Error("failed to get poll", zap.String("poll_id", pollID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, struct {
		Poll  *model.Poll        `json:"poll"`
		Tally []model.TallyEntry `json:"tally"`
	}{Poll: poll, Tally: tally})
}

func (h *Handler) CastVote(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	pollID := e.Param("pollID")

	var req struct {
		OptionID string `json:"option_id" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	if err := h.polls.Vote(e.Request().Context(), pollID, claims.ParticipantID, req.OptionID); err != nil {
		l.Error("failed to cast vote", zap.String("poll_id", pollID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.NoContent(http.StatusNoContent)
}

func (h *Handler) ConcludePoll(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	pollID := e.Param("pollID")

	l.Info("concluding poll", zap.String("poll_id", pollID))

	poll, err := h.polls.Conclude(e.Request().Context(), pollID, claims.ParticipantID)
	if err != nil {
		l.Error("failed to conclude poll", zap.String("poll_id", pollID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, poll)
}

func (h *Handler) Submit(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())
	claims := ClaimsFromContext(e)

	teamID := e.Param("teamID")

	var req struct {
		URL         string `json:"url" validate:"required,url"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	submission, err := h.submissions.Submit(e.Request().Context(), teamID, claims.ParticipantID, req.URL, req.Title, req.Description)
	if err != nil {
		l.Error("failed to submit", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, submission)
}

func (h *Handler) GetSubmission(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamID := e.Param("teamID")

	submission, err := h.submissions.GetSubmission(e.Request().Context(), teamID)
	if err != nil {
		l.Error("failed to get submission", zap.String("team_id", teamID), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, submission)
}

func (h *Handler) decodeRequest(e echo.Context, req any) *service.Error {
	if err := e.Bind(req); err != nil {
		return service.NewError(service.ErrorCodeInvalidBody, "invalid request body")
	}

	if err := e.Validate(req); err != nil {
		return service.NewError(service.ErrorCodeInvalidBody, errors.Wrap(err, "request validation failed").Error())
	}
	return nil
}

func (h *Handler) transportError(e echo.Context, err *service.Error) error {
	response := struct {
		Error *service.Error `json:"error"`
	}{Error: err}

	switch err.Code {
	case service.ErrorCodeNotFound:
		return e.JSON(http.StatusNotFound, response)
	case service.ErrorCodeNotLeader, service.ErrorCodeNotAuthorized,
		service.ErrorCodeNotATeamMember, service.ErrorCodeCreationDisabled:
		return e.JSON(http.StatusForbidden, response)
	case service.ErrorCodeAlreadyMember, service.ErrorCodeNotAMember,
		service.ErrorCodeTeamFull, service.ErrorCodeDuplicateTeamName,
		service.ErrorCodeDuplicatePending, service.ErrorCodeAlreadyResolved,
		service.ErrorCodeAlreadyLocked, service.ErrorCodeActivePollExists,
		service.ErrorCodePollNotActive, service.ErrorCodeAlreadySubmitted,
		service.ErrorCodeNoSelection, service.ErrorCodeOutsideWindow:
		return e.JSON(http.StatusConflict, response)
	case service.ErrorCodeInvalidBody, service.ErrorCodeInvalidName,
		service.ErrorCodeInvalidOption, service.ErrorCodeInvalidDuration:
		return e.JSON(http.StatusBadRequest, response)
	default:
		return e.JSON(http.StatusInternalServerError, response)
	}
}
