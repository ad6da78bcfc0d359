package main

import (
	"context"

	"github.com/hellofresh/health-go/v5"
	healthPostgres "github.com/hellofresh/health-go/v5/checks/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/api"
	"github.com/okoshkin/teamup/internal/config"
	"github.com/okoshkin/teamup/internal/db"
	"github.com/okoshkin/teamup/internal/notify"
	"github.com/okoshkin/teamup/internal/repository"
	"github.com/okoshkin/teamup/internal/service"
	"github.com/okoshkin/teamup/pkg/logger"
)

func main() {
	log, err := logger.NewLogger()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting application")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err = pool.Ping(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	log.Info("database connection established")

	transactor := db.NewPgxTransactor(pool)

	participantRepo := repository.NewPgxParticipantRepository(pool)
	teamRepo := repository.NewPgxTeamRepository(pool)
	membershipRepo := repository.NewPgxMembershipRepository(pool)
	requestRepo := repository.NewPgxRequestRepository(pool)
	pollRepo := repository.NewPgxPollRepository(pool)
	submissionRepo := repository.NewPgxSubmissionRepository(pool)

	registry := prometheus.NewRegistry()
	notifier := notify.NewNotifier(log, registry)
	defer notifier.Close()

	ledger := service.NewMembershipService().
		WithParticipantRepo(participantRepo).
		WithMembershipRepo(membershipRepo).
		WithTeamRepo(teamRepo).
		WithRequestRepo(requestRepo)

	teams := service.NewTeamService(transactor, cfg).
		WithParticipantRepo(participantRepo).
		WithTeamRepo(teamRepo).
		WithMembershipRepo(membershipRepo).
		WithLedger(ledger).
		WithNotifier(notifier)

	requests := service.NewRequestService(transactor).
		WithParticipantRepo(participantRepo).
		WithTeamRepo(teamRepo).
		WithMembershipRepo(membershipRepo).
		WithRequestRepo(requestRepo).
		WithLedger(ledger).
		WithNotifier(notifier)

	polls := service.NewPollService(transactor, cfg).
		WithParticipantRepo(participantRepo).
		WithTeamRepo(teamRepo).
		WithPollRepo(pollRepo).
		WithNotifier(notifier)

	selection := service.NewSelectionService(transactor).
		WithTeamRepo(teamRepo).
		WithPollRepo(pollRepo).
		WithNotifier(notifier)

	submissions := service.NewSubmissionService(transactor, cfg).
		WithTeamRepo(teamRepo).
		WithSubmissionRepo(submissionRepo).
		WithNotifier(notifier)

	sweeper := service.NewPollSweeper(cfg, polls).
		WithTeamRepo(teamRepo).
		WithPollRepo(pollRepo).
		WithNotifier(notifier)
	go sweeper.Run(ctx)

	healthChecker := api.MustNewHealthChecker(health.Config{
		Name:  "postgres",
		Check: healthPostgres.New(healthPostgres.Config{DSN: cfg.DatabaseURL}),
	})

	e := echo.New()

	handler := api.NewHandler(log).
		WithHealthChecker(healthChecker).
		WithMetrics(registry).
		WithTeamService(teams).
		WithRequestService(requests).
		WithPollService(polls).
		WithSelectionService(selection).
		WithSubmissionService(submissions)

	handler.RegisterRoutes(e)

	log.Info("server starting", zap.String("addr", cfg.ListenAddr))
	if err = e.Start(cfg.ListenAddr); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}
