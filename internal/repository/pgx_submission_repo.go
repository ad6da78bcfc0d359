package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"

	"github.com/okoshkin/teamup/internal/db"
)

type Submission struct {
	TeamID      string    `db:"team_id"`
	URL         string    `db:"url"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	SubmittedBy string    `db:"submitted_by"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// SubmissionRepository is insert-only: submissions have no update or
// delete path.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *Submission) error
	Get(ctx context.Context, teamID string) (*Submission, error)
}

type pgxSubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewPgxSubmissionRepository(pool *pgxpool.Pool) SubmissionRepository {
	return &pgxSubmissionRepository{pool: pool}
}

func (p *pgxSubmissionRepository) Create(ctx context.Context, submission *Submission) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("submissions", "team_id", "url", "title", "description", "submitted_by", "submitted_at"),
		im.Values(
			psql.Arg(submission.TeamID),
			psql.Arg(submission.URL),
			psql.Arg(submission.Title),
			psql.Arg(submission.Description),
			psql.Arg(submission.SubmittedBy),
			psql.Arg(submission.SubmittedAt),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	_, err = e.Exec(ctx, sql, args...)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyExists
		case "23503":
			return ErrNotFound
		}
	}
	return err
}

func (p *pgxSubmissionRepository) Get(ctx context.Context, teamID string) (*Submission, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("team_id", "url", "title", "description", "submitted_by", "submitted_at"),
		sm.From("submissions"),
		sm.Where(psql.Quote("team_id").EQ(psql.Arg(teamID))),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	submission := &Submission{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&submission.TeamID,
		&submission.URL,
		&submission.Title,
		&submission.Description,
		&submission.SubmittedBy,
		&submission.SubmittedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return submission, nil
}
