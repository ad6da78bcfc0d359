package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"

	"github.com/okoshkin/teamup/internal/db"
	"github.com/okoshkin/teamup/internal/model"
)

type Poll struct {
	ID               string           `db:"id"`
	TeamID           string           `db:"team_id"`
	CandidateOptions []string         `db:"candidate_options"`
	StartedAt        time.Time        `db:"started_at"`
	DurationMinutes  int              `db:"duration_minutes"`
	EndsAt           time.Time        `db:"ends_at"`
	Status           model.PollStatus `db:"status"`
	Result           *string          `db:"result"`
	ConcludedAt      *time.Time       `db:"concluded_at"`
	Warned20m        bool             `db:"warned_20m"`
	Warned10m        bool             `db:"warned_10m"`
}

type Vote struct {
	PollID   string    `db:"poll_id"`
	VoterID  string    `db:"voter_id"`
	OptionID string    `db:"option_id"`
	CastAt   time.Time `db:"cast_at"`
}

type PollRepository interface {
	Create(ctx context.Context, poll *Poll) error
	Get(ctx context.Context, pollID string) (*Poll, error)
	GetForUpdate(ctx context.Context, pollID string) (*Poll, error)
	// GetActiveByTeam returns the team's active poll, ErrNotFound if none.
	GetActiveByTeam(ctx context.Context, teamID string) (*Poll, error)
	// Conclude is conditional on status = active, so concurrent leader
	// and timeout conclusions cannot double-apply. ErrNotFound means the
	// poll was missing or already concluded.
	Conclude(ctx context.Context, pollID string, result *string, concludedAt time.Time) error
	UpsertVote(ctx context.Context, vote *Vote) error
	GetVotes(ctx context.Context, pollID string) ([]*Vote, error)
	ListActive(ctx context.Context) ([]*Poll, error)
	MarkWarned(ctx context.Context, pollID string, column string) (bool, error)
}

type pgxPollRepository struct {
	pool *pgxpool.Pool
}

func NewPgxPollRepository(pool *pgxpool.Pool) PollRepository {
	return &pgxPollRepository{pool: pool}
}

var pollColumns = []string{"id", "team_id", "candidate_options", "started_at", "duration_minutes", "ends_at", "status", "result", "concluded_at", "warned_20m", "warned_10m"}

func scanPollRow(row pgx.Row) (*Poll, error) {
	poll := &Poll{}
	err := row.Scan(
		&poll.ID,
		&poll.TeamID,
		&poll.CandidateOptions,
		&poll.StartedAt,
		&poll.DurationMinutes,
		&poll.EndsAt,
		&poll.Status,
		&poll.Result,
		&poll.ConcludedAt,
		&poll.Warned20m,
		&poll.Warned10m,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return poll, nil
}

func (p *pgxPollRepository) Create(ctx context.Context, poll *Poll) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("polls", pollColumns...),
		im.Values(
			psql.Arg(poll.ID),
			psql.Arg(poll.TeamID),
			psql.Arg(poll.CandidateOptions),
			psql.Arg(poll.StartedAt),
			psql.Arg(poll.DurationMinutes),
			psql.Arg(poll.EndsAt),
			psql.Arg(poll.Status),
			psql.Arg(poll.Result),
			psql.Arg(poll.ConcludedAt),
			psql.Arg(poll.Warned20m),
			psql.Arg(poll.Warned10m),
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

func (p *pgxPollRepository) get(ctx context.Context, mods ...bob.Mod[*dialect.SelectQuery]) (*Poll, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(toAnySlice(pollColumns)...),
		sm.From("polls"),
	)
	q.Apply(mods...)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	return scanPollRow(e.QueryRow(ctx, sql, args...))
}

func (p *pgxPollRepository) Get(ctx context.Context, pollID string) (*Poll, error) {
	return p.get(ctx, sm.Where(psql.Quote("id").EQ(psql.Arg(pollID))))
}

func (p *pgxPollRepository) GetForUpdate(ctx context.Context, pollID string) (*Poll, error) {
	return p.get(ctx,
		sm.Where(psql.Quote("id").EQ(psql.Arg(pollID))),
		sm.ForUpdate("polls"),
	)
}

func (p *pgxPollRepository) GetActiveByTeam(ctx context.Context, teamID string) (*Poll, error) {
	return p.get(ctx,
		sm.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("status").EQ(psql.Arg(model.PollStatusActive))),
		),
	)
}

func (p *pgxPollRepository) Conclude(ctx context.Context, pollID string, result *string, concludedAt time.Time) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("polls"),
		um.SetCol("status").ToArg(model.PollStatusConcluded),
		um.SetCol("result").ToArg(result),
		um.SetCol("concluded_at").ToArg(concludedAt),
		um.Where(
			psql.Quote("id").EQ(psql.Arg(pollID)).
				And(psql.Quote("status").EQ(psql.Arg(model.PollStatusActive))),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgxPollRepository) UpsertVote(ctx context.Context, vote *Vote) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("poll_votes", "poll_id", "voter_id", "option_id", "cast_at"),
		im.Values(psql.Arg(vote.PollID), psql.Arg(vote.VoterID), psql.Arg(vote.OptionID), psql.Arg(vote.CastAt)),
		im.OnConflict(psql.Quote("poll_id"), psql.Quote("voter_id")).DoUpdate(
			im.SetCol("option_id").ToArg(vote.OptionID),
			im.SetCol("cast_at").ToArg(vote.CastAt),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	_, err = e.Exec(ctx, sql, args...)
	return err
}

func (p *pgxPollRepository) GetVotes(ctx context.Context, pollID string) ([]*Vote, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("poll_id", "voter_id", "option_id", "cast_at"),
		sm.From("poll_votes"),
		sm.Where(psql.Quote("poll_id").EQ(psql.Arg(pollID))),
		sm.OrderBy("cast_at").Asc(),
		sm.OrderBy("voter_id").Asc(),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := e.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Vote, error) {
		vote := &Vote{}
		if err = row.Scan(&vote.PollID, &vote.VoterID, &vote.OptionID, &vote.CastAt); err != nil {
			return nil, err
		}
		return vote, nil
	})
	if err != nil {
		return nil, err
	}

	return votes, nil
}

func (p *pgxPollRepository) ListActive(ctx context.Context) ([]*Poll, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(toAnySlice(pollColumns)...),
		sm.From("polls"),
		sm.Where(psql.Quote("status").EQ(psql.Arg(model.PollStatusActive))),
		sm.OrderBy("ends_at").Asc(),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := e.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	polls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Poll, error) {
		poll := &Poll{}
		if err = row.Scan(
			&poll.ID,
			&poll.TeamID,
			&poll.CandidateOptions,
			&poll.StartedAt,
			&poll.DurationMinutes,
			&poll.EndsAt,
			&poll.Status,
			&poll.Result,
			&poll.ConcludedAt,
			&poll.Warned20m,
			&poll.Warned10m,
		); err != nil {
			return nil, err
		}
		return poll, nil
	})
	if err != nil {
		return nil, err
	}

	return polls, nil
}

// MarkWarned flips an expiry-warning flag; reports whether this call was
// the one that flipped it, so each threshold is announced at most once.
func (p *pgxPollRepository) MarkWarned(ctx context.Context, pollID string, column string) (bool, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("polls"),
		um.SetCol(column).ToArg(true),
		um.Where(
			psql.Quote("id").EQ(psql.Arg(pollID)).
				And(psql.Quote(column).EQ(psql.Arg(false))),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return false, err
	}

	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
