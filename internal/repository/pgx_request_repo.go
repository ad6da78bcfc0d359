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
	"github.com/stephenafamo/bob/dialect/psql/um"

	"github.com/okoshkin/teamup/internal/db"
	"github.com/okoshkin/teamup/internal/model"
)

type Request struct {
	ID         string                 `db:"id"`
	EventID    string                 `db:"event_id"`
	TeamID     string                 `db:"team_id"`
	Direction  model.RequestDirection `db:"direction"`
	FromID     string                 `db:"from_id"`
	ToID       string                 `db:"to_id"`
	Status     model.RequestStatus    `db:"status"`
	Message    string                 `db:"message"`
	CreatedAt  time.Time              `db:"created_at"`
	ResolvedAt *time.Time             `db:"resolved_at"`
}

type RequestRepository interface {
	Create(ctx context.Context, request *Request) error
	Get(ctx context.Context, requestID string) (*Request, error)
	GetForUpdate(ctx context.Context, requestID string) (*Request, error)
	// Resolve transitions a pending request to a terminal status. Returns
	// ErrNotFound when the request is missing or no longer pending, which
	// keeps resolution single-shot.
	Resolve(ctx context.Context, requestID string, status model.RequestStatus, resolvedAt time.Time) error
	// HasPending reports whether an identical pending request exists.
	// An empty toID leaves the addressee out of the match.
	HasPending(ctx context.Context, teamID string, direction model.RequestDirection, fromID, toID string) (bool, error)
	// InvalidatePendingFor bulk-invalidates every pending request that
	// references the participant in the event, except excludeID (the
	// request being accepted resolves separately). Returns the rows it
	// touched so each transition can be announced.
	InvalidatePendingFor(ctx context.Context, eventID, participantID, excludeID string, resolvedAt time.Time) ([]*Request, error)
	ListByTeam(ctx context.Context, teamID string, status model.RequestStatus) ([]*Request, error)
	ListByParticipant(ctx context.Context, eventID, participantID string, status model.RequestStatus) ([]*Request, error)
}

type pgxRequestRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &pgxRequestRepository{pool: pool}
}

var requestColumns = []string{"id", "event_id", "team_id", "direction", "from_id", "to_id", "status", "message", "created_at", "resolved_at"}

func scanRequest(row pgx.Row) (*Request, error) {
	r := &Request{}
	err := row.Scan(
		&r.ID,
		&r.EventID,
		&r.TeamID,
		&r.Direction,
		&r.FromID,
		&r.ToID,
		&r.Status,
		&r.Message,
		&r.CreatedAt,
		&r.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func collectRequests(rows pgx.Rows) ([]*Request, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Request, error) {
		r := &Request{}
		if err := row.Scan(
			&r.ID,
			&r.EventID,
			&r.TeamID,
			&r.Direction,
			&r.FromID,
			&r.ToID,
			&r.Status,
			&r.Message,
			&r.CreatedAt,
			&r.ResolvedAt,
		); err != nil {
			return nil, err
		}
		return r, nil
	})
}

func (p *pgxRequestRepository) Create(ctx context.Context, request *Request) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("requests", requestColumns...),
		im.Values(
			psql.Arg(request.ID),
			psql.Arg(request.EventID),
			psql.Arg(request.TeamID),
			psql.Arg(request.Direction),
			psql.Arg(request.FromID),
			psql.Arg(request.ToID),
			psql.Arg(request.Status),
			psql.Arg(request.Message),
			psql.Arg(request.CreatedAt),
			psql.Arg(request.ResolvedAt),
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

func (p *pgxRequestRepository) Get(ctx context.Context, requestID string) (*Request, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(toAnySlice(requestColumns)...),
		sm.From("requests"),
		sm.Where(psql.Quote("id").EQ(psql.Arg(requestID))),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	return scanRequest(e.QueryRow(ctx, sql, args...))
}

func (p *pgxRequestRepository) GetForUpdate(ctx context.Context, requestID string) (*Request, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(toAnySlice(requestColumns)...),
		sm.From("requests"),
		sm.Where(psql.Quote("id").EQ(psql.Arg(requestID))),
		sm.ForUpdate("requests"),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	return scanRequest(e.QueryRow(ctx, sql, args...))
}

func (p *pgxRequestRepository) Resolve(ctx context.Context, requestID string, status model.RequestStatus, resolvedAt time.Time) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("requests"),
		um.SetCol("status").ToArg(status),
		um.SetCol("resolved_at").ToArg(resolvedAt),
		um.Where(
			psql.Quote("id").EQ(psql.Arg(requestID)).
				And(psql.Quote("status").EQ(psql.Arg(model.RequestStatusPending))),
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

func (p *pgxRequestRepository) HasPending(ctx context.Context, teamID string, direction model.RequestDirection, fromID, toID string) (bool, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	where := psql.Quote("team_id").EQ(psql.Arg(teamID)).
		And(psql.Quote("direction").EQ(psql.Arg(direction))).
		And(psql.Quote("from_id").EQ(psql.Arg(fromID))).
		And(psql.Quote("status").EQ(psql.Arg(model.RequestStatusPending)))
	if toID != "" {
		where = where.And(psql.Quote("to_id").EQ(psql.Arg(toID)))
	}

	q := psql.Select(
		sm.Columns(psql.F("count", "*")),
		sm.From("requests"),
		sm.Where(where),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return false, err
	}

	var count int
	if err = e.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *pgxRequestRepository) InvalidatePendingFor(ctx context.Context, eventID, participantID, excludeID string, resolvedAt time.Time) ([]*Request, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("requests"),
		um.SetCol("status").ToArg(model.RequestStatusInvalidated),
		um.SetCol("resolved_at").ToArg(resolvedAt),
		um.Where(
			psql.Quote("event_id").EQ(psql.Arg(eventID)).
				And(psql.Quote("status").EQ(psql.Arg(model.RequestStatusPending))).
				And(psql.Quote("id").NE(psql.Arg(excludeID))).
				And(
					psql.Quote("from_id").EQ(psql.Arg(participantID)).
						Or(psql.Quote("to_id").EQ(psql.Arg(participantID))),
				),
		),
		um.Returning(toAnySlice(requestColumns)...),
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

	return collectRequests(rows)
}

func (p *pgxRequestRepository) ListByTeam(ctx context.Context, teamID string, status model.RequestStatus) ([]*Request, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(toAnySlice(requestColumns)...),
		sm.From("requests"),
		sm.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("status").EQ(psql.Arg(status))),
		),
		sm.OrderBy("created_at").Asc(),
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

	return collectRequests(rows)
}

func (p *pgxRequestRepository) ListByParticipant(ctx context.Context, eventID, participantID string, status model.RequestStatus) ([]*Request, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(toAnySlice(requestColumns)...),
		sm.From("requests"),
		sm.Where(
			psql.Quote("event_id").EQ(psql.Arg(eventID)).
				And(psql.Quote("status").EQ(psql.Arg(status))).
				And(
					psql.Quote("from_id").EQ(psql.Arg(participantID)).
						Or(psql.Quote("to_id").EQ(psql.Arg(participantID))),
				),
		),
		sm.OrderBy("created_at").Asc(),
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

	return collectRequests(rows)
}
