package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dm"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"

	"github.com/okoshkin/teamup/internal/db"
)

type MembershipRepository interface {
	Add(ctx context.Context, teamID, participantID string, joinedAt time.Time) error
	Remove(ctx context.Context, teamID, participantID string) error
	GetMembers(ctx context.Context, teamID string) ([]*TeamMember, error)
	CountMembers(ctx context.Context, teamID string) (int, error)
	// OldestMember returns the earliest-joined member of the team other
	// than excludeID, the deterministic leadership successor.
	OldestMember(ctx context.Context, teamID, excludeID string) (*TeamMember, error)
}

type pgxMembershipRepository struct {
	pool *pgxpool.Pool
}

func NewPgxMembershipRepository(pool *pgxpool.Pool) MembershipRepository {
	return &pgxMembershipRepository{pool: pool}
}

func (p *pgxMembershipRepository) Add(ctx context.Context, teamID, participantID string, joinedAt time.Time) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("team_members", "team_id", "participant_id", "joined_at"),
		im.Values(psql.Arg(teamID), psql.Arg(participantID), psql.Arg(joinedAt)),
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

func (p *pgxMembershipRepository) Remove(ctx context.Context, teamID, participantID string) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Delete(
		dm.From("team_members"),
		dm.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("participant_id").EQ(psql.Arg(participantID))),
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

func (p *pgxMembershipRepository) GetMembers(ctx context.Context, teamID string) ([]*TeamMember, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("team_members.team_id", "team_members.participant_id", "participants.display_name", "team_members.joined_at"),
		sm.From("team_members"),
		sm.LeftJoin("participants").On(psql.Quote("team_members", "participant_id").EQ(psql.Quote("participants", "id"))),
		sm.Where(psql.Quote("team_members", "team_id").EQ(psql.Arg(teamID))),
		sm.OrderBy("team_members.joined_at").Asc(),
		sm.OrderBy("team_members.participant_id").Asc(),
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

	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*TeamMember, error) {
		member := &TeamMember{}
		if err = row.Scan(&member.TeamID, &member.ParticipantID, &member.DisplayName, &member.JoinedAt); err != nil {
			return nil, err
		}
		return member, nil
	})
	if err != nil {
		return nil, err
	}

	return members, nil
}

func (p *pgxMembershipRepository) CountMembers(ctx context.Context, teamID string) (int, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(psql.F("count", "*")),
		sm.From("team_members"),
		sm.Where(psql.Quote("team_id").EQ(psql.Arg(teamID))),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	if err = e.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (p *pgxMembershipRepository) OldestMember(ctx context.Context, teamID, excludeID string) (*TeamMember, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("team_id", "participant_id", "joined_at"),
		sm.From("team_members"),
		sm.Where(
			psql.Quote("team_id").EQ(psql.Arg(teamID)).
				And(psql.Quote("participant_id").NE(psql.Arg(excludeID))),
		),
		sm.OrderBy("joined_at").Asc(),
		sm.OrderBy("participant_id").Asc(),
		sm.Limit(1),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	member := &TeamMember{}
	if err = e.QueryRow(ctx, sql, args...).Scan(&member.TeamID, &member.ParticipantID, &member.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return member, nil
}
