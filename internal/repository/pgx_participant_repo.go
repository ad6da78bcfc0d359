package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okoshkin/teamup/internal/db"
	"github.com/pkg/errors"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"
)

type Participant struct {
	ID          string  `db:"id"`
	EventID     string  `db:"event_id"`
	DisplayName string  `db:"display_name"`
	Email       string  `db:"email"`
	Role        string  `db:"role"`
	TeamID      *string `db:"team_id"`
}

type ParticipantRepository interface {
	Get(ctx context.Context, participantID string) (*Participant, error)
	// GetForUpdate takes a row lock on the participant so concurrent
	// acceptances across different teams serialize on the same row.
	GetForUpdate(ctx context.Context, participantID string) (*Participant, error)
	SetTeam(ctx context.Context, participantID string, teamID *string) error
	Upsert(ctx context.Context, participant *Participant) error
}

type pgxParticipantRepository struct {
	pool *pgxpool.Pool
}

func NewPgxParticipantRepository(pool *pgxpool.Pool) ParticipantRepository {
	return &pgxParticipantRepository{pool: pool}
}

func (p *pgxParticipantRepository) get(ctx context.Context, participantID string, mods ...bob.Mod[*dialect.SelectQuery]) (*Participant, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns("id", "event_id", "display_name", "email", "role", "team_id"),
		sm.From("participants"),
		sm.Where(psql.Quote("id").EQ(psql.Arg(participantID))),
	)
	q.Apply(mods...)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	part := &Participant{}
	if err = e.QueryRow(ctx, sql, args...).Scan(
		&part.ID,
		&part.EventID,
		&part.DisplayName,
		&part.Email,
		&part.Role,
		&part.TeamID,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return part, nil
}

func (p *pgxParticipantRepository) Get(ctx context.Context, participantID string) (*Participant, error) {
	return p.get(ctx, participantID)
}

func (p *pgxParticipantRepository) GetForUpdate(ctx context.Context, participantID string) (*Participant, error) {
	return p.get(ctx, participantID, sm.ForUpdate("participants"))
}

func (p *pgxParticipantRepository) SetTeam(ctx context.Context, participantID string, teamID *string) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("participants"),
		um.SetCol("team_id").ToArg(teamID),
		um.Where(psql.Quote("id").EQ(psql.Arg(participantID))),
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

func (p *pgxParticipantRepository) Upsert(ctx context.Context, participant *Participant) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("participants", "id", "event_id", "display_name", "email", "role", "team_id"),
		im.Values(
			psql.Arg(participant.ID),
			psql.Arg(participant.EventID),
			psql.Arg(participant.DisplayName),
			psql.Arg(participant.Email),
			psql.Arg(participant.Role),
			psql.Arg(participant.TeamID),
		),
		im.OnConflict(psql.Quote("id")).DoUpdate(
			im.SetCol("display_name").ToArg(participant.DisplayName),
			im.SetCol("email").ToArg(participant.Email),
			im.SetCol("role").ToArg(participant.Role),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	_, err = e.Exec(ctx, sql, args...)
	return err
}
