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

type Team struct {
	ID                         string           `db:"id"`
	EventID                    string           `db:"event_id"`
	Name                       string           `db:"name"`
	MemberLimit                int              `db:"member_limit"`
	LeaderID                   string           `db:"leader_id"`
	Status                     model.TeamStatus `db:"status"`
	SelectedProblemStatementID *string          `db:"selected_problem_statement_id"`
	SelectionLocked            bool             `db:"selection_locked"`
}

type TeamPatch struct {
	ID       string            `db:"id"`
	LeaderID *string           `db:"leader_id"`
	Status   *model.TeamStatus `db:"status"`
}

type TeamMember struct {
	TeamID        string    `db:"team_id"`
	ParticipantID string    `db:"participant_id"`
	DisplayName   string    `db:"display_name"`
	JoinedAt      time.Time `db:"joined_at"`
}

type TeamRepository interface {
	Create(ctx context.Context, team *Team) error
	Get(ctx context.Context, teamID string) (*Team, error)
	// GetForUpdate locks the team row; every mutating flow for one team
	// starts here so mutations serialize in the database.
	GetForUpdate(ctx context.Context, teamID string) (*Team, error)
	Patch(ctx context.Context, patch *TeamPatch) (*Team, error)
	// LockSelection sets the problem statement and the lock flag in one
	// statement guarded on selection_locked = false.
	LockSelection(ctx context.Context, teamID, problemStatementID string) error
}

type pgxTeamRepository struct {
	pool *pgxpool.Pool
}

func NewPgxTeamRepository(pool *pgxpool.Pool) TeamRepository {
	return &pgxTeamRepository{pool: pool}
}

var teamColumns = []string{"id", "event_id", "name", "member_limit", "leader_id", "status", "selected_problem_statement_id", "selection_locked"}

func scanTeam(row pgx.Row) (*Team, error) {
	team := &Team{}
	err := row.Scan(
		&team.ID,
		&team.EventID,
		&team.Name,
		&team.MemberLimit,
		&team.LeaderID,
		&team.Status,
		&team.SelectedProblemStatementID,
		&team.SelectionLocked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (p *pgxTeamRepository) Create(ctx context.Context, team *Team) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Insert(
		im.Into("teams", teamColumns...),
		im.Values(
			psql.Arg(team.ID),
			psql.Arg(team.EventID),
			psql.Arg(team.Name),
			psql.Arg(team.MemberLimit),
			psql.Arg(team.LeaderID),
			psql.Arg(team.Status),
			psql.Arg(team.SelectedProblemStatementID),
			psql.Arg(team.SelectionLocked),
		),
	)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return err
	}

	_, err = e.Exec(ctx, sql, args...)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}

	return err
}

func (p *pgxTeamRepository) get(ctx context.Context, teamID string, mods ...bob.Mod[*dialect.SelectQuery]) (*Team, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Select(
		sm.Columns(toAnySlice(teamColumns)...),
		sm.From("teams"),
		sm.Where(psql.Quote("id").EQ(psql.Arg(teamID))),
	)
	q.Apply(mods...)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	return scanTeam(e.QueryRow(ctx, sql, args...))
}

func (p *pgxTeamRepository) Get(ctx context.Context, teamID string) (*Team, error) {
	return p.get(ctx, teamID)
}

func (p *pgxTeamRepository) GetForUpdate(ctx context.Context, teamID string) (*Team, error) {
	return p.get(ctx, teamID, sm.ForUpdate("teams"))
}

func (p *pgxTeamRepository) Patch(ctx context.Context, patch *TeamPatch) (*Team, error) {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	sets := make([]bob.Mod[*dialect.UpdateQuery], 0, 2)
	if patch.LeaderID != nil {
		sets = append(sets, um.SetCol("leader_id").ToArg(*patch.LeaderID))
	}
	if patch.Status != nil {
		sets = append(sets, um.SetCol("status").ToArg(*patch.Status))
	}

	q := psql.Update(
		um.Table("teams"),
		um.Where(psql.Quote("id").EQ(psql.Arg(patch.ID))),
		um.Returning(toAnySlice(teamColumns)...),
	)

	q.Apply(sets...)

	sql, args, err := q.Build(ctx)
	if err != nil {
		return nil, err
	}

	return scanTeam(e.QueryRow(ctx, sql, args...))
}

func (p *pgxTeamRepository) LockSelection(ctx context.Context, teamID, problemStatementID string) error {
	e := db.GetPgxExecutorFromContext(ctx, p.pool)

	q := psql.Update(
		um.Table("teams"),
		um.SetCol("selected_problem_statement_id").ToArg(problemStatementID),
		um.SetCol("selection_locked").ToArg(true),
		um.Where(
			psql.Quote("id").EQ(psql.Arg(teamID)).
				And(psql.Quote("selection_locked").EQ(psql.Arg(false))),
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

func toAnySlice(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c
	}
	return out
}
