package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/phase"
)

type phaseRow struct {
	ID                    string      `db:"id"`
	PhaseNumber           int         `db:"phase_number"`
	Title                 string      `db:"title"`
	Description           null.String `db:"description"`
	YoutubeURL            null.String `db:"youtube_url"`
	AssignmentResourceURL null.String `db:"assignment_resource_url"`
	AllowedSubmissionType string      `db:"allowed_submission_type"`
	StartDate             null.Time   `db:"start_date"`
	EndDate               null.Time   `db:"end_date"`
	IsActive              bool        `db:"is_active"`
	IsMandatory           bool        `db:"is_mandatory"`
	IsPaused              bool        `db:"is_paused"`
	PauseReason           null.String `db:"pause_reason"`
	PausedAt              null.Time   `db:"paused_at"`
	MinSecondsRequired    int         `db:"min_seconds_required"`
	TotalAssignments      int         `db:"total_assignments"`
	BypassTimeRequirement bool        `db:"bypass_time_requirement"`
	CreatedAt             null.Time   `db:"created_at"`
	UpdatedAt             null.Time   `db:"updated_at"`
}

var phaseColumns = []string{
	"id", "phase_number", "title", "description", "youtube_url",
	"assignment_resource_url", "allowed_submission_type", "start_date",
	"end_date", "is_active", "is_mandatory", "is_paused", "pause_reason",
	"paused_at", "min_seconds_required", "total_assignments",
	"bypass_time_requirement", "created_at", "updated_at",
}

type phaseRepository struct {
	db *sqlx.DB
}

var _ phase.Repository = (*phaseRepository)(nil) // interface compliance check

func NewPhaseRepository(db *sqlx.DB) *phaseRepository {
	return &phaseRepository{db: db}
}

func (repo phaseRepository) toRow(ph phase.Phase) phaseRow {
	return phaseRow{
		ID:                    ph.ID,
		PhaseNumber:           ph.PhaseNumber,
		Title:                 ph.Title,
		Description:           null.NewString(ph.Description, ph.Description != ""),
		YoutubeURL:            null.NewString(ph.YoutubeURL, ph.YoutubeURL != ""),
		AssignmentResourceURL: null.NewString(ph.AssignmentResourceURL, ph.AssignmentResourceURL != ""),
		AllowedSubmissionType: string(ph.AllowedSubmissionType),
		StartDate:             null.TimeFrom(ph.StartDate.UTC()),
		EndDate:               null.TimeFrom(ph.EndDate.UTC()),
		IsActive:              ph.IsActive,
		IsMandatory:           ph.IsMandatory,
		IsPaused:              ph.IsPaused,
		PauseReason:           null.NewString(ph.PauseReason, ph.PauseReason != ""),
		PausedAt:              null.NewTime(ph.PausedAt.UTC(), !ph.PausedAt.IsZero()),
		MinSecondsRequired:    ph.MinSecondsRequired,
		TotalAssignments:      ph.TotalAssignments,
		BypassTimeRequirement: ph.BypassTimeRequirement,
		CreatedAt:             null.NewTime(ph.CreatedAt.UTC(), !ph.CreatedAt.IsZero()),
		UpdatedAt:             null.NewTime(ph.UpdatedAt.UTC(), !ph.UpdatedAt.IsZero()),
	}
}

func (repo phaseRepository) fromRow(row phaseRow) phase.Phase {
	return phase.Phase{
		ID:                    row.ID,
		PhaseNumber:           row.PhaseNumber,
		Title:                 row.Title,
		Description:           row.Description.String,
		YoutubeURL:            row.YoutubeURL.String,
		AssignmentResourceURL: row.AssignmentResourceURL.String,
		AllowedSubmissionType: phase.AllowedSubmissionType(row.AllowedSubmissionType),
		StartDate:             row.StartDate.Time,
		EndDate:               row.EndDate.Time,
		IsActive:              row.IsActive,
		IsMandatory:           row.IsMandatory,
		IsPaused:              row.IsPaused,
		PauseReason:           row.PauseReason.String,
		PausedAt:              row.PausedAt.Time,
		MinSecondsRequired:    row.MinSecondsRequired,
		TotalAssignments:      row.TotalAssignments,
		BypassTimeRequirement: row.BypassTimeRequirement,
		CreatedAt:             row.CreatedAt.Time,
		UpdatedAt:             row.UpdatedAt.Time,
	}
}

func (repo phaseRepository) fromRows(rows []phaseRow) []phase.Phase {
	phases := make([]phase.Phase, 0, len(rows))
	for _, row := range rows {
		phases = append(phases, repo.fromRow(row))
	}
	return phases
}

func (repo phaseRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return phase.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo phaseRepository) CheckPhaseNumberUniqueness(ctx context.Context, number int, excludedPhases []phase.Phase) error {
	qb := psql.Select("COUNT(*)").From("phase").Where(sq.Eq{"phase_number": number})
	if len(excludedPhases) > 0 {
		ids := make([]string, 0, len(excludedPhases))
		for _, ph := range excludedPhases {
			ids = append(ids, ph.ID)
		}
		qb = qb.Where(sq.NotEq{"id": ids})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}
	var cnt int
	if err = repo.db.GetContext(ctx, &cnt, query, args...); err != nil {
		return errors.Wrap(err, "checking phase number uniqueness")
	}
	if cnt > 0 {
		return phase.ErrNumberExists
	}
	return nil
}

func (repo phaseRepository) CreatePhase(ctx context.Context, ph phase.Phase) (phase.Phase, error) {
	ph.ID = uuid.New().String()
	row := repo.toRow(ph)
	query, args, err := psql.
		Insert("phase").
		Columns(phaseColumns...).
		Values(
			row.ID, row.PhaseNumber, row.Title, row.Description, row.YoutubeURL,
			row.AssignmentResourceURL, row.AllowedSubmissionType, row.StartDate,
			row.EndDate, row.IsActive, row.IsMandatory, row.IsPaused,
			row.PauseReason, row.PausedAt, row.MinSecondsRequired,
			row.TotalAssignments, row.BypassTimeRequirement, row.CreatedAt,
			row.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return phase.Phase{}, errors.Wrap(err, "building phase insert")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return phase.Phase{}, errors.Wrap(err, "inserting phase")
	}
	return repo.fromRow(row), nil
}

func (repo phaseRepository) QueryAllPhases(ctx context.Context) ([]phase.Phase, error) {
	return repo.FilterPhases(ctx, nil, []core.DBOrdering{{Field: "phase_number", Ascending: true}})
}

func (repo phaseRepository) GetPhaseByID(ctx context.Context, id string) (phase.Phase, error) {
	if _, err := uuid.Parse(id); err != nil {
		return phase.Phase{}, phase.ErrNotFound
	}
	query, args, err := psql.Select(phaseColumns...).From("phase").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return phase.Phase{}, errors.Wrap(err, "building phase query")
	}
	var row phaseRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return phase.Phase{}, repo.trapNoRowsErr(err, "finding phase by ID")
	}
	return repo.fromRow(row), nil
}

func (repo phaseRepository) GetPhaseByNumber(ctx context.Context, number int) (phase.Phase, error) {
	query, args, err := psql.Select(phaseColumns...).From("phase").Where(sq.Eq{"phase_number": number}).ToSql()
	if err != nil {
		return phase.Phase{}, errors.Wrap(err, "building phase query")
	}
	var row phaseRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return phase.Phase{}, repo.trapNoRowsErr(err, "finding phase by number")
	}
	return repo.fromRow(row), nil
}

func (repo phaseRepository) FilterPhases(ctx context.Context, filter *phase.QueryFilter, ordering []core.DBOrdering) ([]phase.Phase, error) {
	qb := psql.Select(phaseColumns...).From("phase")

	if filter != nil {
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if filter.IsMandatory != nil {
			qb = qb.Where(sq.Eq{"is_mandatory": *filter.IsMandatory})
		}
		if !filter.StartFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"start_date": filter.StartFrom.UTC()})
		}
		if !filter.StartTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"start_date": filter.StartTo.UTC()})
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "phase_number", Ascending: true}}
	}
	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building phases query")
	}
	var rows []phaseRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying phases")
	}
	return repo.fromRows(rows), nil
}

func (repo phaseRepository) UpdatePhase(ctx context.Context, ph phase.Phase, isActive, isPaused, isMandatory, bypass *bool) (phase.Phase, error) {
	row := repo.toRow(ph)
	qb := psql.
		Update("phase").
		Set("title", row.Title).
		Set("description", row.Description).
		Set("youtube_url", row.YoutubeURL).
		Set("assignment_resource_url", row.AssignmentResourceURL).
		Set("allowed_submission_type", row.AllowedSubmissionType).
		Set("pause_reason", row.PauseReason).
		Set("paused_at", row.PausedAt).
		Set("min_seconds_required", row.MinSecondsRequired).
		Set("total_assignments", row.TotalAssignments).
		Set("updated_at", row.UpdatedAt).
		Where(sq.Eq{"id": row.ID})
	if ph.PhaseNumber > 0 {
		qb = qb.Set("phase_number", row.PhaseNumber)
	}
	if !ph.StartDate.IsZero() {
		qb = qb.Set("start_date", row.StartDate)
	}
	if !ph.EndDate.IsZero() {
		qb = qb.Set("end_date", row.EndDate)
	}
	if isActive != nil {
		qb = qb.Set("is_active", *isActive)
	}
	if isPaused != nil {
		qb = qb.Set("is_paused", *isPaused)
	}
	if isMandatory != nil {
		qb = qb.Set("is_mandatory", *isMandatory)
	}
	if bypass != nil {
		qb = qb.Set("bypass_time_requirement", *bypass)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return phase.Phase{}, errors.Wrap(err, "building phase update")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return phase.Phase{}, errors.Wrap(err, "updating phase")
	}
	return repo.GetPhaseByID(ctx, ph.ID)
}

func (repo phaseRepository) DeletePhasesByID(ctx context.Context, ids []string) error {
	query, args, err := psql.Delete("phase").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building phases delete")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "deleting phases")
	}
	return nil
}
