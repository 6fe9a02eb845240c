package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/hatua/core/activity"
)

type activityRow struct {
	ID                    string    `db:"id"`
	StudentID             string    `db:"student_id"`
	PhaseID               string    `db:"phase_id"`
	TotalTimeSpentSeconds int       `db:"total_time_spent_seconds"`
	VideoWatchedSeconds   int       `db:"video_watched_seconds"`
	VideoCompleted        bool      `db:"video_completed"`
	IsDeleted             bool      `db:"is_deleted"`
	LastActivityAt        null.Time `db:"last_activity_at"`
	CreatedAt             null.Time `db:"created_at"`
	UpdatedAt             null.Time `db:"updated_at"`
}

var activityColumns = []string{
	"id", "student_id", "phase_id", "total_time_spent_seconds",
	"video_watched_seconds", "video_completed", "is_deleted",
	"last_activity_at", "created_at", "updated_at",
}

type activityRepository struct {
	db *sqlx.DB
}

var _ activity.Repository = (*activityRepository)(nil) // interface compliance check

func NewActivityRepository(db *sqlx.DB) *activityRepository {
	return &activityRepository{db: db}
}

func (repo activityRepository) fromRow(row activityRow) activity.PhaseActivity {
	return activity.PhaseActivity{
		ID:                    row.ID,
		StudentID:             row.StudentID,
		PhaseID:               row.PhaseID,
		TotalTimeSpentSeconds: row.TotalTimeSpentSeconds,
		VideoWatchedSeconds:   row.VideoWatchedSeconds,
		VideoCompleted:        row.VideoCompleted,
		IsDeleted:             row.IsDeleted,
		LastActivityAt:        row.LastActivityAt.Time,
		CreatedAt:             row.CreatedAt.Time,
		UpdatedAt:             row.UpdatedAt.Time,
	}
}

func (repo activityRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return activity.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo activityRepository) GetActivity(ctx context.Context, studentID, phaseID string) (activity.PhaseActivity, error) {
	query, args, err := psql.
		Select(activityColumns...).
		From("student_phase_activity").
		Where(sq.Eq{"student_id": studentID, "phase_id": phaseID}).
		ToSql()
	if err != nil {
		return activity.PhaseActivity{}, errors.Wrap(err, "building activity query")
	}
	var row activityRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return activity.PhaseActivity{}, repo.trapNoRowsErr(err, "finding phase activity")
	}
	return repo.fromRow(row), nil
}

// UpsertActivity overwrites the stored counter with the caller's value. The
// video flag only turns on; a row that already reads true keeps it.
func (repo activityRepository) UpsertActivity(ctx context.Context, act activity.PhaseActivity) (activity.PhaseActivity, error) {
	var row activityRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO student_phase_activity
			(id, student_id, phase_id, total_time_spent_seconds, video_completed, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (student_id, phase_id) DO UPDATE
		SET total_time_spent_seconds = EXCLUDED.total_time_spent_seconds,
		    video_completed          = student_phase_activity.video_completed OR EXCLUDED.video_completed,
		    last_activity_at         = EXCLUDED.last_activity_at,
		    updated_at               = EXCLUDED.updated_at
		RETURNING `+columnList(activityColumns),
		uuid.New().String(), act.StudentID, act.PhaseID,
		act.TotalTimeSpentSeconds, act.VideoCompleted, act.LastActivityAt.UTC(),
	)
	if err != nil {
		return activity.PhaseActivity{}, errors.Wrap(err, "upserting phase activity")
	}
	return repo.fromRow(row), nil
}

func (repo activityRepository) AddActivitySeconds(ctx context.Context, studentID, phaseID string, delta int, lastActivityAt time.Time) (activity.PhaseActivity, error) {
	var row activityRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO student_phase_activity
			(id, student_id, phase_id, total_time_spent_seconds, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $5)
		ON CONFLICT (student_id, phase_id) DO UPDATE
		SET total_time_spent_seconds = student_phase_activity.total_time_spent_seconds + EXCLUDED.total_time_spent_seconds,
		    last_activity_at         = EXCLUDED.last_activity_at,
		    updated_at               = EXCLUDED.updated_at
		RETURNING `+columnList(activityColumns),
		uuid.New().String(), studentID, phaseID, delta, lastActivityAt.UTC(),
	)
	if err != nil {
		return activity.PhaseActivity{}, errors.Wrap(err, "incrementing phase activity")
	}
	return repo.fromRow(row), nil
}

func (repo activityRepository) SetVideoCompleted(ctx context.Context, studentID, phaseID string, at time.Time) (activity.PhaseActivity, error) {
	var row activityRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO student_phase_activity
			(id, student_id, phase_id, video_completed, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4, $4)
		ON CONFLICT (student_id, phase_id) DO UPDATE
		SET video_completed  = TRUE,
		    last_activity_at = EXCLUDED.last_activity_at,
		    updated_at       = EXCLUDED.updated_at
		RETURNING `+columnList(activityColumns),
		uuid.New().String(), studentID, phaseID, at.UTC(),
	)
	if err != nil {
		return activity.PhaseActivity{}, errors.Wrap(err, "marking video completed")
	}
	return repo.fromRow(row), nil
}

func (repo activityRepository) QueryActivitiesByPhase(ctx context.Context, phaseID string) ([]activity.PhaseActivity, error) {
	query, args, err := psql.
		Select(activityColumns...).
		From("student_phase_activity").
		Where(sq.Eq{"phase_id": phaseID, "is_deleted": false}).
		OrderBy("total_time_spent_seconds DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building activities query")
	}
	var rows []activityRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying phase activities")
	}
	acts := make([]activity.PhaseActivity, 0, len(rows))
	for _, row := range rows {
		acts = append(acts, repo.fromRow(row))
	}
	return acts, nil
}

type activityLogRepository struct {
	db *sqlx.DB
}

var _ activity.LogRepository = (*activityLogRepository)(nil) // interface compliance check

func NewActivityLogRepository(db *sqlx.DB) *activityLogRepository {
	return &activityLogRepository{db: db}
}

func (repo activityLogRepository) AppendLog(ctx context.Context, entry activity.LogEntry) error {
	var payload null.JSON
	if entry.Payload != nil {
		raw, err := json.Marshal(entry.Payload)
		if err != nil {
			return errors.Wrap(err, "marshalling log payload")
		}
		payload = null.JSONFrom(raw)
	}
	query, args, err := psql.
		Insert("activity_log").
		Columns("id", "student_id", "phase_id", "activity_type", "payload", "created_at").
		Values(
			uuid.New().String(), entry.StudentID,
			null.NewString(entry.PhaseID, entry.PhaseID != ""),
			string(entry.Type), payload, entry.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building log insert")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "appending activity log")
	}
	return nil
}
