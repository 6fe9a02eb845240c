package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/hatua/core/submission"
)

type submissionRow struct {
	ID              string      `db:"id"`
	StudentID       string      `db:"student_id"`
	PhaseID         string      `db:"phase_id"`
	AssignmentIndex int         `db:"assignment_index"`
	SubmissionType  string      `db:"submission_type"`
	GithubURL       null.String `db:"github_url"`
	FileURL         null.String `db:"file_url"`
	Notes           null.String `db:"notes"`
	Status          string      `db:"status"`
	SubmittedAt     null.Time   `db:"submitted_at"`
	CreatedAt       null.Time   `db:"created_at"`
	UpdatedAt       null.Time   `db:"updated_at"`
}

var submissionColumns = []string{
	"id", "student_id", "phase_id", "assignment_index", "submission_type",
	"github_url", "file_url", "notes", "status", "submitted_at", "created_at",
	"updated_at",
}

type submissionRepository struct {
	db *sqlx.DB
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *sqlx.DB) *submissionRepository {
	return &submissionRepository{db: db}
}

func (repo submissionRepository) fromRow(row submissionRow) submission.Submission {
	return submission.Submission{
		ID:              row.ID,
		StudentID:       row.StudentID,
		PhaseID:         row.PhaseID,
		AssignmentIndex: row.AssignmentIndex,
		Type:            submission.Type(row.SubmissionType),
		GithubURL:       row.GithubURL.String,
		FileURL:         row.FileURL.String,
		Notes:           row.Notes.String,
		Status:          submission.Status(row.Status),
		SubmittedAt:     row.SubmittedAt.Time,
		CreatedAt:       row.CreatedAt.Time,
		UpdatedAt:       row.UpdatedAt.Time,
	}
}

func (repo submissionRepository) fromRows(rows []submissionRow) []submission.Submission {
	subs := make([]submission.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, repo.fromRow(row))
	}
	return subs
}

func (repo submissionRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return submission.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo submissionRepository) GetSubmission(ctx context.Context, studentID, phaseID string, index int) (submission.Submission, error) {
	query, args, err := psql.
		Select(submissionColumns...).
		From("submission").
		Where(sq.Eq{"student_id": studentID, "phase_id": phaseID, "assignment_index": index}).
		ToSql()
	if err != nil {
		return submission.Submission{}, errors.Wrap(err, "building submission query")
	}
	var row submissionRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return submission.Submission{}, repo.trapNoRowsErr(err, "finding submission")
	}
	return repo.fromRow(row), nil
}

func (repo submissionRepository) QuerySubmissions(ctx context.Context, studentID, phaseID string) ([]submission.Submission, error) {
	query, args, err := psql.
		Select(submissionColumns...).
		From("submission").
		Where(sq.Eq{"student_id": studentID, "phase_id": phaseID}).
		OrderBy("assignment_index ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building submissions query")
	}
	var rows []submissionRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	return repo.fromRows(rows), nil
}

func (repo submissionRepository) QuerySubmissionsByPhase(ctx context.Context, phaseID string) ([]submission.Submission, error) {
	query, args, err := psql.
		Select(submissionColumns...).
		From("submission").
		Where(sq.Eq{"phase_id": phaseID}).
		OrderBy("student_id ASC", "assignment_index ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building submissions query")
	}
	var rows []submissionRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying phase submissions")
	}
	return repo.fromRows(rows), nil
}

// UpsertSubmission replaces the row keyed by (student, phase, assignment
// index). A resubmission keeps the original created_at.
func (repo submissionRepository) UpsertSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	var row submissionRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO submission
			(id, student_id, phase_id, assignment_index, submission_type,
			 github_url, file_url, notes, status, submitted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10)
		ON CONFLICT (student_id, phase_id, assignment_index) DO UPDATE
		SET submission_type = EXCLUDED.submission_type,
		    github_url      = EXCLUDED.github_url,
		    file_url        = EXCLUDED.file_url,
		    notes           = EXCLUDED.notes,
		    status          = EXCLUDED.status,
		    submitted_at    = EXCLUDED.submitted_at,
		    updated_at      = EXCLUDED.updated_at
		RETURNING `+columnList(submissionColumns),
		uuid.New().String(), sub.StudentID, sub.PhaseID, sub.AssignmentIndex,
		string(sub.Type),
		null.NewString(sub.GithubURL, sub.GithubURL != ""),
		null.NewString(sub.FileURL, sub.FileURL != ""),
		null.NewString(sub.Notes, sub.Notes != ""),
		string(sub.Status), sub.SubmittedAt.UTC(),
	)
	if err != nil {
		return submission.Submission{}, errors.Wrap(err, "upserting submission")
	}
	return repo.fromRow(row), nil
}

func (repo submissionRepository) UpdateSubmissionStatus(ctx context.Context, id string, status submission.Status, at time.Time) error {
	query, args, err := psql.
		Update("submission").
		Set("status", string(status)).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building status update")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "updating submission status")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return submission.ErrNotFound
	}
	return nil
}

type submissionHistoryRepository struct {
	db *sqlx.DB
}

var _ submission.HistoryRepository = (*submissionHistoryRepository)(nil) // interface compliance check

func NewSubmissionHistoryRepository(db *sqlx.DB) *submissionHistoryRepository {
	return &submissionHistoryRepository{db: db}
}

// AppendHistory writes the next version row for the submission; the version
// counter is derived in the statement so concurrent appends do not clash.
func (repo submissionHistoryRepository) AppendHistory(ctx context.Context, hist submission.History) error {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO submission_history
			(id, submission_id, student_id, phase_id, version, submission_type,
			 github_url, file_url, notes, status, deadline_at, is_before_deadline, created_at)
		SELECT $1, $2, $3, $4,
		       COALESCE(MAX(version), 0) + 1,
		       $5, $6, $7, $8, $9, $10, $11, $12
		FROM submission_history
		WHERE submission_id = $2`,
		uuid.New().String(), hist.SubmissionID, hist.StudentID, hist.PhaseID,
		string(hist.Type),
		null.NewString(hist.GithubURL, hist.GithubURL != ""),
		null.NewString(hist.FileURL, hist.FileURL != ""),
		null.NewString(hist.Notes, hist.Notes != ""),
		string(hist.Status), hist.DeadlineAt.UTC(), hist.IsBeforeDeadline,
		hist.CreatedAt.UTC(),
	)
	return errors.Wrap(err, "appending submission history")
}
