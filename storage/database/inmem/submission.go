package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/hatua/core/submission"
)

type submissionRepository struct {
	db *submissionTable
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *DB) *submissionRepository {
	return &submissionRepository{db: db.submission}
}

func (repo *submissionRepository) find(studentID, phaseID string, index int) *submission.Submission {
	for _, sub := range repo.db.table {
		if sub.StudentID == studentID && sub.PhaseID == phaseID && sub.AssignmentIndex == index {
			return sub
		}
	}
	return nil
}

func (repo *submissionRepository) GetSubmission(ctx context.Context, studentID, phaseID string, index int) (submission.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sub := repo.find(studentID, phaseID, index); sub != nil {
		return *sub, nil
	}
	return submission.Submission{}, submission.ErrNotFound
}

func (repo *submissionRepository) QuerySubmissions(ctx context.Context, studentID, phaseID string) ([]submission.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := make([]submission.Submission, 0)
	for _, sub := range repo.db.table {
		if sub.StudentID == studentID && sub.PhaseID == phaseID {
			subs = append(subs, *sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].AssignmentIndex < subs[j].AssignmentIndex })
	return subs, nil
}

func (repo *submissionRepository) QuerySubmissionsByPhase(ctx context.Context, phaseID string) ([]submission.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := make([]submission.Submission, 0)
	for _, sub := range repo.db.table {
		if sub.PhaseID == phaseID {
			subs = append(subs, *sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].StudentID != subs[j].StudentID {
			return subs[i].StudentID < subs[j].StudentID
		}
		return subs[i].AssignmentIndex < subs[j].AssignmentIndex
	})
	return subs, nil
}

func (repo *submissionRepository) UpsertSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if existing := repo.find(sub.StudentID, sub.PhaseID, sub.AssignmentIndex); existing != nil {
		existing.Type = sub.Type
		existing.GithubURL = sub.GithubURL
		existing.FileURL = sub.FileURL
		existing.Notes = sub.Notes
		existing.Status = sub.Status
		existing.SubmittedAt = sub.SubmittedAt
		existing.UpdatedAt = sub.SubmittedAt
		return *existing, nil
	}

	sub.ID = uuid.New().String()
	sub.CreatedAt = sub.SubmittedAt
	sub.UpdatedAt = sub.SubmittedAt
	repo.db.table[sub.ID] = &sub
	return sub, nil
}

func (repo *submissionRepository) UpdateSubmissionStatus(ctx context.Context, id string, status submission.Status, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	sub, ok := repo.db.table[id]
	if !ok {
		return submission.ErrNotFound
	}
	sub.Status = status
	sub.UpdatedAt = at
	return nil
}

type submissionHistoryRepository struct {
	db *submissionTable
}

var _ submission.HistoryRepository = (*submissionHistoryRepository)(nil) // interface compliance check

func NewSubmissionHistoryRepository(db *DB) *submissionHistoryRepository {
	return &submissionHistoryRepository{db: db.submission}
}

func (repo *submissionHistoryRepository) AppendHistory(ctx context.Context, hist submission.History) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	version := 0
	for _, h := range repo.db.history {
		if h.SubmissionID == hist.SubmissionID && h.Version > version {
			version = h.Version
		}
	}
	hist.ID = uuid.New().String()
	hist.Version = version + 1
	repo.db.history = append(repo.db.history, hist)
	return nil
}

// History returns a copy of the appended version rows; test helper.
func (repo *submissionHistoryRepository) History() []submission.History {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return append([]submission.History(nil), repo.db.history...)
}
