package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/hatua/core/activity"
)

type activityRepository struct {
	db *activityTable
}

var _ activity.Repository = (*activityRepository)(nil) // interface compliance check

func NewActivityRepository(db *DB) *activityRepository {
	return &activityRepository{db: db.activity}
}

func pairKey(studentID, phaseID string) string { return studentID + "/" + phaseID }

func (repo *activityRepository) getOrCreate(studentID, phaseID string, at time.Time) *activity.PhaseActivity {
	key := pairKey(studentID, phaseID)
	act, ok := repo.db.table[key]
	if !ok {
		act = &activity.PhaseActivity{
			ID:        uuid.New().String(),
			StudentID: studentID,
			PhaseID:   phaseID,
			CreatedAt: at,
		}
		repo.db.table[key] = act
	}
	return act
}

func (repo *activityRepository) GetActivity(ctx context.Context, studentID, phaseID string) (activity.PhaseActivity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if act, ok := repo.db.table[pairKey(studentID, phaseID)]; ok {
		return *act, nil
	}
	return activity.PhaseActivity{}, activity.ErrNotFound
}

func (repo *activityRepository) UpsertActivity(ctx context.Context, act activity.PhaseActivity) (activity.PhaseActivity, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := repo.getOrCreate(act.StudentID, act.PhaseID, act.LastActivityAt)
	stored.TotalTimeSpentSeconds = act.TotalTimeSpentSeconds
	stored.VideoCompleted = stored.VideoCompleted || act.VideoCompleted
	stored.LastActivityAt = act.LastActivityAt
	stored.UpdatedAt = act.LastActivityAt
	return *stored, nil
}

func (repo *activityRepository) AddActivitySeconds(ctx context.Context, studentID, phaseID string, delta int, lastActivityAt time.Time) (activity.PhaseActivity, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := repo.getOrCreate(studentID, phaseID, lastActivityAt)
	stored.TotalTimeSpentSeconds += delta
	stored.LastActivityAt = lastActivityAt
	stored.UpdatedAt = lastActivityAt
	return *stored, nil
}

func (repo *activityRepository) SetVideoCompleted(ctx context.Context, studentID, phaseID string, at time.Time) (activity.PhaseActivity, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := repo.getOrCreate(studentID, phaseID, at)
	stored.VideoCompleted = true
	stored.LastActivityAt = at
	stored.UpdatedAt = at
	return *stored, nil
}

func (repo *activityRepository) QueryActivitiesByPhase(ctx context.Context, phaseID string) ([]activity.PhaseActivity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	acts := make([]activity.PhaseActivity, 0)
	for _, act := range repo.db.table {
		if act.PhaseID == phaseID && !act.IsDeleted {
			acts = append(acts, *act)
		}
	}
	sort.Slice(acts, func(i, j int) bool {
		return acts[i].TotalTimeSpentSeconds > acts[j].TotalTimeSpentSeconds
	})
	return acts, nil
}

type activityLogRepository struct {
	db *activityTable
}

var _ activity.LogRepository = (*activityLogRepository)(nil) // interface compliance check

func NewActivityLogRepository(db *DB) *activityLogRepository {
	return &activityLogRepository{db: db.activity}
}

func (repo *activityLogRepository) AppendLog(ctx context.Context, entry activity.LogEntry) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	entry.ID = uuid.New().String()
	repo.db.log = append(repo.db.log, entry)
	return nil
}

// Logs returns a copy of the appended entries; test helper.
func (repo *activityLogRepository) Logs() []activity.LogEntry {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return append([]activity.LogEntry(nil), repo.db.log...)
}
