package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/phase"
)

type phaseRepository struct {
	db *phaseTable
}

var _ phase.Repository = (*phaseRepository)(nil) // interface compliance check

func NewPhaseRepository(db *DB) *phaseRepository {
	return &phaseRepository{db: db.phase}
}

func (repo *phaseRepository) query() []phase.Phase {
	phases := make([]phase.Phase, 0, len(repo.db.table))
	for _, ph := range repo.db.table {
		phases = append(phases, *ph)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].PhaseNumber < phases[j].PhaseNumber })
	return phases
}

func (repo *phaseRepository) CheckPhaseNumberUniqueness(ctx context.Context, number int, excludedPhases []phase.Phase) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]struct{}, len(excludedPhases))
	for _, ph := range excludedPhases {
		excluded[ph.ID] = struct{}{}
	}
	for _, ph := range repo.query() {
		if _, ok := excluded[ph.ID]; ok {
			continue
		}
		if ph.PhaseNumber == number {
			return phase.ErrNumberExists
		}
	}
	return nil
}

func (repo *phaseRepository) CreatePhase(ctx context.Context, ph phase.Phase) (phase.Phase, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ph.ID = uuid.New().String()
	repo.db.table[ph.ID] = &ph
	return ph, nil
}

func (repo *phaseRepository) QueryAllPhases(ctx context.Context) ([]phase.Phase, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.query(), nil
}

func (repo *phaseRepository) GetPhaseByID(ctx context.Context, id string) (phase.Phase, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ph, ok := repo.db.table[id]; ok {
		return *ph, nil
	}
	return phase.Phase{}, phase.ErrNotFound
}

func (repo *phaseRepository) GetPhaseByNumber(ctx context.Context, number int) (phase.Phase, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, ph := range repo.query() {
		if ph.PhaseNumber == number {
			return ph, nil
		}
	}
	return phase.Phase{}, phase.ErrNotFound
}

func (repo *phaseRepository) FilterPhases(ctx context.Context, filter *phase.QueryFilter, ordering []core.DBOrdering) ([]phase.Phase, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	phases := repo.query()
	if filter == nil {
		return phases, nil
	}

	matched := make([]phase.Phase, 0, len(phases))
	for _, ph := range phases {
		if filter.IsActive != nil && ph.IsActive != *filter.IsActive {
			continue
		}
		if filter.IsMandatory != nil && ph.IsMandatory != *filter.IsMandatory {
			continue
		}
		if !filter.StartFrom.IsZero() && ph.StartDate.Before(filter.StartFrom) {
			continue
		}
		if !filter.StartTo.IsZero() && ph.StartDate.After(filter.StartTo) {
			continue
		}
		matched = append(matched, ph)
	}
	sortPhases(matched, ordering)
	return matched, nil
}

func sortPhases(phases []phase.Phase, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(phases, func(i, j int) bool {
		for _, ord := range ordering {
			cmp := comparePhases(phases[i], phases[j], ord.Field)
			if cmp == 0 {
				continue
			}
			if ord.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func comparePhases(a, b phase.Phase, field string) int {
	switch field {
	case "phase_number":
		return a.PhaseNumber - b.PhaseNumber
	case "title":
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case "start_date":
		return compareTimes(a.StartDate, b.StartDate)
	case "end_date":
		return compareTimes(a.EndDate, b.EndDate)
	case "created_at":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	}
	return 0
}

func (repo *phaseRepository) UpdatePhase(ctx context.Context, ph phase.Phase, isActive, isPaused, isMandatory, bypass *bool) (phase.Phase, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// only save set fields
	orig, ok := repo.db.table[ph.ID]
	if !ok {
		return phase.Phase{}, phase.ErrNotFound
	}
	if ph.PhaseNumber > 0 {
		orig.PhaseNumber = ph.PhaseNumber
	}
	if ph.Title != "" {
		orig.Title = ph.Title
	}
	if !ph.StartDate.IsZero() {
		orig.StartDate = ph.StartDate
	}
	if !ph.EndDate.IsZero() {
		orig.EndDate = ph.EndDate
	}
	orig.Description = ph.Description
	orig.YoutubeURL = ph.YoutubeURL
	orig.AssignmentResourceURL = ph.AssignmentResourceURL
	if ph.AllowedSubmissionType != "" {
		orig.AllowedSubmissionType = ph.AllowedSubmissionType
	}
	orig.PauseReason = ph.PauseReason
	orig.PausedAt = ph.PausedAt
	orig.MinSecondsRequired = ph.MinSecondsRequired
	orig.TotalAssignments = ph.TotalAssignments
	orig.UpdatedAt = ph.UpdatedAt
	if isActive != nil {
		orig.IsActive = *isActive
	}
	if isPaused != nil {
		orig.IsPaused = *isPaused
	}
	if isMandatory != nil {
		orig.IsMandatory = *isMandatory
	}
	if bypass != nil {
		orig.BypassTimeRequirement = *bypass
	}

	repo.db.table[ph.ID] = orig
	return *orig, nil
}

func (repo *phaseRepository) DeletePhasesByID(ctx context.Context, ids []string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.table, id)
	}
	return nil
}

// SeedPhase inserts a fully-formed phase as-is; test helper.
func (repo *phaseRepository) SeedPhase(ph phase.Phase) phase.Phase {
	repo.db.Lock()
	defer repo.db.Unlock()

	if ph.ID == "" {
		ph.ID = uuid.New().String()
	}
	if ph.CreatedAt.IsZero() {
		ph.CreatedAt = time.Now().UTC()
	}
	repo.db.table[ph.ID] = &ph
	return ph
}
