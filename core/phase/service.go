package phase

import (
	"context"
	"errors"
	"time"

	"github.com/trezcool/hatua/core"
)

var (
	// errors
	ErrNotFound     = errors.New("phase not found")
	ErrNumberExists = errors.New("a phase with this number already exists")
	ErrUpcoming     = errors.New("phase has not started yet")
	ErrPaused       = errors.New("phase is currently paused")

	errInvalidSchedule = errors.New("end date must be after start date")
)

type (
	Repository interface {
		CheckPhaseNumberUniqueness(ctx context.Context, number int, excludedPhases []Phase) error
		CreatePhase(ctx context.Context, ph Phase) (Phase, error)
		QueryAllPhases(ctx context.Context) ([]Phase, error)
		GetPhaseByID(ctx context.Context, id string) (Phase, error)
		GetPhaseByNumber(ctx context.Context, number int) (Phase, error)
		// FilterPhases applies AND operation on available QueryFilter fields.
		FilterPhases(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Phase, error)
		UpdatePhase(ctx context.Context, ph Phase, isActive, isPaused, isMandatory, bypass *bool) (Phase, error)
		DeletePhasesByID(ctx context.Context, ids []string) error
	}

	ServiceInterface interface {
		CheckPhaseNumberUniqueness(number int, excludedPhases ...Phase) error
		Create(np NewPhase) (Phase, error)
		QueryAll() ([]Phase, error)
		QueryLive(now time.Time) ([]Phase, error)
		GetByID(id string) (Phase, error)
		Filter(filter *QueryFilter, ordering ...core.DBOrdering) ([]Phase, error)
		Update(orig Phase, up UpdatePhase) (Phase, error)
		Pause(orig Phase, reason string) (Phase, error)
		Resume(orig Phase) (Phase, error)
		CheckAccess(ph Phase, now time.Time) error
		Delete(ids ...string) error
	}

	service struct {
		repo  Repository
		clock core.Clock
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, clock core.Clock) *service {
	return &service{
		repo:  repo,
		clock: clock,
	}
}

func (svc *service) CheckPhaseNumberUniqueness(number int, excludedPhases ...Phase) error {
	if err := svc.repo.CheckPhaseNumberUniqueness(context.Background(), number, excludedPhases); err != nil {
		if err == ErrNumberExists {
			return core.NewValidationError(err, core.FieldError{Field: "phase_number", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) Create(np NewPhase) (Phase, error) {
	now := svc.clock.Now().UTC()
	ph := Phase{
		PhaseNumber:           np.PhaseNumber,
		Title:                 np.Title,
		Description:           np.Description,
		YoutubeURL:            np.YoutubeURL,
		AssignmentResourceURL: np.AssignmentResourceURL,
		AllowedSubmissionType: np.AllowedSubmissionType,
		StartDate:             np.StartDate.UTC(),
		EndDate:               np.EndDate.UTC(),
		IsActive:              true,
		IsMandatory:           np.IsMandatory,
		MinSecondsRequired:    np.MinSecondsRequired,
		TotalAssignments:      np.TotalAssignments,
		BypassTimeRequirement: np.BypassTimeRequirement,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	return svc.repo.CreatePhase(context.Background(), ph)
}

func (svc *service) QueryAll() ([]Phase, error) {
	return svc.repo.QueryAllPhases(context.Background())
}

// QueryLive returns active phases that are currently running; the student
// dashboard shows only these.
func (svc *service) QueryLive(now time.Time) ([]Phase, error) {
	isActive := true
	phases, err := svc.repo.FilterPhases(context.Background(), &QueryFilter{IsActive: &isActive}, nil)
	if err != nil {
		return nil, err
	}
	live := make([]Phase, 0, len(phases))
	for _, ph := range phases {
		if ph.StatusAt(now) == StatusLive {
			live = append(live, ph)
		}
	}
	return live, nil
}

func (svc *service) GetByID(id string) (Phase, error) {
	return svc.repo.GetPhaseByID(context.Background(), id)
}

func (svc *service) Filter(filter *QueryFilter, ordering ...core.DBOrdering) ([]Phase, error) {
	return svc.repo.FilterPhases(context.Background(), filter, ordering)
}

func (svc *service) Update(orig Phase, up UpdatePhase) (Phase, error) {
	ph := Phase{
		ID:          orig.ID,
		PhaseNumber: up.PhaseNumber,
		Title:       up.Title,
		StartDate:   up.StartDate.UTC(),
		EndDate:     up.EndDate.UTC(),
		UpdatedAt:   svc.clock.Now().UTC(),
	}
	if up.Description != nil {
		ph.Description = *up.Description
	} else {
		ph.Description = orig.Description
	}
	if up.YoutubeURL != nil {
		ph.YoutubeURL = *up.YoutubeURL
	} else {
		ph.YoutubeURL = orig.YoutubeURL
	}
	if up.AssignmentResourceURL != nil {
		ph.AssignmentResourceURL = *up.AssignmentResourceURL
	} else {
		ph.AssignmentResourceURL = orig.AssignmentResourceURL
	}
	if up.AllowedSubmissionType != "" {
		ph.AllowedSubmissionType = up.AllowedSubmissionType
	} else {
		ph.AllowedSubmissionType = orig.AllowedSubmissionType
	}
	if up.MinSecondsRequired != nil {
		ph.MinSecondsRequired = *up.MinSecondsRequired
	} else {
		ph.MinSecondsRequired = orig.MinSecondsRequired
	}
	if up.TotalAssignments != nil {
		ph.TotalAssignments = *up.TotalAssignments
	} else {
		ph.TotalAssignments = orig.TotalAssignments
	}
	return svc.repo.UpdatePhase(context.Background(), ph, up.IsActive, nil, up.IsMandatory, up.BypassTimeRequirement)
}

// Pause suspends a phase; access control then rejects students regardless of
// the phase's dates.
func (svc *service) Pause(orig Phase, reason string) (Phase, error) {
	now := svc.clock.Now().UTC()
	paused := true
	ph := orig
	ph.PauseReason = reason
	ph.PausedAt = now
	ph.UpdatedAt = now
	return svc.repo.UpdatePhase(context.Background(), ph, nil, &paused, nil, nil)
}

func (svc *service) Resume(orig Phase) (Phase, error) {
	paused := false
	ph := orig
	ph.PauseReason = ""
	ph.PausedAt = time.Time{}
	ph.UpdatedAt = svc.clock.Now().UTC()
	return svc.repo.UpdatePhase(context.Background(), ph, nil, &paused, nil, nil)
}

// CheckAccess gates the phase-detail view: students may not enter a phase
// before it starts or while it is paused. Ended phases remain viewable.
func (svc *service) CheckAccess(ph Phase, now time.Time) error {
	if !ph.IsActive {
		return ErrNotFound
	}
	switch ph.StatusAt(now) {
	case StatusUpcoming:
		return ErrUpcoming
	case StatusPaused:
		return ErrPaused
	}
	return nil
}

// Delete hard-deletes phases; submissions and activity cascade at the
// database level. Soft delete goes through Update with is_active=false.
func (svc *service) Delete(ids ...string) error {
	return svc.repo.DeletePhasesByID(context.Background(), ids)
}
