package activity

import (
	"context"
	"errors"
	"time"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/phase"
)

var (
	// errors
	ErrNotFound = errors.New("phase activity not found")
)

type (
	Repository interface {
		GetActivity(ctx context.Context, studentID, phaseID string) (PhaseActivity, error)
		// UpsertActivity overwrites the stored counter with act's value
		// (last-writer-wins on the client-side counter), inserting the row
		// if it does not exist yet.
		UpsertActivity(ctx context.Context, act PhaseActivity) (PhaseActivity, error)
		// AddActivitySeconds atomically adds delta to the stored counter,
		// inserting the row if it does not exist yet.
		AddActivitySeconds(ctx context.Context, studentID, phaseID string, delta int, lastActivityAt time.Time) (PhaseActivity, error)
		// SetVideoCompleted stickily marks the phase video as watched,
		// inserting the row if it does not exist yet.
		SetVideoCompleted(ctx context.Context, studentID, phaseID string, at time.Time) (PhaseActivity, error)
		QueryActivitiesByPhase(ctx context.Context, phaseID string) ([]PhaseActivity, error)
	}

	// LogRepository is the append-only activity log sink.
	LogRepository interface {
		AppendLog(ctx context.Context, entry LogEntry) error
	}

	// StudentTimeRecorder refreshes the student's global time counter
	// alongside each per-phase heartbeat write. It lives in the user domain.
	StudentTimeRecorder interface {
		AddStudentTime(ctx context.Context, studentID string, delta int, at time.Time) error
	}

	ServiceInterface interface {
		Get(studentID, phaseID string) (PhaseActivity, error)
		MarkVideoCompleted(studentID, phaseID string) (PhaseActivity, error)
		QueryByPhase(phaseID string) ([]PhaseActivity, error)
		Log(entry LogEntry)
		Unlocked(studentID string, ph phase.Phase) bool
		NewSession(studentID string, ph phase.Phase) *HeartbeatSession
	}

	service struct {
		repo     Repository
		logRepo  LogRepository
		students StudentTimeRecorder
		clock    core.Clock
		logger   core.Logger
		conf     *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	logRepo LogRepository,
	students StudentTimeRecorder,
	clock core.Clock,
	logger core.Logger,
	conf *core.Config,
) *service {
	return &service{
		repo:     repo,
		logRepo:  logRepo,
		students: students,
		clock:    clock,
		logger:   logger,
		conf:     conf,
	}
}

// Get returns the persisted activity for the pair; ErrNotFound before the
// first heartbeat lands.
func (svc *service) Get(studentID, phaseID string) (PhaseActivity, error) {
	return svc.repo.GetActivity(context.Background(), studentID, phaseID)
}

// MarkVideoCompleted stickily flags the phase video as fully watched. It can
// never be unset through this service.
func (svc *service) MarkVideoCompleted(studentID, phaseID string) (PhaseActivity, error) {
	act, err := svc.repo.SetVideoCompleted(context.Background(), studentID, phaseID, svc.clock.Now().UTC())
	if err != nil {
		return PhaseActivity{}, err
	}
	svc.Log(LogEntry{
		StudentID: studentID,
		PhaseID:   phaseID,
		Type:      LogVideoProgress,
		Payload:   map[string]interface{}{"completed": true},
	})
	return act, nil
}

func (svc *service) QueryByPhase(phaseID string) ([]PhaseActivity, error) {
	return svc.repo.QueryActivitiesByPhase(context.Background(), phaseID)
}

// Log appends an entry to the activity log, best-effort.
func (svc *service) Log(entry LogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = svc.clock.Now().UTC()
	}
	if err := svc.logRepo.AppendLog(context.Background(), entry); err != nil {
		svc.logger.Warn("appending activity log", err)
	}
}

// Unlocked recomputes the submit-eligibility decision from the persisted
// counters. Callers holding a live heartbeat session should prefer its
// latched state, which also sees unsynced local seconds.
func (svc *service) Unlocked(studentID string, ph phase.Phase) bool {
	var total int
	var videoCompleted bool
	if act, err := svc.repo.GetActivity(context.Background(), studentID, ph.ID); err == nil {
		total = act.TotalTimeSpentSeconds
		videoCompleted = act.VideoCompleted
	} else if err != ErrNotFound {
		svc.logger.Warn("unlock: loading activity", err)
	}
	return Unlockable(ph.BypassTimeRequirement, ph.MinSecondsRequired, total, videoCompleted)
}

// NewSession returns an unstarted heartbeat session owned by the caller.
func (svc *service) NewSession(studentID string, ph phase.Phase) *HeartbeatSession {
	return &HeartbeatSession{
		studentID: studentID,
		ph:        ph,
		repo:      svc.repo,
		students:  svc.students,
		clock:     svc.clock,
		logger:    svc.logger,
		conf:      svc.conf,
	}
}
