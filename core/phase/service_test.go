package phase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/hatua/core/phase"
	inmemdb "github.com/trezcool/hatua/storage/database/inmem"
	testutil "github.com/trezcool/hatua/tests"
)

func newPhaseService(t *testing.T) (phase.ServiceInterface, *testutil.Clock, phase.Repository) {
	t.Helper()

	clock := testutil.NewClock(time.Date(2021, 5, 3, 9, 0, 0, 0, time.UTC))
	db, err := inmemdb.Open()
	require.NoError(t, err)
	repo := inmemdb.NewPhaseRepository(db)
	return phase.NewService(repo, clock), clock, repo
}

func TestService_Create(t *testing.T) {
	svc, clock, _ := newPhaseService(t)

	ph, err := svc.Create(phase.NewPhase{
		PhaseNumber:        1,
		Title:              "Go Basics",
		StartDate:          clock.Now().Add(24 * time.Hour),
		EndDate:            clock.Now().Add(14 * 24 * time.Hour),
		MinSecondsRequired: 600,
		TotalAssignments:   2,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ph.ID)
	assert.True(t, ph.IsActive, "new phases start active")
	assert.False(t, ph.IsPaused)
	assert.Equal(t, 600, ph.MinSecondsRequired)

	require.NoError(t, svc.CheckPhaseNumberUniqueness(2))
	assert.Equal(t, phase.ErrNumberExists, svc.CheckPhaseNumberUniqueness(1))
	assert.NoError(t, svc.CheckPhaseNumberUniqueness(1, ph), "the phase itself is excluded")
}

func TestService_QueryLive(t *testing.T) {
	svc, clock, _ := newPhaseService(t)
	now := clock.Now()

	mk := func(number int, start, end time.Time) phase.Phase {
		ph, err := svc.Create(phase.NewPhase{
			PhaseNumber: number,
			Title:       "Phase",
			StartDate:   start,
			EndDate:     end,
		})
		require.NoError(t, err)
		return ph
	}
	live := mk(1, now.Add(-24*time.Hour), now.Add(24*time.Hour))
	mk(2, now.Add(24*time.Hour), now.Add(48*time.Hour))  // upcoming
	mk(3, now.Add(-48*time.Hour), now.Add(-24*time.Hour)) // ended

	phases, err := svc.QueryLive(now)
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, live.ID, phases[0].ID)
}

func TestService_PauseResume(t *testing.T) {
	svc, clock, _ := newPhaseService(t)
	now := clock.Now()

	ph, err := svc.Create(phase.NewPhase{
		PhaseNumber: 1,
		Title:       "Go Basics",
		StartDate:   now.Add(-24 * time.Hour),
		EndDate:     now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, phase.StatusLive, ph.StatusAt(now))

	ph, err = svc.Pause(ph, "content rework")
	require.NoError(t, err)
	assert.True(t, ph.IsPaused)
	assert.Equal(t, "content rework", ph.PauseReason)
	assert.Equal(t, now, ph.PausedAt)
	assert.Equal(t, phase.StatusPaused, ph.StatusAt(now))
	assert.Equal(t, phase.ErrPaused, svc.CheckAccess(ph, now))

	ph, err = svc.Resume(ph)
	require.NoError(t, err)
	assert.False(t, ph.IsPaused)
	assert.Empty(t, ph.PauseReason)
	assert.True(t, ph.PausedAt.IsZero())
	assert.Equal(t, phase.StatusLive, ph.StatusAt(now))
	assert.NoError(t, svc.CheckAccess(ph, now))
}

func TestService_CheckAccess(t *testing.T) {
	svc, clock, _ := newPhaseService(t)
	now := clock.Now()

	ph, err := svc.Create(phase.NewPhase{
		PhaseNumber: 1,
		Title:       "Go Basics",
		StartDate:   now.Add(24 * time.Hour),
		EndDate:     now.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, phase.ErrUpcoming, svc.CheckAccess(ph, now))
	assert.NoError(t, svc.CheckAccess(ph, now.Add(25*time.Hour)))
	// ended phases remain viewable
	assert.NoError(t, svc.CheckAccess(ph, now.Add(72*time.Hour)))

	inactive := ph
	inactive.IsActive = false
	assert.Equal(t, phase.ErrNotFound, svc.CheckAccess(inactive, now.Add(25*time.Hour)))
}

func TestService_Update(t *testing.T) {
	svc, clock, _ := newPhaseService(t)
	now := clock.Now()

	ph, err := svc.Create(phase.NewPhase{
		PhaseNumber:        1,
		Title:              "Go Basics",
		StartDate:          now.Add(-24 * time.Hour),
		EndDate:            now.Add(24 * time.Hour),
		MinSecondsRequired: 600,
	})
	require.NoError(t, err)

	minSeconds := 0
	bypass := true
	updated, err := svc.Update(ph, phase.UpdatePhase{
		PhaseNumber:           ph.PhaseNumber,
		Title:                 "Go Basics, revised",
		StartDate:             ph.StartDate,
		EndDate:               ph.EndDate,
		MinSecondsRequired:    &minSeconds,
		BypassTimeRequirement: &bypass,
	})
	require.NoError(t, err)

	assert.Equal(t, "Go Basics, revised", updated.Title)
	assert.Equal(t, 0, updated.MinSecondsRequired)
	assert.True(t, updated.BypassTimeRequirement)
	// untouched fields keep their value
	assert.Equal(t, ph.PhaseNumber, updated.PhaseNumber)
	assert.Equal(t, ph.AllowedSubmissionType, updated.AllowedSubmissionType)
}

func TestService_Delete(t *testing.T) {
	svc, clock, _ := newPhaseService(t)
	now := clock.Now()

	ph, err := svc.Create(phase.NewPhase{
		PhaseNumber: 1,
		Title:       "Go Basics",
		StartDate:   now,
		EndDate:     now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ph.ID))
	_, err = svc.GetByID(ph.ID)
	assert.Equal(t, phase.ErrNotFound, err)
}
