package activity

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/phase"
)

// HeartbeatSession accumulates the time a student spends on an open phase
// page and periodically persists it. The session is the unit of ownership:
// the caller constructs it, starts it once, and stops it when the page is
// left. A local counter ticks every second regardless of in-flight network
// writes; an independent sync routine flushes the counter on a fixed cadence.
//
// Sync writes are last-writer-wins on the local counter: two concurrent
// sessions for the same pair can lose time to whichever syncs first. This is
// the accepted portal behavior; Heartbeat.AtomicIncrement switches to
// increment-add writes instead.
type HeartbeatSession struct {
	studentID string
	ph        phase.Phase

	repo     Repository
	students StudentTimeRecorder
	clock    core.Clock
	logger   core.Logger
	conf     *core.Config

	seconds        int64  // in-memory counter; atomic
	videoCompleted uint32 // sticky; atomic

	eval *UnlockEvaluator

	mu      sync.Mutex // guards started / stop
	started bool
	stop    chan struct{}
	done    sync.WaitGroup

	syncMu     sync.Mutex // serializes sync writes for this session
	lastSynced int64      // counter value at the last successful sync
	resumed    bool       // the persisted total has been folded into the counter
}

// Start begins ticking and syncing. It is idempotent: calling Start on a
// running session does nothing. The counter resumes from the last persisted
// total so a reload never restarts at zero.
func (s *HeartbeatSession) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}

	// resume from the persisted record; a failed read is retried by the
	// sync cycle, which withholds writes until the stored total is known
	if err := s.resumeFromStore(context.Background()); err != nil {
		s.logger.Warn("heartbeat: loading activity", err)
	}

	s.eval = NewUnlockEvaluator(s.ph)
	s.evaluate()

	s.started = true
	s.stop = make(chan struct{})
	s.done.Add(2)
	go s.tickLoop()
	go s.syncLoop()
}

// Stop cancels the timers and performs one best-effort final sync.
func (s *HeartbeatSession) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	s.done.Wait()
	if err := s.syncOnce(context.Background()); err != nil {
		s.logger.Warn("heartbeat: final sync", err)
	}
}

// CurrentSeconds is a non-blocking read of the in-memory counter.
func (s *HeartbeatSession) CurrentSeconds() int {
	return int(atomic.LoadInt64(&s.seconds))
}

// VideoCompleted reports the session's view of the sticky video flag.
func (s *HeartbeatSession) VideoCompleted() bool {
	return atomic.LoadUint32(&s.videoCompleted) == 1
}

// SetVideoCompleted flips the session's local sticky flag, e.g. right after
// the player reports completion, without waiting for the next sync read.
func (s *HeartbeatSession) SetVideoCompleted() {
	atomic.StoreUint32(&s.videoCompleted, 1)
	s.evaluate()
}

// Unlocked reports whether the submission form is enabled. Once true it
// stays true for the lifetime of the session.
func (s *HeartbeatSession) Unlocked() bool {
	if s.eval == nil {
		return false
	}
	return s.eval.Unlocked()
}

// Sync triggers an immediate out-of-band persistence write. Failures leave
// the in-memory counter untouched; the next scheduled cycle retries.
func (s *HeartbeatSession) Sync(ctx context.Context) error {
	return s.syncOnce(ctx)
}

func (s *HeartbeatSession) tickLoop() {
	defer s.done.Done()
	ticker := s.clock.NewTicker(s.conf.Heartbeat.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *HeartbeatSession) syncLoop() {
	defer s.done.Done()
	ticker := s.clock.NewTicker(s.conf.Heartbeat.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			// errors are retried on the next cycle; ticking never stalls
			if err := s.syncOnce(context.Background()); err != nil {
				s.logger.Warn("heartbeat: sync", err)
			}
		case <-s.stop:
			return
		}
	}
}

// tick advances the counter by one second and re-evaluates the unlock state
// so the form enables the moment the threshold is crossed.
func (s *HeartbeatSession) tick() {
	atomic.AddInt64(&s.seconds, 1)
	s.evaluate()
}

func (s *HeartbeatSession) evaluate() {
	if s.eval != nil {
		s.eval.Evaluate(s.CurrentSeconds(), s.VideoCompleted())
	}
}

// resumeFromStore folds the persisted total into the in-memory counter so
// the session carries on from where the student left off.
func (s *HeartbeatSession) resumeFromStore(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.resumeLocked(ctx)
}

func (s *HeartbeatSession) resumeLocked(ctx context.Context) error {
	if s.resumed {
		return nil
	}
	act, err := s.repo.GetActivity(ctx, s.studentID, s.ph.ID)
	if err == ErrNotFound {
		s.resumed = true
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading activity")
	}
	atomic.AddInt64(&s.seconds, int64(act.TotalTimeSpentSeconds))
	s.lastSynced += int64(act.TotalTimeSpentSeconds)
	if act.VideoCompleted {
		atomic.StoreUint32(&s.videoCompleted, 1)
	}
	s.resumed = true
	return nil
}

// syncOnce performs one serialized read-modify-write against the persisted
// record and refreshes the student's global time counter.
func (s *HeartbeatSession) syncOnce(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	// writing before the stored total is known could regress the counter,
	// so a session whose resume read failed keeps retrying it here
	if err := s.resumeLocked(ctx); err != nil {
		return err
	}

	snapshot := atomic.LoadInt64(&s.seconds)
	now := s.clock.Now().UTC()
	delta := int(snapshot - s.lastSynced)

	var act PhaseActivity
	var err error
	if s.conf.Heartbeat.AtomicIncrement {
		if delta <= 0 {
			return nil
		}
		act, err = s.repo.AddActivitySeconds(ctx, s.studentID, s.ph.ID, delta, now)
	} else {
		act, err = s.repo.UpsertActivity(ctx, PhaseActivity{
			StudentID:             s.studentID,
			PhaseID:               s.ph.ID,
			TotalTimeSpentSeconds: int(snapshot),
			LastActivityAt:        now,
		})
	}
	if err != nil {
		return errors.Wrap(err, "persisting activity")
	}
	s.lastSynced = snapshot

	// the record may carry state written from another surface
	if act.VideoCompleted {
		atomic.StoreUint32(&s.videoCompleted, 1)
	}

	// global counter is always increment-add, best-effort
	if delta > 0 && s.students != nil {
		if err := s.students.AddStudentTime(ctx, s.studentID, delta, now); err != nil {
			s.logger.Warn("heartbeat: refreshing student time", err)
		}
	}

	s.evaluate()
	return nil
}
