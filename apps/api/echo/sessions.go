package echoapi

import (
	"sync"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/activity"
	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/submission"
)

// SessionManager owns the live heartbeat sessions and point awarders for
// connected students. One heartbeat session runs per open (student, phase)
// pair; one point awarder runs per student with at least one open phase.
type SessionManager struct {
	mutex    sync.Mutex
	sessions map[string]*activity.HeartbeatSession
	awarders map[string]*activity.PointAwarder

	activitySvc activity.ServiceInterface
	points      activity.PointsService
	clock       core.Clock
	logger      core.Logger
	conf        *core.Config
}

var _ submission.Gate = (*SessionManager)(nil) // interface compliance check

func NewSessionManager(
	activitySvc activity.ServiceInterface,
	points activity.PointsService,
	clock core.Clock,
	logger core.Logger,
	conf *core.Config,
) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*activity.HeartbeatSession),
		awarders:    make(map[string]*activity.PointAwarder),
		activitySvc: activitySvc,
		points:      points,
		clock:       clock,
		logger:      logger,
		conf:        conf,
	}
}

func sessionKey(studentID, phaseID string) string { return studentID + "/" + phaseID }

// Open starts (or resumes) the heartbeat session for the pair and makes sure
// the student's point awarder is running. Idempotent.
func (m *SessionManager) Open(studentID string, ph phase.Phase) *activity.HeartbeatSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := sessionKey(studentID, ph.ID)
	sess, ok := m.sessions[key]
	if !ok {
		sess = m.activitySvc.NewSession(studentID, ph)
		m.sessions[key] = sess
		sess.Start()
	}

	awarder, ok := m.awarders[studentID]
	if !ok {
		awarder = activity.NewPointAwarder(studentID, m.points, m.clock, m.logger, m.conf)
		m.awarders[studentID] = awarder
		awarder.Start()
	}
	awarder.OnInputEvent()

	return sess
}

// Close stops the pair's heartbeat session, flushing its counter. The
// student's awarder stops once their last session closes.
func (m *SessionManager) Close(studentID, phaseID string) {
	m.mutex.Lock()

	key := sessionKey(studentID, phaseID)
	sess, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}

	var awarder *activity.PointAwarder
	if !m.studentHasSessions(studentID) {
		awarder = m.awarders[studentID]
		delete(m.awarders, studentID)
	}
	m.mutex.Unlock()

	// Stop outside the lock; the final sync blocks on the database.
	if sess != nil {
		sess.Stop()
	}
	if awarder != nil {
		awarder.Stop()
	}
}

// Get returns the live session for the pair, if any.
func (m *SessionManager) Get(studentID, phaseID string) (*activity.HeartbeatSession, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	sess, ok := m.sessions[sessionKey(studentID, phaseID)]
	return sess, ok
}

// Touch records student input for the idle check of their point awarder.
func (m *SessionManager) Touch(studentID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if awarder, ok := m.awarders[studentID]; ok {
		awarder.OnInputEvent()
	}
}

// Unlocked prefers the live session's latch, which also counts unsynced
// local seconds; otherwise it falls back to the persisted counters.
func (m *SessionManager) Unlocked(studentID string, ph phase.Phase) bool {
	if sess, ok := m.Get(studentID, ph.ID); ok {
		return sess.Unlocked()
	}
	return m.activitySvc.Unlocked(studentID, ph)
}

// StopAll flushes and stops every live session and awarder; called on server
// shutdown.
func (m *SessionManager) StopAll() {
	m.mutex.Lock()
	sessions := make([]*activity.HeartbeatSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	awarders := make([]*activity.PointAwarder, 0, len(m.awarders))
	for _, awarder := range m.awarders {
		awarders = append(awarders, awarder)
	}
	m.sessions = make(map[string]*activity.HeartbeatSession)
	m.awarders = make(map[string]*activity.PointAwarder)
	m.mutex.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
	for _, awarder := range awarders {
		awarder.Stop()
	}
}

func (m *SessionManager) studentHasSessions(studentID string) bool {
	prefix := studentID + "/"
	for key := range m.sessions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
