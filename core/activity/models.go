package activity

import (
	"time"
)

// PhaseActivity is the durable counter of engaged time for one
// (student, phase) pair. It is created lazily on the first heartbeat sync and
// never deleted; IsDeleted only hides it from administrative views.
type PhaseActivity struct {
	ID                    string    `json:"id"`
	StudentID             string    `json:"student_id"`
	PhaseID               string    `json:"phase_id"`
	TotalTimeSpentSeconds int       `json:"total_time_spent_seconds"`
	VideoWatchedSeconds   int       `json:"video_watched_seconds"`
	VideoCompleted        bool      `json:"video_completed"` // sticky once true
	IsDeleted             bool      `json:"-"`
	LastActivityAt        time.Time `json:"last_activity_at"` // UTC
	CreatedAt             time.Time `json:"created_at"`       // UTC
	UpdatedAt             time.Time `json:"updated_at"`       // UTC
}

// LogType tags entries in the append-only activity log.
type LogType string

const (
	LogHeartbeat         LogType = "HEARTBEAT"
	LogPageView          LogType = "PAGE_VIEW"
	LogVideoProgress     LogType = "VIDEO_PROGRESS"
	LogSubmissionCreated LogType = "SUBMISSION_CREATED"
	LogSubmissionUpdated LogType = "SUBMISSION_UPDATED"
	LogSubmissionDeleted LogType = "SUBMISSION_DELETED"
)

// LogEntry is one audit/observability event. Emission is always best-effort;
// a failed append never rolls back the operation that produced it.
type LogEntry struct {
	ID        string                 `json:"id"`
	StudentID string                 `json:"student_id"`
	PhaseID   string                 `json:"phase_id"`
	Type      LogType                `json:"activity_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"` // UTC
}
