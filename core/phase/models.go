package phase

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/hatua/core"
)

// Status is the lifecycle state of a Phase, derived from its schedule and
// pause flag; it is never stored.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusLive     Status = "live"
	StatusEnded    Status = "ended"
	StatusPaused   Status = "paused"
)

// ComputeStatus derives the lifecycle state of a phase at `now`.
// A paused phase is paused regardless of its dates.
func ComputeStatus(now, startDate, endDate time.Time, isPaused bool) Status {
	if isPaused {
		return StatusPaused
	}
	if now.Before(startDate) {
		return StatusUpcoming
	}
	if now.After(endDate) {
		return StatusEnded
	}
	return StatusLive
}

// AllowedSubmissionType restricts which submission types a phase accepts.
type AllowedSubmissionType string

const (
	AllowGithub AllowedSubmissionType = "github"
	AllowFile   AllowedSubmissionType = "file"
	AllowBoth   AllowedSubmissionType = "both"
)

// Permits reports whether a submission of type t is accepted.
func (a AllowedSubmissionType) Permits(t string) bool {
	return a == AllowBoth || string(a) == t
}

type Phase struct {
	ID                    string                `json:"id"`
	PhaseNumber           int                   `json:"phase_number"`
	Title                 string                `json:"title"`
	Description           string                `json:"description,omitempty"`
	YoutubeURL            string                `json:"youtube_url,omitempty"`
	AssignmentResourceURL string                `json:"assignment_resource_url,omitempty"`
	AllowedSubmissionType AllowedSubmissionType `json:"allowed_submission_type"`
	StartDate             time.Time             `json:"start_date"` // UTC
	EndDate               time.Time             `json:"end_date"`   // UTC
	IsActive              bool                  `json:"is_active"`
	IsMandatory           bool                  `json:"is_mandatory"`
	IsPaused              bool                  `json:"is_paused"`
	PauseReason           string                `json:"pause_reason,omitempty"`
	PausedAt              time.Time             `json:"paused_at,omitempty"`
	MinSecondsRequired    int                   `json:"min_seconds_required"`
	TotalAssignments      int                   `json:"total_assignments"`
	BypassTimeRequirement bool                  `json:"bypass_time_requirement"`
	CreatedAt             time.Time             `json:"created_at"` // UTC
	UpdatedAt             time.Time             `json:"updated_at"` // UTC
}

// StatusAt returns the phase's lifecycle state at `now`.
func (p Phase) StatusAt(now time.Time) Status {
	return ComputeStatus(now, p.StartDate, p.EndDate, p.IsPaused)
}

var youtubeVideoIDRegex = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([a-zA-Z0-9_-]+)`)

// VideoID extracts the YouTube video ID from the phase's video URL, if any.
func (p Phase) VideoID() string {
	match := youtubeVideoIDRegex.FindStringSubmatch(p.YoutubeURL)
	if match == nil {
		return ""
	}
	return match[1]
}

// NewPhase contains information needed to create a new Phase.
type NewPhase struct {
	PhaseNumber           int                   `json:"phase_number" validate:"required,min=1"`
	Title                 string                `json:"title" validate:"required"`
	Description           string                `json:"description"`
	YoutubeURL            string                `json:"youtube_url" validate:"omitempty,youtubeurl"`
	AssignmentResourceURL string                `json:"assignment_resource_url" validate:"omitempty,url"`
	AllowedSubmissionType AllowedSubmissionType `json:"allowed_submission_type" validate:"omitempty,oneof=github file both"`
	StartDate             time.Time             `json:"start_date" validate:"required"`
	EndDate               time.Time             `json:"end_date" validate:"required"`
	IsMandatory           bool                  `json:"is_mandatory"`
	MinSecondsRequired    int                   `json:"min_seconds_required" validate:"min=0"`
	TotalAssignments      int                   `json:"total_assignments" validate:"omitempty,min=1"`
	BypassTimeRequirement bool                  `json:"bypass_time_requirement"`
}

func (np *NewPhase) Validate(validate *validator.Validate, svc ServiceInterface) error {
	np.Title = core.CleanString(np.Title)
	np.Description = core.CleanString(np.Description)
	if np.AllowedSubmissionType == "" {
		np.AllowedSubmissionType = AllowBoth
	}
	if np.TotalAssignments == 0 {
		np.TotalAssignments = 1
	}

	if err := validate.Struct(np); err != nil {
		return err
	}
	if !np.EndDate.After(np.StartDate) {
		return core.NewValidationError(errInvalidSchedule, core.FieldError{Field: "end_date", Error: errInvalidSchedule.Error()})
	}
	return svc.CheckPhaseNumberUniqueness(np.PhaseNumber)
}

// UpdatePhase defines what information may be provided to modify an existing Phase.
// Zero-valued fields keep their current value; pointer fields distinguish
// "not provided" from an explicit false/zero.
type UpdatePhase struct {
	PhaseNumber           int                   `json:"phase_number" validate:"omitempty,min=1"`
	Title                 string                `json:"title"`
	Description           *string               `json:"description"`
	YoutubeURL            *string               `json:"youtube_url" validate:"omitempty,youtubeurl"`
	AssignmentResourceURL *string               `json:"assignment_resource_url" validate:"omitempty,url"`
	AllowedSubmissionType AllowedSubmissionType `json:"allowed_submission_type" validate:"omitempty,oneof=github file both"`
	StartDate             time.Time             `json:"start_date"`
	EndDate               time.Time             `json:"end_date"`
	IsActive              *bool                 `json:"is_active"`
	IsMandatory           *bool                 `json:"is_mandatory"`
	MinSecondsRequired    *int                  `json:"min_seconds_required" validate:"omitempty,min=0"`
	TotalAssignments      *int                  `json:"total_assignments" validate:"omitempty,min=1"`
	BypassTimeRequirement *bool                 `json:"bypass_time_requirement"`
}

func (up *UpdatePhase) Validate(validate *validator.Validate, orig Phase, svc ServiceInterface) error {
	up.Title = core.CleanString(up.Title)
	if up.Title == "" {
		up.Title = orig.Title
	}
	if up.PhaseNumber == 0 {
		up.PhaseNumber = orig.PhaseNumber
	}
	if up.StartDate.IsZero() {
		up.StartDate = orig.StartDate
	}
	if up.EndDate.IsZero() {
		up.EndDate = orig.EndDate
	}

	if err := validate.Struct(up); err != nil {
		return err
	}
	if !up.EndDate.After(up.StartDate) {
		return core.NewValidationError(errInvalidSchedule, core.FieldError{Field: "end_date", Error: errInvalidSchedule.Error()})
	}
	if up.PhaseNumber != orig.PhaseNumber {
		return svc.CheckPhaseNumberUniqueness(up.PhaseNumber, orig)
	}
	return nil
}

// QueryFilter narrows phase queries.
type QueryFilter struct {
	IsActive    *bool     `query:"is_active"`
	IsMandatory *bool     `query:"is_mandatory"`
	StartFrom   time.Time `query:"start_from"`
	StartTo     time.Time `query:"start_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.IsActive == nil && qf.IsMandatory == nil && qf.StartFrom.IsZero() && qf.StartTo.IsZero()
}
