package submission

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/hatua/core"
)

// Type discriminates the two submission payload variants; exactly one of
// GithubURL / FileURL is populated per the chosen type.
type Type string

const (
	TypeGithub Type = "github"
	TypeFile   Type = "file"
)

// Status of a stored submission.
type Status string

const (
	StatusValid   Status = "valid"
	StatusLate    Status = "late"
	StatusDeleted Status = "deleted"
)

// MaxFileSize is the upload ceiling for file submissions.
const MaxFileSize = 2 * 1024 * 1024 // 2 MB

// allowedFileTypes maps permitted extensions to their content types.
var allowedFileTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Submission is one row per (student, phase, assignment-index).
// Re-submission to the same slot replaces the stored row.
type Submission struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id"`
	PhaseID         string    `json:"phase_id"`
	AssignmentIndex int       `json:"assignment_index"`
	Type            Type      `json:"submission_type"`
	GithubURL       string    `json:"github_url,omitempty"`
	FileURL         string    `json:"file_url,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	Status          Status    `json:"status"`
	SubmittedAt     time.Time `json:"submitted_at"` // UTC
	CreatedAt       time.Time `json:"created_at"`   // UTC
	UpdatedAt       time.Time `json:"updated_at"`   // UTC
}

// History is one append-only version record per stored submission write.
type History struct {
	ID               string    `json:"id"`
	SubmissionID     string    `json:"submission_id"`
	StudentID        string    `json:"student_id"`
	PhaseID          string    `json:"phase_id"`
	Version          int       `json:"version"`
	Type             Type      `json:"submission_type"`
	GithubURL        string    `json:"github_url,omitempty"`
	FileURL          string    `json:"file_url,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	Status           Status    `json:"status"`
	DeadlineAt       time.Time `json:"deadline_at"` // UTC
	IsBeforeDeadline bool      `json:"is_before_deadline"`
	CreatedAt        time.Time `json:"created_at"` // UTC
}

// FilePayload carries an uploaded binary through validation to the object
// store.
type FilePayload struct {
	Filename    string
	Size        int64
	ContentType string
	Content     io.Reader
}

// Ext returns the lowercased file extension.
func (f FilePayload) Ext() string {
	return strings.ToLower(filepath.Ext(f.Filename))
}

// Valid reports whether the file passes the type allow-list and size ceiling.
func (f FilePayload) Valid() bool {
	if f.Size <= 0 || f.Size > MaxFileSize {
		return false
	}
	ct, ok := allowedFileTypes[f.Ext()]
	if !ok {
		return false
	}
	// a declared content type must agree with the extension
	return f.ContentType == "" || f.ContentType == ct
}

// NewSubmission contains information needed to record a submission for one
// assignment slot.
type NewSubmission struct {
	StudentID       string       `json:"-"`
	StudentEmail    string       `json:"-"`
	AssignmentIndex int          `json:"assignment_index"`
	Type            Type         `json:"submission_type" validate:"required,oneof=github file"`
	GithubURL       string       `json:"github_url" validate:"required_if=Type github"`
	Notes           string       `json:"notes"`
	File            *FilePayload `json:"-"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.GithubURL = core.CleanString(ns.GithubURL)
	ns.Notes = core.CleanString(ns.Notes)
	return validate.Struct(ns)
}
