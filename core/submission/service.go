package submission

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/activity"
	"github.com/trezcool/hatua/core/phase"
)

var (
	// errors
	ErrNotFound = errors.New("submission not found")

	// ErrLocked is a gate error, distinct from validation errors: the UI
	// explains the unmet time/video requirement instead of flagging a form
	// mistake.
	ErrLocked = errors.New("submissions are locked for this phase")

	ErrInvalidIndex     = errors.New("assignment index out of range")
	ErrInvalidType      = errors.New("submission type must be github or file")
	ErrInvalidGithubURL = errors.New("must be a valid GitHub repository URL")
	ErrInvalidFile      = errors.New("file must be a PDF, PNG or JPEG of at most 2 MB")
	ErrTypeNotAllowed   = errors.New("this submission type is not allowed for this phase")
)

// UploadError wraps an object-store failure: the submission aborted before
// any record mutation and the form fields are still valid, so the UI may
// offer a plain retry.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("uploading file: %v", e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

type (
	Repository interface {
		GetSubmission(ctx context.Context, studentID, phaseID string, index int) (Submission, error)
		QuerySubmissions(ctx context.Context, studentID, phaseID string) ([]Submission, error)
		QuerySubmissionsByPhase(ctx context.Context, phaseID string) ([]Submission, error)
		// UpsertSubmission inserts or replaces the row keyed by
		// (student, phase, assignment_index).
		UpsertSubmission(ctx context.Context, sub Submission) (Submission, error)
		UpdateSubmissionStatus(ctx context.Context, id string, status Status, at time.Time) error
	}

	// HistoryRepository is the append-only version log, an observability
	// collaborator: appends are best-effort.
	HistoryRepository interface {
		AppendHistory(ctx context.Context, hist History) error
	}

	// Gate reports whether the submission form is unlocked for a student on
	// a phase, using the freshest available signal (a live heartbeat session
	// latch, falling back to the persisted counters).
	Gate interface {
		Unlocked(studentID string, ph phase.Phase) bool
	}

	ServiceInterface interface {
		Submit(ns NewSubmission, ph phase.Phase) (Submission, error)
		Get(studentID, phaseID string, index int) (Submission, error)
		Query(studentID, phaseID string) ([]Submission, error)
		QueryByPhase(phaseID string) ([]Submission, error)
		Delete(sub Submission) error
	}

	service struct {
		repo        Repository
		histRepo    HistoryRepository
		gate        Gate
		objectStore core.ObjectStore
		activitySvc activity.ServiceInterface
		mailSvc     core.EmailService
		clock       core.Clock
		logger      core.Logger
		conf        *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	histRepo HistoryRepository,
	gate Gate,
	objectStore core.ObjectStore,
	activitySvc activity.ServiceInterface,
	mailSvc core.EmailService,
	clock core.Clock,
	logger core.Logger,
	conf *core.Config,
) *service {
	return &service{
		repo:        repo,
		histRepo:    histRepo,
		gate:        gate,
		objectStore: objectStore,
		activitySvc: activitySvc,
		mailSvc:     mailSvc,
		clock:       clock,
		logger:      logger,
		conf:        conf,
	}
}

// Submit validates and idempotently records one submission for an assignment
// slot. A second submission to the same slot replaces the prior one. The
// upload (for file submissions) happens before any record mutation so an
// upload failure leaves no partial state.
func (svc *service) Submit(ns NewSubmission, ph phase.Phase) (Submission, error) {
	if !svc.gate.Unlocked(ns.StudentID, ph) {
		return Submission{}, ErrLocked
	}
	if ns.AssignmentIndex < 1 || ns.AssignmentIndex > ph.TotalAssignments {
		return Submission{}, core.NewValidationError(ErrInvalidIndex,
			core.FieldError{Field: "assignment_index", Error: ErrInvalidIndex.Error()})
	}

	var existing *Submission
	if sub, err := svc.repo.GetSubmission(context.Background(), ns.StudentID, ph.ID, ns.AssignmentIndex); err == nil {
		existing = &sub
	} else if err != ErrNotFound {
		return Submission{}, pkgerrors.Wrap(err, "getting existing submission")
	}

	switch ns.Type {
	case TypeGithub:
		if !core.IsValidGithubURL(ns.GithubURL) {
			return Submission{}, core.NewValidationError(ErrInvalidGithubURL,
				core.FieldError{Field: "github_url", Error: ErrInvalidGithubURL.Error()})
		}
	case TypeFile:
		if ns.File == nil {
			// a resubmission may keep the previously stored file
			if existing == nil || existing.FileURL == "" {
				return Submission{}, core.NewValidationError(ErrInvalidFile,
					core.FieldError{Field: "file", Error: "a file is required"})
			}
		} else if !ns.File.Valid() {
			return Submission{}, core.NewValidationError(ErrInvalidFile,
				core.FieldError{Field: "file", Error: ErrInvalidFile.Error()})
		}
	default:
		// the HTTP layer already rejects unknown types; direct callers must
		// not slip a row through with neither URL nor file
		return Submission{}, core.NewValidationError(ErrInvalidType,
			core.FieldError{Field: "submission_type", Error: ErrInvalidType.Error()})
	}
	if !ph.AllowedSubmissionType.Permits(string(ns.Type)) {
		return Submission{}, core.NewValidationError(ErrTypeNotAllowed,
			core.FieldError{Field: "submission_type", Error: ErrTypeNotAllowed.Error()})
	}

	now := svc.clock.Now().UTC()

	sub := Submission{
		StudentID:       ns.StudentID,
		PhaseID:         ph.ID,
		AssignmentIndex: ns.AssignmentIndex,
		Type:            ns.Type,
		Notes:           ns.Notes,
		Status:          StatusValid,
		SubmittedAt:     now,
	}
	if now.After(ph.EndDate) {
		sub.Status = StatusLate
	}

	switch ns.Type {
	case TypeGithub:
		sub.GithubURL = ns.GithubURL
	case TypeFile:
		if ns.File != nil {
			path := fmt.Sprintf("submissions/%s/%s/%d%s", ns.StudentID, ph.ID, ns.AssignmentIndex, ns.File.Ext())
			url, err := svc.objectStore.Upload(context.Background(), path, ns.File.Content, ns.File.ContentType)
			if err != nil {
				return Submission{}, &UploadError{Err: err}
			}
			sub.FileURL = url
		} else {
			sub.FileURL = existing.FileURL
		}
	}

	sub, err := svc.repo.UpsertSubmission(context.Background(), sub)
	if err != nil {
		return Submission{}, pkgerrors.Wrap(err, "upserting submission")
	}

	svc.appendHistory(sub, ph)
	svc.logSubmission(sub, existing != nil)
	svc.sendReceiptEmail(ns, sub, ph)
	return sub, nil
}

func (svc *service) Get(studentID, phaseID string, index int) (Submission, error) {
	return svc.repo.GetSubmission(context.Background(), studentID, phaseID, index)
}

func (svc *service) Query(studentID, phaseID string) ([]Submission, error) {
	return svc.repo.QuerySubmissions(context.Background(), studentID, phaseID)
}

func (svc *service) QueryByPhase(phaseID string) ([]Submission, error) {
	return svc.repo.QuerySubmissionsByPhase(context.Background(), phaseID)
}

// Delete soft-deletes a submission by marking its status; the row (and its
// history) remains for audit.
func (svc *service) Delete(sub Submission) error {
	if err := svc.repo.UpdateSubmissionStatus(context.Background(), sub.ID, StatusDeleted, svc.clock.Now().UTC()); err != nil {
		return pkgerrors.Wrap(err, "deleting submission")
	}
	svc.activitySvc.Log(activity.LogEntry{
		StudentID: sub.StudentID,
		PhaseID:   sub.PhaseID,
		Type:      activity.LogSubmissionDeleted,
		Payload:   map[string]interface{}{"assignmentIndex": sub.AssignmentIndex},
	})
	return nil
}

// appendHistory records one version log row; failure is non-fatal.
func (svc *service) appendHistory(sub Submission, ph phase.Phase) {
	hist := History{
		SubmissionID:     sub.ID,
		StudentID:        sub.StudentID,
		PhaseID:          sub.PhaseID,
		Type:             sub.Type,
		GithubURL:        sub.GithubURL,
		FileURL:          sub.FileURL,
		Notes:            sub.Notes,
		Status:           sub.Status,
		DeadlineAt:       ph.EndDate,
		IsBeforeDeadline: !sub.SubmittedAt.After(ph.EndDate),
		CreatedAt:        sub.SubmittedAt,
	}
	if err := svc.histRepo.AppendHistory(context.Background(), hist); err != nil {
		svc.logger.Warn("appending submission history", err)
	}
}

// sendReceiptEmail confirms a recorded submission; sending is asynchronous
// and best-effort like the welcome email.
func (svc *service) sendReceiptEmail(ns NewSubmission, sub Submission, ph phase.Phase) {
	if ns.StudentEmail == "" {
		return
	}
	var deadline string
	if sub.Status == StatusLate {
		deadline = fmt.Sprintf("It arrived %s after the deadline and was marked late.",
			core.FormatSeconds(int(sub.SubmittedAt.Sub(ph.EndDate).Seconds())))
	} else if remaining, past := core.TimeUntilDeadline(sub.SubmittedAt, ph.EndDate); !past {
		deadline = fmt.Sprintf("You have %s left to resubmit before the deadline.",
			core.FormatSeconds(int(remaining.Seconds())))
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: ns.StudentEmail}},
		Subject: fmt.Sprintf("Assignment %d received for %s", sub.AssignmentIndex, ph.Title),
		BodyStr: fmt.Sprintf(
			"We received your %s submission for assignment %d of %q. %s\n",
			sub.Type, sub.AssignmentIndex, ph.Title, deadline,
		),
	})
}

// logSubmission emits one activity-log event per successful submission;
// failure to emit must not roll back the submission.
func (svc *service) logSubmission(sub Submission, resubmitted bool) {
	typ := activity.LogSubmissionCreated
	if resubmitted {
		typ = activity.LogSubmissionUpdated
	}
	svc.activitySvc.Log(activity.LogEntry{
		StudentID: sub.StudentID,
		PhaseID:   sub.PhaseID,
		Type:      typ,
		Payload: map[string]interface{}{
			"assignmentIndex": sub.AssignmentIndex,
			"submissionType":  string(sub.Type),
		},
	})
}
