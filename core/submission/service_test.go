package submission_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/activity"
	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/submission"
	"github.com/trezcool/hatua/core/user"
	emailsvc "github.com/trezcool/hatua/services/email"
	storagesvc "github.com/trezcool/hatua/services/storage"
	inmemdb "github.com/trezcool/hatua/storage/database/inmem"
	testutil "github.com/trezcool/hatua/tests"
)

// staticGate locks or unlocks the form unconditionally.
type staticGate struct{ unlocked bool }

func (g staticGate) Unlocked(studentID string, ph phase.Phase) bool { return g.unlocked }

type submissionFixture struct {
	clock    *testutil.Clock
	store    *storagesvc.InMemObjectStore
	mailSvc  interface{ SentMessages() []core.EmailMessage }
	logRepo  interface{ Logs() []activity.LogEntry }
	histRepo interface{ History() []submission.History }
	svc      submission.ServiceInterface
}

func newSubmissionFixture(t *testing.T, gate submission.Gate) *submissionFixture {
	t.Helper()

	conf := core.NewTestConfig()
	clock := testutil.NewClock(time.Date(2021, 5, 3, 9, 0, 0, 0, time.UTC))

	db, err := inmemdb.Open()
	require.NoError(t, err)

	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewService(inmemdb.NewUserRepository(db), mailSvc, clock, conf)
	logRepo := inmemdb.NewActivityLogRepository(db)
	activitySvc := activity.NewService(
		inmemdb.NewActivityRepository(db), logRepo, usrSvc, clock, testutil.NopLogger{}, conf)

	store := storagesvc.NewInMemObjectStore()
	histRepo := inmemdb.NewSubmissionHistoryRepository(db)
	svc := submission.NewService(
		inmemdb.NewSubmissionRepository(db),
		histRepo,
		gate,
		store,
		activitySvc,
		mailSvc,
		clock,
		testutil.NopLogger{},
		conf,
	)
	return &submissionFixture{
		clock:    clock,
		store:    store,
		mailSvc:  mailSvc,
		logRepo:  logRepo,
		histRepo: histRepo,
		svc:      svc,
	}
}

func testPhase(opts ...func(*phase.Phase)) phase.Phase {
	ph := phase.Phase{
		ID:                    "ph1",
		PhaseNumber:           1,
		Title:                 "Go Basics",
		AllowedSubmissionType: phase.AllowBoth,
		StartDate:             time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:               time.Date(2021, 5, 31, 0, 0, 0, 0, time.UTC),
		IsActive:              true,
		TotalAssignments:      2,
	}
	for _, opt := range opts {
		opt(&ph)
	}
	return ph
}

func githubSubmission(studentID string, index int) submission.NewSubmission {
	return submission.NewSubmission{
		StudentID:       studentID,
		AssignmentIndex: index,
		Type:            submission.TypeGithub,
		GithubURL:       "https://github.com/hero/solution",
	}
}

func fileSubmission(studentID string, index int, file *submission.FilePayload) submission.NewSubmission {
	return submission.NewSubmission{
		StudentID:       studentID,
		AssignmentIndex: index,
		Type:            submission.TypeFile,
		File:            file,
	}
}

func pdfPayload(size int64) *submission.FilePayload {
	return &submission.FilePayload{
		Filename:    "solution.pdf",
		Size:        size,
		ContentType: "application/pdf",
		Content:     strings.NewReader("%PDF-1.4 lol"),
	}
}

func fieldErrors(t *testing.T, err error) []core.FieldError {
	t.Helper()
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "expected a validation error, got %v", err)
	return vErr.Fields
}

func TestService_Submit_lockedGate(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: false})

	_, err := f.svc.Submit(githubSubmission("stu1", 1), testPhase())
	assert.Equal(t, submission.ErrLocked, err)
}

func TestService_Submit_indexOutOfRange(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	for _, index := range []int{0, -1, 3} {
		_, err := f.svc.Submit(githubSubmission("stu1", index), testPhase())
		flds := fieldErrors(t, err)
		require.Len(t, flds, 1)
		assert.Equal(t, "assignment_index", flds[0].Field)
	}
}

func TestService_Submit_unknownType(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	ns := githubSubmission("stu1", 1)
	ns.Type = "carrier-pigeon"
	_, err := f.svc.Submit(ns, testPhase())
	flds := fieldErrors(t, err)
	require.Len(t, flds, 1)
	assert.Equal(t, "submission_type", flds[0].Field)

	_, err = f.svc.Get("stu1", "ph1", 1)
	assert.Equal(t, submission.ErrNotFound, err)
}

func TestService_Submit_invalidGithubURL(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	for _, url := range []string{"", "lol", "https://gitlab.com/hero/solution", "https://github.com"} {
		ns := githubSubmission("stu1", 1)
		ns.GithubURL = url
		_, err := f.svc.Submit(ns, testPhase())
		flds := fieldErrors(t, err)
		require.Len(t, flds, 1)
		assert.Equal(t, "github_url", flds[0].Field)
	}
}

func TestService_Submit_github(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	sub, err := f.svc.Submit(githubSubmission("stu1", 1), testPhase())
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, submission.TypeGithub, sub.Type)
	assert.Equal(t, "https://github.com/hero/solution", sub.GithubURL)
	assert.Equal(t, submission.StatusValid, sub.Status)
	assert.Equal(t, f.clock.Now(), sub.SubmittedAt)

	hist := f.histRepo.History()
	require.Len(t, hist, 1)
	assert.Equal(t, sub.ID, hist[0].SubmissionID)
	assert.Equal(t, 1, hist[0].Version)
	assert.True(t, hist[0].IsBeforeDeadline)

	logs := f.logRepo.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, activity.LogSubmissionCreated, logs[0].Type)
}

func TestService_Submit_resubmissionReplaces(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	ph := testPhase()

	first, err := f.svc.Submit(githubSubmission("stu1", 1), ph)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	ns := githubSubmission("stu1", 1)
	ns.GithubURL = "https://github.com/hero/solution-v2"
	second, err := f.svc.Submit(ns, ph)
	require.NoError(t, err)

	// same slot, same row
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "https://github.com/hero/solution-v2", second.GithubURL)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.SubmittedAt.After(first.SubmittedAt))

	subs, err := f.svc.Query("stu1", ph.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	// the version log keeps both writes
	hist := f.histRepo.History()
	require.Len(t, hist, 2)
	assert.Equal(t, 1, hist[0].Version)
	assert.Equal(t, 2, hist[1].Version)

	logs := f.logRepo.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, activity.LogSubmissionUpdated, logs[1].Type)
}

func TestService_Submit_indexesAreIsolated(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	ph := testPhase()

	sub1, err := f.svc.Submit(githubSubmission("stu1", 1), ph)
	require.NoError(t, err)
	sub2, err := f.svc.Submit(githubSubmission("stu1", 2), ph)
	require.NoError(t, err)

	assert.NotEqual(t, sub1.ID, sub2.ID)

	subs, err := f.svc.Query("stu1", ph.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestService_Submit_file(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	sub, err := f.svc.Submit(fileSubmission("stu1", 1, pdfPayload(1024)), testPhase())
	require.NoError(t, err)

	assert.Equal(t, submission.TypeFile, sub.Type)
	assert.NotEmpty(t, sub.FileURL)
	assert.Equal(t, 1, f.store.Len())
}

func TestService_Submit_invalidFiles(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	tooBig := pdfPayload(submission.MaxFileSize + 1)
	badExt := &submission.FilePayload{Filename: "solution.exe", Size: 1024, Content: strings.NewReader("MZ")}
	mismatched := &submission.FilePayload{Filename: "solution.pdf", Size: 1024, ContentType: "image/png", Content: strings.NewReader("lol")}
	empty := pdfPayload(0)

	for _, file := range []*submission.FilePayload{tooBig, badExt, mismatched, empty} {
		_, err := f.svc.Submit(fileSubmission("stu1", 1, file), testPhase())
		flds := fieldErrors(t, err)
		require.Len(t, flds, 1)
		assert.Equal(t, "file", flds[0].Field)
	}
	assert.Equal(t, 0, f.store.Len(), "rejected files must not be uploaded")
}

func TestService_Submit_fileRequiredOnFirstSubmission(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	_, err := f.svc.Submit(fileSubmission("stu1", 1, nil), testPhase())
	flds := fieldErrors(t, err)
	require.Len(t, flds, 1)
	assert.Equal(t, "file", flds[0].Field)
}

func TestService_Submit_resubmissionKeepsStoredFile(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	ph := testPhase()

	first, err := f.svc.Submit(fileSubmission("stu1", 1, pdfPayload(1024)), ph)
	require.NoError(t, err)

	// update the notes without re-uploading
	ns := fileSubmission("stu1", 1, nil)
	ns.Notes = "same file, better notes"
	second, err := f.svc.Submit(ns, ph)
	require.NoError(t, err)

	assert.Equal(t, first.FileURL, second.FileURL)
	assert.Equal(t, "same file, better notes", second.Notes)
	assert.Equal(t, 1, f.store.Len())
}

func TestService_Submit_typeNotAllowed(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	ph := testPhase(func(p *phase.Phase) { p.AllowedSubmissionType = phase.AllowGithub })

	_, err := f.svc.Submit(fileSubmission("stu1", 1, pdfPayload(1024)), ph)
	flds := fieldErrors(t, err)
	require.Len(t, flds, 1)
	assert.Equal(t, "submission_type", flds[0].Field)
}

func TestService_Submit_lateAfterDeadline(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	ph := testPhase()

	f.clock.Advance(30 * 24 * time.Hour) // past the end date

	sub, err := f.svc.Submit(githubSubmission("stu1", 1), ph)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusLate, sub.Status)

	hist := f.histRepo.History()
	require.Len(t, hist, 1)
	assert.False(t, hist[0].IsBeforeDeadline)
}

func TestService_Submit_uploadFailureLeavesNoRecord(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	f.store.FailUploads = true

	_, err := f.svc.Submit(fileSubmission("stu1", 1, pdfPayload(1024)), testPhase())

	var upErr *submission.UploadError
	require.True(t, errors.As(err, &upErr), "expected an upload error, got %v", err)

	_, err = f.svc.Get("stu1", "ph1", 1)
	assert.Equal(t, submission.ErrNotFound, err)
	assert.Empty(t, f.histRepo.History())
}

func TestService_Delete(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	ph := testPhase()

	sub, err := f.svc.Submit(githubSubmission("stu1", 1), ph)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(sub))

	deleted, err := f.svc.Get("stu1", ph.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusDeleted, deleted.Status)

	logs := f.logRepo.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, activity.LogSubmissionDeleted, logs[1].Type)
}

func TestService_Submit_receiptEmail(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})

	ns := githubSubmission("stu1", 1)
	ns.StudentEmail = "stu1@test.cd"
	_, err := f.svc.Submit(ns, testPhase())
	require.NoError(t, err)

	sent := f.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "stu1@test.cd", sent[0].To[0].Address)
	assert.Contains(t, sent[0].Subject, "Assignment 1")
	assert.Contains(t, sent[0].BodyStr, "before the deadline")

	// no email without an address on the request
	_, err = f.svc.Submit(githubSubmission("stu2", 1), testPhase())
	require.NoError(t, err)
	assert.Len(t, f.mailSvc.SentMessages(), 1)
}

func TestService_QueryByPhase(t *testing.T) {
	f := newSubmissionFixture(t, staticGate{unlocked: true})
	ph := testPhase()

	_, err := f.svc.Submit(githubSubmission("stu1", 1), ph)
	require.NoError(t, err)
	_, err = f.svc.Submit(githubSubmission("stu2", 1), ph)
	require.NoError(t, err)

	subs, err := f.svc.QueryByPhase(ph.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}
