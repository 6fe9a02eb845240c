package tests

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/submission"
	"github.com/trezcool/hatua/core/user"
	testutil "github.com/trezcool/hatua/tests"
)

// newFileRequest builds a multipart submission request carrying one uploaded
// file. CreatePart is used instead of CreateFormFile so the part can declare
// its real content type.
func newFileRequest(t *testing.T, path, token string, fields map[string]string, filename, contentType string, content []byte) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(): %v", err)
		}
	}
	if filename != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		hdr.Set("Content-Type", contentType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart(): %v", err)
		}
		if _, err = part.Write(content); err != nil {
			t.Fatalf("part.Write(): %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart.Close(): %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	return req, rec
}

func unmarshalSubmission(t *testing.T, data []byte) submission.Submission {
	t.Helper()
	var sub submission.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	return sub
}

func Test_submissionApi_submit(t *testing.T) {
	resetState(t)

	student := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", "")
	studentToken := getToken(t, student)

	now := clock.Now()
	lockedPh := testutil.CreatePhase(t, phaseRepo, 1, "Intro to Go", now.Add(-time.Hour), now.Add(72*time.Hour),
		func(p *phase.Phase) { p.MinSecondsRequired = 600 })
	openPh := testutil.CreatePhase(t, phaseRepo, 2, "Webservers", now.Add(-time.Hour), now.Add(72*time.Hour),
		func(p *phase.Phase) {
			p.BypassTimeRequirement = true
			p.TotalAssignments = 2
		})
	githubOnly := testutil.CreatePhase(t, phaseRepo, 3, "Databases", now.Add(-time.Hour), now.Add(72*time.Hour),
		func(p *phase.Phase) {
			p.BypassTimeRequirement = true
			p.AllowedSubmissionType = phase.AllowGithub
		})

	submitPath := func(ph phase.Phase) string { return "/v1/phases/" + ph.ID + "/submissions" }

	github := func(index int, url string) []byte {
		return marchallObj(t, submission.NewSubmission{AssignmentIndex: index, Type: submission.TypeGithub, GithubURL: url})
	}

	tests := []httpTest{
		{name: "Auth required", path: submitPath(openPh), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Locked phase rejects submissions", path: submitPath(lockedPh), token: studentToken,
			body:     github(1, "https://github.com/hero/go-webserver"),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "submissions are locked for this phase"}),
		},
		{
			name: "submission type required", path: submitPath(openPh), token: studentToken,
			body:     marchallObj(t, submission.NewSubmission{AssignmentIndex: 1}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"submission_type": "this field is required"}),
		},
		{
			name: "assignment index out of range", path: submitPath(openPh), token: studentToken,
			body:     github(3, "https://github.com/hero/go-webserver"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"assignment_index": "assignment index out of range"}),
		},
		{
			name: "invalid github url", path: submitPath(openPh), token: studentToken,
			body:     github(1, "https://gitlab.com/hero/go-webserver"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"github_url": "must be a valid GitHub repository URL"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	var firstID string

	t.Run("github submission recorded", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, submitPath(openPh), studentToken, github(1, "https://github.com/hero/go-webserver"))
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body %v", rec.Code, rec.Body.String())
		}
		sub := unmarshalSubmission(t, rec.Body.Bytes())
		if sub.ID == "" {
			t.Error("failed! empty ID")
		}
		if sub.Type != submission.TypeGithub || sub.GithubURL != "https://github.com/hero/go-webserver" {
			t.Errorf("failed! sub = %+v", sub)
		}
		if sub.Status != submission.StatusValid {
			t.Errorf("failed! status = %v; want %v", sub.Status, submission.StatusValid)
		}
		firstID = sub.ID
	})

	t.Run("resubmission replaces in place", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, submitPath(openPh), studentToken, github(1, "https://github.com/hero/go-webserver-v2"))
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body %v", rec.Code, rec.Body.String())
		}
		sub := unmarshalSubmission(t, rec.Body.Bytes())
		if sub.ID != firstID {
			t.Errorf("failed! ID = %v; want %v", sub.ID, firstID)
		}
		if sub.GithubURL != "https://github.com/hero/go-webserver-v2" {
			t.Errorf("failed! github_url = %v", sub.GithubURL)
		}
	})

	fileFields := func(index int) map[string]string {
		return map[string]string{"submission_type": "file", "assignment_index": strconv.Itoa(index), "notes": "design doc"}
	}

	t.Run("file submission uploaded", func(t *testing.T) {
		req, rec := newFileRequest(t, submitPath(openPh), studentToken, fileFields(2), "design.pdf", "application/pdf", []byte("%PDF-1.4 lol"))
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body %v", rec.Code, rec.Body.String())
		}
		sub := unmarshalSubmission(t, rec.Body.Bytes())
		if sub.Type != submission.TypeFile {
			t.Errorf("failed! type = %v; want %v", sub.Type, submission.TypeFile)
		}
		if sub.FileURL == "" {
			t.Error("failed! empty file_url")
		}
		if sub.Notes != "design doc" {
			t.Errorf("failed! notes = %q", sub.Notes)
		}
	})

	t.Run("file required on first file submission", func(t *testing.T) {
		req, rec := newFileRequest(t, submitPath(githubOnly), studentToken,
			map[string]string{"submission_type": "file", "assignment_index": "1"}, "", "", nil)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"file": "a file is required"}),
		}, rec)
	})

	t.Run("oversized file rejected", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), submission.MaxFileSize+1)
		req, rec := newFileRequest(t, submitPath(openPh), studentToken, fileFields(2), "design.pdf", "application/pdf", big)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"file": "file must be a PDF, PNG or JPEG of at most 2 MB"}),
		}, rec)
	})

	t.Run("disallowed file type rejected", func(t *testing.T) {
		req, rec := newFileRequest(t, submitPath(openPh), studentToken, fileFields(2), "virus.exe", "application/octet-stream", []byte("MZ"))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"file": "file must be a PDF, PNG or JPEG of at most 2 MB"}),
		}, rec)
	})

	t.Run("phase restricts submission types", func(t *testing.T) {
		req, rec := newFileRequest(t, submitPath(githubOnly), studentToken,
			map[string]string{"submission_type": "file", "assignment_index": "1"}, "design.pdf", "application/pdf", []byte("%PDF-1.4 lol"))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"submission_type": "this submission type is not allowed for this phase"}),
		}, rec)
	})

	t.Run("submissions log activity", func(t *testing.T) {
		var created, updated int
		for _, entry := range logRepo.Logs() {
			switch entry.Type {
			case "SUBMISSION_CREATED":
				created++
			case "SUBMISSION_UPDATED":
				updated++
			}
		}
		if created < 2 { // github slot 1 + file slot 2
			t.Errorf("failed! created = %v; want >= 2", created)
		}
		if updated < 1 { // the resubmission
			t.Errorf("failed! updated = %v; want >= 1", updated)
		}
	})
}

func Test_submissionApi_queryAndDestroy(t *testing.T) {
	resetState(t)

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", user.RoleAdmin)
	student := testutil.CreateUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", "")
	other := testutil.CreateUser(t, usrRepo, "King", "king", "king@test.cd", "", "")
	studentToken := getToken(t, student)

	now := clock.Now()
	ph := testutil.CreatePhase(t, phaseRepo, 1, "Webservers", now.Add(-time.Hour), now.Add(72*time.Hour),
		func(p *phase.Phase) {
			p.BypassTimeRequirement = true
			p.TotalAssignments = 2
		})
	path := "/v1/phases/" + ph.ID + "/submissions"

	submit := func(t *testing.T, token string, index int, url string) submission.Submission {
		t.Helper()
		body := marchallObj(t, submission.NewSubmission{AssignmentIndex: index, Type: submission.TypeGithub, GithubURL: url})
		req, rec := newAuthRequest(http.MethodPost, path, token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("submit failed! code = %v; body %v", rec.Code, rec.Body.String())
		}
		return unmarshalSubmission(t, rec.Body.Bytes())
	}

	sub1 := submit(t, studentToken, 1, "https://github.com/hero/go-webserver")
	sub2 := submit(t, studentToken, 2, "https://github.com/hero/go-webserver-extra")
	otherSub := submit(t, getToken(t, other), 1, "https://github.com/king/go-webserver")

	t.Run("students see their own submissions", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, studentToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallList(t, sub1, sub2)}, rec)
	})

	t.Run("phase-wide listing is admin-only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path+"/all", studentToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("admins see the whole phase", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path+"/all", getToken(t, admin))
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body %v", rec.Code, rec.Body.String())
		}
		var subs []submission.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		if len(subs) != 3 {
			t.Errorf("failed! len = %v; want 3", len(subs))
		}
		ids := make(map[string]bool, len(subs))
		for _, sub := range subs {
			ids[sub.ID] = true
		}
		for _, want := range []submission.Submission{sub1, sub2, otherSub} {
			if !ids[want.ID] {
				t.Errorf("failed! missing submission %v", want.ID)
			}
		}
	})

	t.Run("unknown assignment index", func(t *testing.T) {
		for _, index := range []string{"lol", "9"} {
			req, rec := newAuthRequest(http.MethodDelete, path+"/"+index, studentToken)
			app.ServeHTTP(rec, req)
			if rec.Code != http.StatusNotFound {
				t.Errorf("failed! index %q: code = %v; want %v", index, rec.Code, http.StatusNotFound)
			}
		}
	})

	t.Run("destroy soft-deletes", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, path+"/1", studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("failed! code = %v; body %v", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, path, studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body %v", rec.Code, rec.Body.String())
		}
		var subs []submission.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		if len(subs) != 2 {
			t.Fatalf("failed! len = %v; want 2", len(subs))
		}
		if subs[0].Status != submission.StatusDeleted {
			t.Errorf("failed! status = %v; want %v", subs[0].Status, submission.StatusDeleted)
		}
		if subs[1].Status != submission.StatusValid {
			t.Errorf("failed! status = %v; want %v", subs[1].Status, submission.StatusValid)
		}
	})

	t.Run("history keeps every version", func(t *testing.T) {
		submit(t, studentToken, 2, "https://github.com/hero/go-webserver-extra-v2")

		versions := make([]int, 0, 2)
		for _, hist := range histRepo.History() {
			if hist.SubmissionID == sub2.ID {
				versions = append(versions, hist.Version)
			}
		}
		sort.Ints(versions)
		if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
			t.Errorf("failed! versions = %v; want [1 2]", versions)
		}
	})
}
