package echoapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/submission"
)

type submissionApi struct {
	deps ServerDeps
}

func registerSubmissionAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := submissionApi{deps: deps}

	sg := g.Group("/phases/:id/submissions", jwt, ctxPhaseMiddleware(deps.PhaseSvc))

	sg.POST("", api.submit)
	sg.GET("", api.query)
	sg.GET("/all", api.queryAll, adminMiddleware())
	sg.DELETE("/:index", api.destroy)
}

// Handlers

// submit records (or replaces) the student's submission for one assignment
// slot. GitHub submissions arrive as JSON or form fields; file submissions
// as multipart form data.
func (api *submissionApi) submit(ctx echo.Context) error {
	ph, claims, err := api.studentPhase(ctx)
	if err != nil {
		return err
	}

	data, err := api.bind(ctx)
	if err != nil {
		return err
	}
	data.StudentID = claims.Subject
	data.StudentEmail = claims.Email
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	sub, err := api.deps.SubmissionSvc.Submit(data, ph)
	if err != nil {
		return err
	}
	api.deps.Sessions.Touch(claims.Subject)
	return ctx.JSON(http.StatusOK, sub)
}

func (api *submissionApi) query(ctx echo.Context) error {
	ph, claims, err := api.studentPhase(ctx)
	if err != nil {
		return err
	}

	subs, err := api.deps.SubmissionSvc.Query(claims.Subject, ph.ID)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []submission.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) queryAll(ctx echo.Context) error {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}

	subs, err := api.deps.SubmissionSvc.QueryByPhase(ph.ID)
	if err != nil {
		return errors.Wrap(err, "querying phase submissions")
	}
	if subs == nil {
		subs = []submission.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) destroy(ctx echo.Context) error {
	ph, claims, err := api.studentPhase(ctx)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		return errHttpNotFound
	}
	sub, err := api.deps.SubmissionSvc.Get(claims.Subject, ph.ID, index)
	if err != nil {
		if errors.Cause(err) == submission.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding submission")
	}

	if err := api.deps.SubmissionSvc.Delete(sub); err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// bind reads a NewSubmission from either a JSON body or a multipart form
// carrying the uploaded file.
func (api *submissionApi) bind(ctx echo.Context) (submission.NewSubmission, error) {
	var data submission.NewSubmission

	contentType := ctx.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		if err := ctx.Bind(&data); err != nil {
			return data, errors.Wrap(err, "binding to NewSubmission")
		}
		return data, nil
	}

	data.Type = submission.Type(ctx.FormValue("submission_type"))
	data.GithubURL = ctx.FormValue("github_url")
	data.Notes = ctx.FormValue("notes")
	if idx := ctx.FormValue("assignment_index"); idx != "" {
		n, err := strconv.Atoi(idx)
		if err != nil {
			return data, errors.Wrap(err, "parsing assignment_index")
		}
		data.AssignmentIndex = n
	}

	// a missing file part is fine: github submissions and file resubmissions
	// reusing the stored file carry no upload
	if fh, err := ctx.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return data, errors.Wrap(err, "opening uploaded file")
		}
		data.File = &submission.FilePayload{
			Filename:    fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Content:     f,
		}
	}

	return data, nil
}

func (api *submissionApi) studentPhase(ctx echo.Context) (phase.Phase, Claims, error) {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return phase.Phase{}, Claims{}, errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return phase.Phase{}, Claims{}, errors.Wrap(err, "getting context claims")
	}
	if err := api.deps.PhaseSvc.CheckAccess(ph, api.deps.Clock.Now().UTC()); err != nil {
		return phase.Phase{}, Claims{}, err
	}
	return ph, claims, nil
}
