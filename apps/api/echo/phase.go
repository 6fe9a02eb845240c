package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/hatua/core/activity"
	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/submission"
)

var errPhaseNotFoundInCtx = errors.New("phase object not found in echo.Context")

type phaseApi struct {
	deps ServerDeps
}

func registerPhaseAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := phaseApi{deps: deps}

	pg := g.Group("/phases", jwt)

	pg.GET("", api.query)
	pg.POST("", api.create, adminMiddleware())

	// detail endpoints
	dg := pg.Group("/:id", ctxPhaseMiddleware(deps.PhaseSvc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.POST("/pause", api.pause, adminMiddleware())
	dg.POST("/resume", api.resume, adminMiddleware())
	dg.GET("/activity", api.queryActivity, adminMiddleware())

	// student session endpoints
	dg.POST("/open", api.open)
	dg.POST("/close", api.close)
	dg.POST("/heartbeat", api.heartbeat)
	dg.POST("/video-completed", api.videoCompleted)
}

// Handlers

func (api *phaseApi) create(ctx echo.Context) error {
	var data phase.NewPhase
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPhase")
	}
	if err := data.Validate(api.deps.Validate, api.deps.PhaseSvc); err != nil {
		return err
	}

	ph, err := api.deps.PhaseSvc.Create(data)
	if err != nil {
		return errors.Wrap(err, "creating phase")
	}
	return ctx.JSON(http.StatusCreated, ph)
}

// query lists phases. Students get the live ones only; admins get everything,
// optionally filtered.
func (api *phaseApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	now := api.deps.Clock.Now().UTC()

	var phases []phase.Phase
	if claims.IsAdmin {
		filter := new(phase.QueryFilter)
		if err := ctx.Bind(filter); err != nil {
			return ctx.JSON(http.StatusOK, []PhaseResponse{})
		}
		phases, err = api.deps.PhaseSvc.Filter(filter, bindOrdering(ctx, phaseOrderFields)...)
	} else {
		phases, err = api.deps.PhaseSvc.QueryLive(now)
	}
	if err != nil {
		return errors.Wrap(err, "querying phases")
	}

	resp := make([]PhaseResponse, 0, len(phases))
	for _, ph := range phases {
		resp = append(resp, newPhaseResponse(ph, now))
	}
	return ctx.JSON(http.StatusOK, resp)
}

// retrieve returns the phase detail. For students it enforces access rules
// and includes their progress on the phase.
func (api *phaseApi) retrieve(ctx echo.Context) error {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	now := api.deps.Clock.Now().UTC()
	resp := PhaseDetailResponse{PhaseResponse: newPhaseResponse(ph, now)}

	if claims.IsAdmin {
		return ctx.JSON(http.StatusOK, resp)
	}

	if err := api.deps.PhaseSvc.CheckAccess(ph, now); err != nil {
		return err
	}

	progress := api.studentProgress(claims.Subject, ph)
	resp.Progress = &progress

	subs, err := api.deps.SubmissionSvc.Query(claims.Subject, ph.ID)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []submission.Submission{}
	}
	resp.Submissions = subs

	return ctx.JSON(http.StatusOK, resp)
}

func (api *phaseApi) update(ctx echo.Context) error {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}

	var data phase.UpdatePhase
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePhase")
	}
	if err := data.Validate(api.deps.Validate, ph, api.deps.PhaseSvc); err != nil {
		return err
	}

	ph, err := api.deps.PhaseSvc.Update(ph, data)
	if err != nil {
		return errors.Wrap(err, "updating phase")
	}
	return ctx.JSON(http.StatusOK, ph)
}

func (api *phaseApi) destroy(ctx echo.Context) error {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}
	if err := api.deps.PhaseSvc.Delete(ph.ID); err != nil {
		return errors.Wrap(err, "deleting phase")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *phaseApi) pause(ctx echo.Context) error {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}

	var data PauseRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PauseRequest")
	}

	ph, err := api.deps.PhaseSvc.Pause(ph, data.Reason)
	if err != nil {
		return errors.Wrap(err, "pausing phase")
	}
	return ctx.JSON(http.StatusOK, ph)
}

func (api *phaseApi) resume(ctx echo.Context) error {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}
	ph, err := api.deps.PhaseSvc.Resume(ph)
	if err != nil {
		return errors.Wrap(err, "resuming phase")
	}
	return ctx.JSON(http.StatusOK, ph)
}

func (api *phaseApi) queryActivity(ctx echo.Context) error {
	ph, ok := ctx.Get("phase").(phase.Phase)
	if !ok {
		return errors.Wrap(errPhaseNotFoundInCtx, "retrieving object from context")
	}
	acts, err := api.deps.ActivitySvc.QueryByPhase(ph.ID)
	if err != nil {
		return errors.Wrap(err, "querying phase activities")
	}
	if acts == nil {
		acts = []activity.PhaseActivity{}
	}
	return ctx.JSON(http.StatusOK, acts)
}

// open starts the student's heartbeat session on the phase.
func (api *phaseApi) open(ctx echo.Context) error {
	ph, claims, err := api.studentPhase(ctx)
	if err != nil {
		return err
	}

	sess := api.deps.Sessions.Open(claims.Subject, ph)
	api.deps.ActivitySvc.Log(activity.LogEntry{
		StudentID: claims.Subject,
		PhaseID:   ph.ID,
		Type:      activity.LogPageView,
	})
	return ctx.JSON(http.StatusOK, newSessionResponse(sess))
}

// close stops the session, flushing any unsynced seconds.
func (api *phaseApi) close(ctx echo.Context) error {
	ph, claims, err := api.studentPhase(ctx)
	if err != nil {
		return err
	}
	api.deps.Sessions.Close(claims.Subject, ph.ID)
	return ctx.NoContent(http.StatusNoContent)
}

// heartbeat forces a sync of the live session and reports its state.
func (api *phaseApi) heartbeat(ctx echo.Context) error {
	ph, claims, err := api.studentPhase(ctx)
	if err != nil {
		return err
	}

	sess, ok := api.deps.Sessions.Get(claims.Subject, ph.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "no open session for this phase")
	}
	api.deps.Sessions.Touch(claims.Subject)

	if err := sess.Sync(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "syncing session")
	}
	api.deps.ActivitySvc.Log(activity.LogEntry{
		StudentID: claims.Subject,
		PhaseID:   ph.ID,
		Type:      activity.LogHeartbeat,
	})
	return ctx.JSON(http.StatusOK, newSessionResponse(sess))
}

// videoCompleted stickily marks the phase video as fully watched.
func (api *phaseApi) videoCompleted(ctx echo.Context) error {
	ph, claims, err := api.studentPhase(ctx)
	if err != nil {
		return err
	}

	if _, err := api.deps.ActivitySvc.MarkVideoCompleted(claims.Subject, ph.ID); err != nil {
		return errors.Wrap(err, "marking video completed")
	}
	if sess, ok := api.deps.Sessions.Get(claims.Subject, ph.ID); ok {
		sess.SetVideoCompleted()
		return ctx.JSON(http.StatusOK, newSessionResponse(sess))
	}

	progress := api.studentProgress(claims.Subject, ph)
	return ctx.JSON(http.StatusOK, progress)
}

// studentPhase loads the context phase and enforces student access to it.
func (api *phaseApi) studentPhase(ctx echo.Context) (phase.Phase, Claims, error) {
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

// studentProgress reports the student's counters on the phase, preferring
// the live session over the persisted row.
func (api *phaseApi) studentProgress(studentID string, ph phase.Phase) ProgressResponse {
	if sess, ok := api.deps.Sessions.Get(studentID, ph.ID); ok {
		return ProgressResponse{
			TotalTimeSpentSeconds: sess.CurrentSeconds(),
			VideoCompleted:        sess.VideoCompleted(),
			Unlocked:              sess.Unlocked(),
		}
	}

	var progress ProgressResponse
	if act, err := api.deps.ActivitySvc.Get(studentID, ph.ID); err == nil {
		progress.TotalTimeSpentSeconds = act.TotalTimeSpentSeconds
		progress.VideoCompleted = act.VideoCompleted
	}
	progress.Unlocked = api.deps.Sessions.Unlocked(studentID, ph)
	return progress
}

func ctxPhaseMiddleware(svc phase.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ph, err := svc.GetByID(ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == phase.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding phase by ID")
			}
			ctx.Set("phase", ph)
			return next(ctx)
		}
	}
}

// Bindings

type (
	PauseRequest struct {
		Reason string `json:"reason"`
	}

	PhaseResponse struct {
		phase.Phase
		Status  phase.Status `json:"status"`
		VideoID string       `json:"video_id,omitempty"`
	}

	ProgressResponse struct {
		TotalTimeSpentSeconds int  `json:"total_time_spent_seconds"`
		VideoCompleted        bool `json:"video_completed"`
		Unlocked              bool `json:"unlocked"`
	}

	PhaseDetailResponse struct {
		PhaseResponse
		Progress    *ProgressResponse       `json:"progress,omitempty"`
		Submissions []submission.Submission `json:"submissions,omitempty"`
	}
)

func newPhaseResponse(ph phase.Phase, now time.Time) PhaseResponse {
	return PhaseResponse{Phase: ph, Status: ph.StatusAt(now), VideoID: ph.VideoID()}
}

func newSessionResponse(sess *activity.HeartbeatSession) ProgressResponse {
	return ProgressResponse{
		TotalTimeSpentSeconds: sess.CurrentSeconds(),
		VideoCompleted:        sess.VideoCompleted(),
		Unlocked:              sess.Unlocked(),
	}
}
