package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/hatua/core/activity"
)

type activityApi struct {
	deps ServerDeps
}

func registerActivityAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := activityApi{deps: deps}

	ag := g.Group("/activity", jwt)
	ag.POST("/ping", api.ping)
}

// ping records student input (mouse, keyboard, scroll batched client-side)
// for the idle check of their point awarder, optionally logging the event.
func (api *activityApi) ping(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data PingRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PingRequest")
	}

	api.deps.Sessions.Touch(claims.Subject)

	if data.Type != "" {
		api.deps.ActivitySvc.Log(activity.LogEntry{
			StudentID: claims.Subject,
			PhaseID:   data.PhaseID,
			Type:      activity.LogType(data.Type),
			Payload:   data.Payload,
		})
	}
	return ctx.NoContent(http.StatusNoContent)
}

type PingRequest struct {
	PhaseID string                 `json:"phase_id"`
	Type    string                 `json:"activity_type"`
	Payload map[string]interface{} `json:"payload"`
}
