package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/hatua/core"
)

const orderingParam = "ordering"

// orderable columns per resource; anything else in the query param is
// silently dropped rather than passed through to the repositories.
var (
	userOrderFields = []string{
		"name", "username", "email", "points", "total_time_spent_seconds",
		"created_at", "last_login",
	}
	phaseOrderFields = []string{
		"phase_number", "title", "start_date", "end_date", "created_at",
	}
)

// bindOrdering parses the "ordering" query param ("name,-created_at") into
// ORDER BY terms; a leading "-" means descending.
func bindOrdering(ctx echo.Context, allowed []string) []core.DBOrdering {
	raw := ctx.QueryParam(orderingParam)
	if raw == "" {
		return nil
	}

	var orderings []core.DBOrdering
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:]
		}
		if !orderable(field, allowed) {
			continue
		}
		orderings = append(orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
	return orderings
}

func orderable(field string, allowed []string) bool {
	for _, a := range allowed {
		if field == a {
			return true
		}
	}
	return false
}
