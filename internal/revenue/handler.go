// internal/revenue/handler.go
package revenue

import (
	"net/http"

	"regbackend/internal/logger"
	"regbackend/internal/middleware"
)

var attributor *Attributor

// SetAttributor injects the attributor used by the HTTP handler.
func SetAttributor(a *Attributor) {
	attributor = a
}

// HandleRevenue returns the revenue attribution for an event year, optionally
// scoped to one organization. Admin only.
// GET /api/revenue?event_year_id=...&organization_id=...
func HandleRevenue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "GET required", "")
		return
	}
	if !middleware.GetActor(r.Context()).IsSuperAdmin {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "forbidden",
			"This operation requires super admin privileges", "")
		return
	}

	eventYearID := r.URL.Query().Get("event_year_id")
	if eventYearID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "event_year_id is required", "")
		return
	}

	var report *Report
	var err error
	if orgID := r.URL.Query().Get("organization_id"); orgID != "" {
		report, err = attributor.SummarizeOrganization(r.Context(), orgID, eventYearID)
	} else {
		report, err = attributor.Summarize(r.Context(), eventYearID)
	}
	if err != nil {
		logger.LogError("Revenue attribution failed for event year %s: %v", eventYearID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
			"Revenue attribution failed", "")
		return
	}

	middleware.WriteAPISuccess(w, r, report)
}
