// internal/teams/handler.go
package teams

import (
	"database/sql"
	"errors"
	"net/http"

	"regbackend/internal/logger"
	"regbackend/internal/middleware"
)

var synchronizer *Synchronizer

// SetSynchronizer injects the synchronizer used by the HTTP handlers.
func SetSynchronizer(s *Synchronizer) {
	synchronizer = s
}

type syncRequest struct {
	OrganizationID string `json:"organization_id"`
	EventYearID    string `json:"event_year_id"`
}

// HandleSync converges an organization's team rows with its paid
// registrations and returns the full roster.
// POST /api/teams/sync
func HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	var req syncRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	if req.OrganizationID == "" || req.EventYearID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"organization_id and event_year_id are required", "")
		return
	}

	created, err := synchronizer.Sync(r.Context(), req.OrganizationID, req.EventYearID)
	if err != nil {
		logger.LogError("Team sync failed for org %s: %v", req.OrganizationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
			"Team synchronization failed", "")
		return
	}

	roster, err := synchronizer.List(r.Context(), req.OrganizationID, req.EventYearID)
	if err != nil {
		logger.LogError("Team list failed for org %s: %v", req.OrganizationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
			"Team synchronization failed", "")
		return
	}

	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"created": len(created),
		"teams":   roster,
	})
}

type cancelTeamRequest struct {
	TeamID string `json:"team_id"`
}

// HandleCancelTeam folds a team. Its number stays claimed. Admin only.
// POST /api/teams/cancel
func HandleCancelTeam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}
	if !middleware.GetActor(r.Context()).IsSuperAdmin {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "forbidden",
			"This operation requires super admin privileges", "")
		return
	}

	var req cancelTeamRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}

	if err := synchronizer.CancelTeam(r.Context(), req.TeamID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "team not found", "")
			return
		}
		logger.LogError("Team cancel failed for %s: %v", req.TeamID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
			"Team cancellation failed", "")
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]string{"team_id": req.TeamID, "status": "cancelled"})
}

type renameTeamRequest struct {
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
}

// HandleRenameTeam sets a team's display name.
// POST /api/teams/rename
func HandleRenameTeam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", "")
		return
	}

	var req renameTeamRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	if req.Name == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "name is required", "")
		return
	}

	if err := synchronizer.RenameTeam(r.Context(), req.TeamID, req.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "team not found", "")
			return
		}
		logger.LogError("Team rename failed for %s: %v", req.TeamID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
			"Team rename failed", "")
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]string{"team_id": req.TeamID, "name": req.Name})
}
