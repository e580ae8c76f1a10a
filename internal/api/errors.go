package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"admindash/internal/directory"
	"admindash/internal/middleware"
	"admindash/internal/mutation"
	"admindash/internal/prefs"
	"admindash/internal/usermgmt"
	"admindash/internal/util"
)

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	var de *directory.Error
	switch {
	case errors.Is(err, mutation.ErrPending):
		util.WriteError(w, http.StatusConflict, "mutation_pending", "a request for this action is already running", rid)
	case errors.Is(err, usermgmt.ErrDialogClosed):
		util.WriteError(w, http.StatusConflict, "dialog_closed", err.Error(), rid)
	case errors.Is(err, usermgmt.ErrUnknownUser):
		util.WriteError(w, http.StatusNotFound, "unknown_user", err.Error(), rid)
	case errors.Is(err, usermgmt.ErrUnknownAction):
		util.WriteError(w, http.StatusNotFound, "unknown_action", err.Error(), rid)
	case errors.Is(err, prefs.ErrInvalidDisplayName):
		util.WriteError(w, http.StatusBadRequest, "invalid_display_name", err.Error(), rid)
	case errors.As(err, &de):
		switch de.Kind {
		case directory.KindValidation:
			util.WriteError(w, http.StatusUnprocessableEntity, "validation_failed", de.Message, rid)
		case directory.KindAuth:
			util.WriteError(w, http.StatusUnauthorized, "unauthorized", de.Message, rid)
		case directory.KindNetwork:
			util.WriteError(w, http.StatusBadGateway, "directory_unavailable", de.Message, rid)
		default:
			util.WriteError(w, http.StatusBadGateway, "directory_error", de.Message, rid)
		}
	default:
		h.log.Error("unhandled error", zap.Error(err), zap.String("request_id", rid))
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", rid)
	}
}

func (h *Handlers) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	util.WriteError(w, http.StatusBadRequest, "bad_request", msg, middleware.RequestID(r.Context()))
}
