package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"admindash/internal/authgate"
	"admindash/internal/models"
	"admindash/internal/mutation"
	"admindash/internal/query"
	"admindash/internal/usermgmt"
	"admindash/internal/util"
)

type shellResponse struct {
	authgate.View
	// Navigate is set once when the client must leave the dashboard.
	Navigate string `json:"navigate,omitempty"`
}

// Shell mounts the gate and marks the client ready to follow redirects.
func (h *Handlers) Shell(w http.ResponseWriter, r *http.Request) {
	h.app.Gate.Mount()
	h.app.Gate.ClientReady()
	h.writeShell(w)
}

func (h *Handlers) writeShell(w http.ResponseWriter) {
	util.WriteJSON(w, http.StatusOK, shellResponse{View: h.app.Gate.View(), Navigate: h.app.Redirects.Take()})
}

func (h *Handlers) OpenSignOut(w http.ResponseWriter, r *http.Request) {
	h.app.Gate.OpenSignOut()
	h.writeShell(w)
}

func (h *Handlers) CancelSignOut(w http.ResponseWriter, r *http.Request) {
	h.app.Gate.CancelSignOut()
	h.writeShell(w)
}

func (h *Handlers) ConfirmSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Gate.SignOut(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeShell(w)
}

func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, h.app.Overview.View())
}

type displayNameBody struct {
	DisplayName string `json:"display_name"`
}

func (h *Handlers) GetDisplayName(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, displayNameBody{DisplayName: h.app.Prefs.DisplayName()})
}

func (h *Handlers) PutDisplayName(w http.ResponseWriter, r *http.Request) {
	var req displayNameBody
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	if err := h.app.Prefs.SetDisplayName(r.Context(), req.DisplayName); err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, displayNameBody{DisplayName: h.app.Prefs.DisplayName()})
}

type usersResponse struct {
	Status   query.Status  `json:"status"`
	Fetching bool          `json:"fetching"`
	Error    string        `json:"error,omitempty"`
	Users    []models.User `json:"users"`
}

func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	st := h.app.Panel.Users()
	resp := usersResponse{Status: st.Status, Fetching: st.Fetching, Users: h.app.Panel.List()}
	if st.Err != nil {
		resp.Error = mutation.UserMessage(st.Err, "Failed to fetch users")
	}
	if resp.Users == nil {
		resp.Users = []models.User{}
	}
	util.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Dialogs(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, h.app.Panel.Dialogs())
}

func (h *Handlers) action(w http.ResponseWriter, r *http.Request) (usermgmt.Action, bool) {
	a, err := usermgmt.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return a, true
}

type openRequest struct {
	ID string `json:"id"`
}

func (h *Handlers) OpenDialog(w http.ResponseWriter, r *http.Request) {
	a, ok := h.action(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	id := strings.TrimSpace(req.ID)
	if a != usermgmt.ActionAdd && id == "" {
		h.badRequest(w, r, "id is required")
		return
	}

	var err error
	switch a {
	case usermgmt.ActionAdd:
		h.app.Panel.OpenAdd()
	case usermgmt.ActionEdit:
		err = h.app.Panel.OpenEdit(id)
	case usermgmt.ActionDelete:
		err = h.app.Panel.OpenDelete(id)
	case usermgmt.ActionPassword:
		err = h.app.Panel.OpenPassword(id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, h.app.Panel.Dialogs())
}

func (h *Handlers) SetDraft(w http.ResponseWriter, r *http.Request) {
	a, ok := h.action(w, r)
	if !ok {
		return
	}
	var err error
	switch a {
	case usermgmt.ActionAdd, usermgmt.ActionEdit:
		var d models.UserDraft
		if err := util.DecodeJSON(w, r, &d); err != nil {
			h.badRequest(w, r, err.Error())
			return
		}
		if a == usermgmt.ActionAdd {
			err = h.app.Panel.SetAddDraft(d)
		} else {
			err = h.app.Panel.SetEditDraft(d)
		}
	case usermgmt.ActionPassword:
		var d models.PasswordDraft
		if err := util.DecodeJSON(w, r, &d); err != nil {
			h.badRequest(w, r, err.Error())
			return
		}
		err = h.app.Panel.SetPasswordDraft(d)
	default:
		h.badRequest(w, r, "delete has no draft")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, h.app.Panel.Dialogs())
}

type submitResponse struct {
	User    *models.User  `json:"user,omitempty"`
	Dialogs usermgmt.View `json:"dialogs"`
}

func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	a, ok := h.action(w, r)
	if !ok {
		return
	}
	var (
		u   models.User
		err error
	)
	switch a {
	case usermgmt.ActionAdd:
		u, err = h.app.Panel.SubmitAdd(r.Context())
	case usermgmt.ActionEdit:
		u, err = h.app.Panel.SubmitEdit(r.Context())
	case usermgmt.ActionDelete:
		err = h.app.Panel.ConfirmDelete(r.Context())
	case usermgmt.ActionPassword:
		err = h.app.Panel.SubmitPassword(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := submitResponse{Dialogs: h.app.Panel.Dialogs()}
	if u.ID != "" {
		resp.User = &u
	}
	util.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) CloseDialog(w http.ResponseWriter, r *http.Request) {
	a, ok := h.action(w, r)
	if !ok {
		return
	}
	if err := h.app.Panel.Close(a); err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, h.app.Panel.Dialogs())
}

func (h *Handlers) Notifications(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": h.app.Tray.Drain()})
}

func (h *Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, err := h.app.Activity.ListActivity(r.Context(), models.AuditQuery{
		Action: r.URL.Query().Get("action"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}
