package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quotegate/internal/broker"
	"quotegate/internal/docstore"
	"quotegate/internal/middleware"
	"quotegate/internal/models"
	"quotegate/internal/rbac"
	"quotegate/internal/users"
	"quotegate/internal/util"
)

// writeDataError maps broker and store failures onto the JSON envelope.
func writeDataError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	var perr *broker.PermissionError
	switch {
	case errors.As(err, &perr):
		util.WriteError(w, http.StatusForbidden, "permission_denied", perr.Error(), rid)
	case errors.Is(err, broker.ErrPermissionDenied):
		util.WriteError(w, http.StatusForbidden, "permission_denied", err.Error(), rid)
	case errors.Is(err, docstore.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "record not found", rid)
	case errors.Is(err, docstore.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", "record already exists", rid)
	case errors.Is(err, users.ErrInvalidRole):
		util.WriteError(w, http.StatusBadRequest, "invalid_role", err.Error(), rid)
	case errors.Is(err, users.ErrInvalidPatch):
		util.WriteError(w, http.StatusBadRequest, "invalid_update", err.Error(), rid)
	default:
		log.Printf("data_request_failed path=%s request_id=%s err=%v", r.URL.Path, rid, err)
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "request failed", rid)
	}
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (models.Document, bool) {
	var doc models.Document
	if err := util.DecodeJSON(r, &doc); err != nil || doc == nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return nil, false
	}
	return doc, true
}

func (h *Handlers) Permissions(w http.ResponseWriter, r *http.Request) {
	t := h.startedTab(r)
	defer t.Close()
	out := map[rbac.Action]bool{}
	for _, a := range rbac.Actions(models.RoleAdmin) {
		out[a] = t.Broker.HasPermission(r.Context(), a)
	}
	util.WriteJSON(w, 200, map[string]any{"permissions": out})
}

func (h *Handlers) ListQuotes(w http.ResponseWriter, r *http.Request) {
	t := h.startedTab(r)
	defer t.Close()
	items, err := t.Broker.LoadQuotes(r.Context())
	if err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items})
}

func (h *Handlers) CreateQuote(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	id, err := t.Broker.SaveQuote(r.Context(), doc)
	if err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, map[string]string{"id": id})
}

func (h *Handlers) UpdateQuote(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	if err := t.Broker.UpdateQuote(r.Context(), chi.URLParam(r, "id"), doc); err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handlers) DeleteQuote(w http.ResponseWriter, r *http.Request) {
	t := h.startedTab(r)
	defer t.Close()
	if err := t.Broker.DeleteQuote(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	t := h.startedTab(r)
	defer t.Close()
	items, err := t.Broker.LoadProfiles(r.Context())
	if err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items})
}

func (h *Handlers) ReplaceProfiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []models.Document `json:"items"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	if err := t.Broker.SaveProfiles(r.Context(), req.Items); err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"status": "saved", "count": len(req.Items)})
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	if err := t.Broker.UpdateProfile(r.Context(), chi.URLParam(r, "id"), doc); err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handlers) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	pendingOnly, _ := strconv.ParseBool(r.URL.Query().Get("pending"))
	t := h.startedTab(r)
	defer t.Close()
	items, err := t.Broker.ListUsers(r.Context(), pendingOnly)
	if err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items})
}

func (h *Handlers) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID         string      `json:"uid"`
		Email       string      `json:"email"`
		DisplayName string      `json:"displayName"`
		Role        models.Role `json:"role"`
	}
	if err := util.DecodeJSON(r, &req); err != nil || req.UID == "" {
		util.WriteError(w, 400, "bad_request", "uid is required", middleware.RequestID(r.Context()))
		return
	}
	if req.Role == "" {
		req.Role = models.RolePending
	}
	t := h.startedTab(r)
	defer t.Close()
	rec, err := t.Broker.CreateUser(r.Context(), models.Identity{ID: req.UID, Email: req.Email, DisplayName: req.DisplayName}, req.Role)
	if err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, rec)
}

func (h *Handlers) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	t := h.startedTab(r)
	defer t.Close()
	rec, err := t.Broker.GetUserProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, rec)
}

func (h *Handlers) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	if err := t.Broker.UpdateUser(r.Context(), chi.URLParam(r, "id"), doc); err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handlers) AdminApproveUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role models.Role `json:"role"`
	}
	if r.ContentLength != 0 {
		if err := util.DecodeJSON(r, &req); err != nil {
			util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
			return
		}
	}
	t := h.startedTab(r)
	defer t.Close()
	if err := t.Broker.ApproveUser(r.Context(), chi.URLParam(r, "id"), req.Role); err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "approved"})
}

func (h *Handlers) AdminDeactivateUser(w http.ResponseWriter, r *http.Request) {
	t := h.startedTab(r)
	defer t.Close()
	if err := t.Broker.DeactivateUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deactivated"})
}

func (h *Handlers) AdminAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 500)
	}
	t := h.startedTab(r)
	defer t.Close()
	items, err := t.Broker.AuditLog(r.Context(), limit)
	if err != nil {
		writeDataError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items})
}
