// Package api exposes the claim operations over HTTP for the web inbox.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xaenox/replydesk/internal/collision"
	"github.com/xaenox/replydesk/internal/drafter"
	"github.com/xaenox/replydesk/internal/inbox"
	"github.com/xaenox/replydesk/internal/models"
	"github.com/xaenox/replydesk/internal/registry"
	"go.uber.org/zap"
)

// UserHeader carries the acting staff member's id. Authentication happens in
// front of this service.
const UserHeader = "X-User-ID"

type Handler struct {
	claims  *collision.Service
	inbox   *inbox.Service
	drafter drafter.Drafter
	log     *zap.Logger
}

func NewHandler(claims *collision.Service, inbox *inbox.Service, d drafter.Drafter, logger *zap.Logger) *Handler {
	if d == nil {
		d = drafter.NewTemplateDrafter()
	}
	return &Handler{claims: claims, inbox: inbox, drafter: d, log: logger}
}

type assignResponse struct {
	Assigned         bool              `json:"assigned"`
	Assignment       models.Assignment `json:"assignment"`
	PreviousAssignee string            `json:"previous_assignee,omitempty"`
}

type replyRequest struct {
	ReplyTo string `json:"reply_to,omitempty"`
	Body    string `json:"body"`
}

type draftRequest struct {
	GuestName    string `json:"guest_name,omitempty"`
	GuestMessage string `json:"guest_message"`
}

type errorResponse struct {
	Error      string `json:"error"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// Assign handles POST /threads/{threadID}/messages/{messageID}/assign.
// A claim held by someone else answers 409 with the holder.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	threadID, messageID := chi.URLParam(r, "threadID"), chi.URLParam(r, "messageID")

	res, err := h.claims.AssignToMe(r.Context(), threadID, messageID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Assigned {
		status = http.StatusConflict
	}
	writeJSON(w, status, assignResponse{Assigned: res.Assigned, Assignment: res.Current})
}

// TakeOver handles POST /threads/{threadID}/messages/{messageID}/takeover.
func (h *Handler) TakeOver(w http.ResponseWriter, r *http.Request) {
	threadID, messageID := chi.URLParam(r, "threadID"), chi.URLParam(r, "messageID")

	res, err := h.claims.TakeOver(r.Context(), threadID, messageID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := assignResponse{Assigned: true, Assignment: res.Current}
	if res.Previous != nil {
		resp.PreviousAssignee = res.Previous.AssignedTo
	}
	writeJSON(w, http.StatusOK, resp)
}

// Release handles DELETE /threads/{threadID}/messages/{messageID}/assign.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	threadID, messageID := chi.URLParam(r, "threadID"), chi.URLParam(r, "messageID")

	if err := h.claims.Release(r.Context(), threadID, messageID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /threads/{threadID}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.claims.Status(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SendReply handles POST /threads/{threadID}/replies.
func (h *Handler) SendReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	msg, err := h.inbox.SendReply(r.Context(), inbox.ReplyInput{
		ThreadID: chi.URLParam(r, "threadID"),
		ReplyTo:  req.ReplyTo,
		Body:     req.Body,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListReplies handles GET /threads/{threadID}/replies?limit=N.
func (h *Handler) ListReplies(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	msgs, err := h.inbox.Messages(r.Context(), chi.URLParam(r, "threadID"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Draft handles POST /threads/{threadID}/draft.
func (h *Handler) Draft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GuestMessage == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "guest_message is required"})
		return
	}

	staff, _ := collision.UserFromContext(r.Context())
	reply, err := h.drafter.Draft(r.Context(), drafter.DraftRequest{
		ThreadID:     chi.URLParam(r, "threadID"),
		GuestName:    req.GuestName,
		GuestMessage: req.GuestMessage,
		StaffName:    staff,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"draft": reply})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var blocked *inbox.BlockedError
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), AssignedTo: blocked.Holder})
	case errors.Is(err, collision.ErrNoCurrentUser):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + UserHeader + " header"})
	case errors.Is(err, registry.ErrInvalidKey),
		errors.Is(err, registry.ErrInvalidUser),
		errors.Is(err, inbox.ErrEmptyReply):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
