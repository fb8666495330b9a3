package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cadence-diary-server/internal/domain"
	"cadence-diary-server/internal/middleware"
	"cadence-diary-server/internal/service"
	"cadence-diary-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type NoteHandler struct {
	noteService *service.NoteService
	validate    *validator.Validate
}

func NewNoteHandler(noteService *service.NoteService) *NoteHandler {
	return &NoteHandler{
		noteService: noteService,
		validate:    validator.New(),
	}
}

func (h *NoteHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req domain.AuthenticateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	sess := middleware.GetSession(r)
	if sess == nil {
		response.Unauthorized(w, "No session")
		return
	}

	resp, err := h.noteService.Authenticate(r.Context(), sess, &req)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientTrust) {
			response.Unauthorized(w, "Identify first")
			return
		}
		response.InternalError(w, "Failed to authenticate note")
		return
	}

	response.Success(w, resp)
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if sess == nil {
		response.Unauthorized(w, "No session")
		return
	}

	var beforeIndex int64
	if raw := r.URL.Query().Get("beforeIndex"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.BadRequest(w, "Invalid beforeIndex")
			return
		}
		beforeIndex = parsed
	}

	resp, err := h.noteService.GetNotes(sess, beforeIndex)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientTrust) {
			response.Unauthorized(w, "Not fully authenticated")
			return
		}
		response.InternalError(w, "Failed to retrieve notes")
		return
	}

	response.Success(w, resp)
}

func (h *NoteHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req domain.SaveNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	sess := middleware.GetSession(r)
	if sess == nil {
		response.Unauthorized(w, "No session")
		return
	}

	resp, err := h.noteService.SaveNotes(sess, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientTrust):
			response.Unauthorized(w, "Not fully authenticated")
		case errors.Is(err, service.ErrNotOwner):
			response.Forbidden(w, "Note does not belong to user")
		case errors.Is(err, domain.ErrNoteNotFound):
			response.BadRequest(w, "Unknown note")
		default:
			response.InternalError(w, "Failed to save notes")
		}
		return
	}

	response.Success(w, resp)
}
