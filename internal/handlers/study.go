package handlers

import (
	"net/http"

	"vibecards-backend/internal/middleware"
	"vibecards-backend/internal/models"
	"vibecards-backend/internal/services"
)

type StudyHandler struct {
	studyService *services.StudyService
}

func NewStudyHandler(studyService *services.StudyService) *StudyHandler {
	return &StudyHandler{studyService: studyService}
}

// Start handles POST /api/decks/{id}/study.
func (h *StudyHandler) Start(w http.ResponseWriter, r *http.Request) {
	deckID, ok := urlUUID(w, r, "id", "deck")
	if !ok {
		return
	}

	view, err := h.studyService.Start(r.Context(), middleware.GetUserID(r.Context()), deckID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"session": view})
}

func (h *StudyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "sid", "session")
	if !ok {
		return
	}

	view, err := h.studyService.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": view})
}

func (h *StudyHandler) Flip(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, services.StudyFlip, false)
}

func (h *StudyHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, services.StudyNext, false)
}

func (h *StudyHandler) Previous(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, services.StudyPrevious, false)
}

func (h *StudyHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req models.AnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Correct == nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"correct": "correct is required"}, r))
		return
	}

	h.apply(w, r, services.StudyAnswer, *req.Correct)
}

func (h *StudyHandler) apply(w http.ResponseWriter, r *http.Request, action services.StudyAction, correct bool) {
	id, ok := urlUUID(w, r, "sid", "session")
	if !ok {
		return
	}

	view, err := h.studyService.Apply(r.Context(), middleware.GetUserID(r.Context()), id, action, correct)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": view})
}

func (h *StudyHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "sid", "session")
	if !ok {
		return
	}

	if err := h.studyService.Discard(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
