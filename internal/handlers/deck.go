package handlers

import (
	"mime"
	"net/http"
	"strconv"

	"vibecards-backend/internal/middleware"
	"vibecards-backend/internal/models"
	"vibecards-backend/internal/services"
)

type DeckHandler struct {
	deckService *services.DeckService
}

func NewDeckHandler(deckService *services.DeckService) *DeckHandler {
	return &DeckHandler{deckService: deckService}
}

// Generate handles POST /api/generate-deck. The raw body goes to the service,
// which validates it field by field.
func (h *DeckHandler) Generate(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	deck, err := h.deckService.Generate(r.Context(), middleware.GetUserID(r.Context()), body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.GenerateDeckResponse{DeckID: deck.ID})
}

func (h *DeckHandler) List(w http.ResponseWriter, r *http.Request) {
	q := models.DeckListQuery{
		Search: r.URL.Query().Get("q"),
		Filter: r.URL.Query().Get("filter"),
	}

	decks, err := h.deckService.List(r.Context(), middleware.GetUserID(r.Context()), q)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if decks == nil {
		decks = []models.Deck{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"decks": decks})
}

func (h *DeckHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "deck")
	if !ok {
		return
	}

	deck, err := h.deckService.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"deck": deck})
}

func (h *DeckHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "deck")
	if !ok {
		return
	}

	if err := h.deckService.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *DeckHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "deck")
	if !ok {
		return
	}

	file, err := h.deckService.Export(r.Context(), middleware.GetUserID(r.Context()), id, r.URL.Query().Get("format"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Data)
}

func (h *DeckHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deckService.Stats(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
