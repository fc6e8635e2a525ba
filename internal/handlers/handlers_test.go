package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vibecards-backend/internal/middleware"
	"vibecards-backend/internal/models"
	"vibecards-backend/internal/repository"
	"vibecards-backend/internal/services"
)

// ─── Test doubles ───

type memDeckStore struct {
	mu    sync.Mutex
	decks map[uuid.UUID]models.Deck
	err   error
}

func newMemDeckStore() *memDeckStore {
	return &memDeckStore{decks: make(map[uuid.UUID]models.Deck)}
}

func (s *memDeckStore) Create(ctx context.Context, deck *models.Deck) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deck.ID = uuid.New()
	deck.CreatedAt = time.Now().Add(time.Duration(len(s.decks)) * time.Second)
	s.decks[deck.ID] = *deck
	return nil
}

func (s *memDeckStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (s *memDeckStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, q models.DeckListQuery) ([]models.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deck
	for _, d := range s.decks {
		if d.OwnerID != ownerID {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(d.Title+" "+d.Topic), strings.ToLower(q.Search)) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memDeckStore) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[id]
	if !ok || d.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(s.decks, id)
	return nil
}

func (s *memDeckStore) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var decks, cards int
	for _, d := range s.decks {
		if d.OwnerID == ownerID {
			decks++
			cards += len(d.Cards)
		}
	}
	return decks, cards, nil
}

func (s *memDeckStore) put(owner uuid.UUID, title string, cards int) models.Deck {
	d := models.Deck{OwnerID: owner, Title: title, Topic: title, Cards: makeCards(cards)}
	s.Create(context.Background(), &d)
	return d
}

type fakeGenerator struct {
	raw     string
	err     error
	prompts []string
}

func (g *fakeGenerator) GenerateDeck(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.raw, g.err
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.StudySession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[uuid.UUID]models.StudySession)}
}

func (s *memSessionStore) Create(ctx context.Context, sess *models.StudySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = uuid.New()
	sess.CreatedAt = time.Now()
	sess.UpdatedAt = sess.CreatedAt
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *memSessionStore) Get(ctx context.Context, id uuid.UUID) (*models.StudySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sess, nil
}

func (s *memSessionStore) Update(ctx context.Context, id uuid.UUID, fn func(*models.StudySession) error) (*models.StudySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := fn(&sess); err != nil {
		return nil, err
	}
	s.sessions[id] = sess
	return &sess, nil
}

func (s *memSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func makeCards(n int) []models.Card {
	cards := make([]models.Card, n)
	for i := range cards {
		cards[i] = models.Card{Front: fmt.Sprintf("Q%d", i+1), Back: fmt.Sprintf("A%d", i+1)}
	}
	return cards
}

func modelOutput(title string, cards int) string {
	b, _ := json.Marshal(models.GeneratedDeck{Title: title, Topic: title, Cards: makeCards(cards)})
	return string(b)
}

type testEnv struct {
	decks    *memDeckStore
	gen      *fakeGenerator
	sessions *memSessionStore
	deckH    *DeckHandler
	studyH   *StudyHandler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		decks:    newMemDeckStore(),
		gen:      &fakeGenerator{},
		sessions: newMemSessionStore(),
	}
	deckService := services.NewDeckService(env.decks, env.gen, zap.NewNop())
	env.deckH = NewDeckHandler(deckService)
	env.studyH = NewStudyHandler(services.NewStudyService(deckService, env.sessions, zap.NewNop()))
	return env
}

// request builds a request as the router would hand it to a handler: user id
// from the auth middleware and chi URL params.
func request(method, target string, body string, user uuid.UUID, params map[string]string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.UserIDKey, user)
	return r.WithContext(ctx)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(dst))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	decodeBody(t, rr, &resp)
	return resp.Error.Code
}

// ─── Generate ───

func TestGenerate_Photosynthesis(t *testing.T) {
	env := newTestEnv()
	env.gen.raw = "```json\n" + modelOutput("Photosynthesis Basics", 5) + "\n```"
	user := uuid.New()

	rr := httptest.NewRecorder()
	env.deckH.Generate(rr, request(http.MethodPost, "/api/generate-deck",
		`{"topic":"photosynthesis","difficulty":"beginner","cardCount":5}`, user, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.GenerateDeckResponse
	decodeBody(t, rr, &resp)

	stored, err := env.decks.GetByID(context.Background(), resp.DeckID)
	require.NoError(t, err)
	assert.Equal(t, user, stored.OwnerID)
	assert.Equal(t, "Photosynthesis Basics", stored.Title)
	assert.Len(t, stored.Cards, 5)

	require.Len(t, env.gen.prompts, 1)
	assert.Contains(t, env.gen.prompts[0], "photosynthesis")
	assert.Contains(t, env.gen.prompts[0], "beginner")
}

func TestGenerate_WrongCardCountIsRejected(t *testing.T) {
	for _, n := range []int{4, 6} {
		t.Run(fmt.Sprintf("%d cards", n), func(t *testing.T) {
			env := newTestEnv()
			env.gen.raw = modelOutput("Photosynthesis", n)

			rr := httptest.NewRecorder()
			env.deckH.Generate(rr, request(http.MethodPost, "/api/generate-deck",
				`{"topic":"photosynthesis","difficulty":"beginner","cardCount":5}`, uuid.New(), nil))

			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, "INVALID_MODEL_RESPONSE", errorCode(t, rr))
			assert.Empty(t, env.decks.decks)
		})
	}
}

func TestGenerate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing topic", `{"difficulty":"beginner"}`, "topic"},
		{"blank topic", `{"topic":"   "}`, "topic"},
		{"long topic", `{"topic":"` + strings.Repeat("x", 501) + `"}`, "topic"},
		{"bad difficulty", `{"topic":"cells","difficulty":"expert"}`, "difficulty"},
		{"bad card count", `{"topic":"cells","cardCount":7}`, "cardCount"},
		{"not json", `topic=cells`, "body"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			rr := httptest.NewRecorder()
			env.deckH.Generate(rr, request(http.MethodPost, "/api/generate-deck", tc.body, uuid.New(), nil))

			require.Equal(t, http.StatusBadRequest, rr.Code)
			var resp models.ErrorResponse
			decodeBody(t, rr, &resp)
			assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
			assert.Contains(t, resp.Error.Fields, tc.field)
			assert.Empty(t, env.gen.prompts)
		})
	}
}

func TestGenerate_ModelFailure(t *testing.T) {
	env := newTestEnv()
	env.gen.err = fmt.Errorf("%w: quota exhausted", services.ErrGenerationFailed)

	rr := httptest.NewRecorder()
	env.deckH.Generate(rr, request(http.MethodPost, "/api/generate-deck", `{"topic":"cells"}`, uuid.New(), nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "GENERATION_FAILED", errorCode(t, rr))
}

func TestGenerate_StoreFailure(t *testing.T) {
	env := newTestEnv()
	env.gen.raw = modelOutput("Cells", 10)
	env.decks.err = fmt.Errorf("connection refused")

	rr := httptest.NewRecorder()
	env.deckH.Generate(rr, request(http.MethodPost, "/api/generate-deck", `{"topic":"cells"}`, uuid.New(), nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "PERSISTENCE_FAILED", errorCode(t, rr))
}

// ─── Decks ───

func TestGetDeck_Ownership(t *testing.T) {
	env := newTestEnv()
	owner, other := uuid.New(), uuid.New()
	deck := env.decks.put(owner, "Cells", 5)

	tests := []struct {
		name   string
		user   uuid.UUID
		id     string
		status int
	}{
		{"owner", owner, deck.ID.String(), http.StatusOK},
		{"other user", other, deck.ID.String(), http.StatusForbidden},
		{"unknown id", owner, uuid.NewString(), http.StatusNotFound},
		{"malformed id", owner, "not-a-uuid", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			env.deckH.Get(rr, request(http.MethodGet, "/api/decks/"+tc.id, "", tc.user, map[string]string{"id": tc.id}))
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestDeleteDeck_OtherUserIsForbidden(t *testing.T) {
	env := newTestEnv()
	owner, other := uuid.New(), uuid.New()
	deck := env.decks.put(owner, "Cells", 5)

	rr := httptest.NewRecorder()
	env.deckH.Delete(rr, request(http.MethodDelete, "/api/decks/"+deck.ID.String(), "", other, map[string]string{"id": deck.ID.String()}))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	_, err := env.decks.GetByID(context.Background(), deck.ID)
	assert.NoError(t, err, "deck must survive a foreign delete")
}

func TestDeleteDeck_Owner(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	deck := env.decks.put(owner, "Cells", 5)

	rr := httptest.NewRecorder()
	env.deckH.Delete(rr, request(http.MethodDelete, "/api/decks/"+deck.ID.String(), "", owner, map[string]string{"id": deck.ID.String()}))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]bool
	decodeBody(t, rr, &resp)
	assert.True(t, resp["success"])

	rr = httptest.NewRecorder()
	env.deckH.Delete(rr, request(http.MethodDelete, "/api/decks/"+deck.ID.String(), "", owner, map[string]string{"id": deck.ID.String()}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListDecks(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.decks.put(owner, "Cell Biology", 5)
	env.decks.put(owner, "World War II", 10)
	env.decks.put(uuid.New(), "Cell Division", 5)

	rr := httptest.NewRecorder()
	env.deckH.List(rr, request(http.MethodGet, "/api/decks?q=cell", "", owner, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Decks []models.Deck `json:"decks"`
	}
	decodeBody(t, rr, &resp)
	require.Len(t, resp.Decks, 1)
	assert.Equal(t, "Cell Biology", resp.Decks[0].Title)

	rr = httptest.NewRecorder()
	env.deckH.List(rr, request(http.MethodGet, "/api/decks?filter=huge", "", owner, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListDecks_EmptyIsArray(t *testing.T) {
	env := newTestEnv()
	rr := httptest.NewRecorder()
	env.deckH.List(rr, request(http.MethodGet, "/api/decks", "", uuid.New(), nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"decks":[]}`, rr.Body.String())
}

func TestExportDeck(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	deck := env.decks.put(owner, "Cell  Biology Basics", 5)
	params := map[string]string{"id": deck.ID.String()}

	rr := httptest.NewRecorder()
	env.deckH.Export(rr, request(http.MethodGet, "/api/decks/x/export", "", owner, params))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=Cell-Biology-Basics.json`, rr.Header().Get("Content-Disposition"))

	var exported models.DeckExport
	decodeBody(t, rr, &exported)
	assert.Equal(t, deck.ID, exported.ID)
	assert.Len(t, exported.Cards, 5)

	rr = httptest.NewRecorder()
	env.deckH.Export(rr, request(http.MethodGet, "/api/decks/x/export?format=xlsx", "", owner, params))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "Cell-Biology-Basics.xlsx")
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")))

	rr = httptest.NewRecorder()
	env.deckH.Export(rr, request(http.MethodGet, "/api/decks/x/export?format=csv", "", owner, params))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	env.deckH.Export(rr, request(http.MethodGet, "/api/decks/x/export", "", uuid.New(), params))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	env.decks.put(owner, "A", 5)
	env.decks.put(owner, "B", 8)

	rr := httptest.NewRecorder()
	env.deckH.Stats(rr, request(http.MethodGet, "/api/dashboard/stats", "", owner, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"totalDecks":2,"totalCards":13,"avgCardsPerDeck":7}`, rr.Body.String())

	rr = httptest.NewRecorder()
	env.deckH.Stats(rr, request(http.MethodGet, "/api/dashboard/stats", "", uuid.New(), nil))
	assert.JSONEq(t, `{"totalDecks":0,"totalCards":0,"avgCardsPerDeck":0}`, rr.Body.String())
}

// ─── Study ───

type sessionResp struct {
	Session models.StudySessionView `json:"session"`
}

func TestStudyFlow(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	deck := env.decks.put(owner, "Cells", 3)

	rr := httptest.NewRecorder()
	env.studyH.Start(rr, request(http.MethodPost, "/api/decks/x/study", "", owner, map[string]string{"id": deck.ID.String()}))
	require.Equal(t, http.StatusCreated, rr.Code)
	var started sessionResp
	decodeBody(t, rr, &started)
	assert.Equal(t, &models.CardFace{Side: "front", Text: "Q1"}, started.Session.CurrentCard)

	sid := map[string]string{"sid": started.Session.ID.String()}
	do := func(handler http.HandlerFunc, body string) (int, models.StudySessionView) {
		rr := httptest.NewRecorder()
		handler(rr, request(http.MethodPost, "/api/study/x", body, owner, sid))
		var resp sessionResp
		if rr.Code == http.StatusOK {
			decodeBody(t, rr, &resp)
		}
		return rr.Code, resp.Session
	}

	code, view := do(env.studyH.Flip, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, &models.CardFace{Side: "back", Text: "A1"}, view.CurrentCard)

	code, _ = do(env.studyH.Answer, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	_, view = do(env.studyH.Answer, `{"correct":true}`)
	assert.Equal(t, 1, view.Index)
	assert.False(t, view.IsFlipped)

	_, view = do(env.studyH.Previous, "")
	assert.Equal(t, 0, view.Index)
	_, view = do(env.studyH.Next, "")
	assert.Equal(t, 1, view.Index)

	do(env.studyH.Answer, `{"correct":false}`)
	_, view = do(env.studyH.Answer, `{"correct":true}`)
	assert.True(t, view.Complete)
	assert.Nil(t, view.CurrentCard)
	assert.Equal(t, 2, view.Summary.Correct)
	assert.Equal(t, 1, view.Summary.Incorrect)
	assert.Equal(t, 67, view.Summary.Accuracy)
	assert.Equal(t, 100, view.Summary.Progress)

	code, _ = do(env.studyH.Flip, "")
	assert.Equal(t, http.StatusConflict, code)

	rr = httptest.NewRecorder()
	env.studyH.Get(rr, request(http.MethodGet, "/api/study/x", "", uuid.New(), sid))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	env.studyH.Discard(rr, request(http.MethodDelete, "/api/study/x", "", owner, sid))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	env.studyH.Get(rr, request(http.MethodGet, "/api/study/x", "", owner, sid))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStudyStart_EmptyDeck(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	deck := env.decks.put(owner, "Empty", 0)

	rr := httptest.NewRecorder()
	env.studyH.Start(rr, request(http.MethodPost, "/api/decks/x/study", "", owner, map[string]string{"id": deck.ID.String()}))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "EMPTY_DECK", errorCode(t, rr))
}

// ─── Helpers ───

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&services.ValidationError{Fields: map[string]string{"a": "b"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{fmt.Errorf("wrapped: %w", &services.NotFoundError{Message: "x"}), http.StatusNotFound, "NOT_FOUND"},
		{&services.ConflictError{Message: "x"}, http.StatusConflict, "CONFLICT"},
		{&services.UnauthorizedError{Message: "x"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{&services.ForbiddenError{Message: "x"}, http.StatusForbidden, "FORBIDDEN"},
		{&services.RateLimitError{Message: "x"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{&services.UnprocessableError{Code: "EMPTY_DECK", Message: "x"}, http.StatusUnprocessableEntity, "EMPTY_DECK"},
		{&services.SchemaError{Path: "cards", Reason: "expected 5 cards, got 4"}, http.StatusInternalServerError, "INVALID_MODEL_RESPONSE"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rr := httptest.NewRecorder()
			handleServiceError(rr, req, tc.err)
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, errorCode(t, rr))
		})
	}
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingFunc(func(ctx context.Context) error { return fmt.Errorf("dial tcp: refused") }),
	})

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"degraded","database":"up","redis":"down"}`, rr.Body.String())
}
