package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vibecards-backend/internal/models"
	"vibecards-backend/internal/repository"
	"vibecards-backend/internal/study"
)

type StudyAction string

const (
	StudyFlip     StudyAction = "flip"
	StudyNext     StudyAction = "next"
	StudyPrevious StudyAction = "previous"
	StudyAnswer   StudyAction = "answer"
)

// SessionStore holds study sessions between requests.
type SessionStore interface {
	Create(ctx context.Context, s *models.StudySession) error
	Get(ctx context.Context, id uuid.UUID) (*models.StudySession, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.StudySession) error) (*models.StudySession, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type StudyService struct {
	decks    *DeckService
	sessions SessionStore
	logger   *zap.Logger
}

func NewStudyService(decks *DeckService, sessions SessionStore, logger *zap.Logger) *StudyService {
	return &StudyService{decks: decks, sessions: sessions, logger: logger.Named("study")}
}

func (s *StudyService) Start(ctx context.Context, ownerID, deckID uuid.UUID) (*models.StudySessionView, error) {
	deck, err := s.decks.Get(ctx, ownerID, deckID)
	if err != nil {
		return nil, err
	}

	sess, err := study.New(len(deck.Cards))
	if errors.Is(err, study.ErrEmptyDeck) {
		return nil, &UnprocessableError{Code: "EMPTY_DECK", Message: "This deck doesn't have any cards to study."}
	}
	if err != nil {
		return nil, err
	}

	rec := &models.StudySession{
		DeckID:    deck.ID,
		OwnerID:   ownerID,
		DeckTitle: deck.Title,
		Cards:     deck.Cards,
		State:     sess.State(),
	}
	if err := s.sessions.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create study session: %w", err)
	}

	s.logger.Debug("study session started", zap.String("session_id", rec.ID.String()), zap.String("deck_id", deck.ID.String()))
	return sessionView(rec), nil
}

func (s *StudyService) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.StudySessionView, error) {
	rec, err := s.load(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return sessionView(rec), nil
}

// Apply performs one study action. correct is only read for StudyAnswer.
func (s *StudyService) Apply(ctx context.Context, ownerID, id uuid.UUID, action StudyAction, correct bool) (*models.StudySessionView, error) {
	rec, err := s.sessions.Update(ctx, id, func(rec *models.StudySession) error {
		if rec.OwnerID != ownerID {
			return &ForbiddenError{Message: "Access denied"}
		}

		sess, err := study.Restore(rec.State)
		if err != nil {
			return fmt.Errorf("study session %s: %w", id, err)
		}

		switch action {
		case StudyFlip:
			err = sess.Flip()
		case StudyNext:
			err = sess.Next()
		case StudyPrevious:
			err = sess.Previous()
		case StudyAnswer:
			err = sess.Answer(correct)
		default:
			return newValidationError("action", "Unknown study action")
		}
		if errors.Is(err, study.ErrComplete) {
			return &ConflictError{Message: "Study session is complete"}
		}
		if err != nil {
			return err
		}

		rec.State = sess.State()
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Study session not found"}
	}
	if err != nil {
		return nil, err
	}
	return sessionView(rec), nil
}

func (s *StudyService) Discard(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.load(ctx, ownerID, id); err != nil {
		return err
	}
	err := s.sessions.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

func (s *StudyService) load(ctx context.Context, ownerID, id uuid.UUID) (*models.StudySession, error) {
	rec, err := s.sessions.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Study session not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("get study session %s: %w", id, err)
	}
	if rec.OwnerID != ownerID {
		return nil, &ForbiddenError{Message: "Access denied"}
	}
	return rec, nil
}

func sessionView(rec *models.StudySession) *models.StudySessionView {
	st := rec.State
	view := &models.StudySessionView{
		ID:        rec.ID,
		DeckID:    rec.DeckID,
		DeckTitle: rec.DeckTitle,
		Index:     st.Index,
		IsFlipped: st.Flipped,
		Complete:  st.Complete,
	}

	if sess, err := study.Restore(st); err == nil {
		view.Summary = sess.Summary()
	}

	if !st.Complete && st.Index < len(rec.Cards) {
		card := rec.Cards[st.Index]
		if st.Flipped {
			view.CurrentCard = &models.CardFace{Side: "back", Text: card.Back}
		} else {
			view.CurrentCard = &models.CardFace{Side: "front", Text: card.Front}
		}
	}
	return view
}
