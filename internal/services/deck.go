package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vibecards-backend/internal/models"
	"vibecards-backend/internal/repository"
)

// DeckStore persists decks. Implementations: repository.DeckRepo (pgx) and
// repository.GormDeckRepo.
type DeckStore interface {
	Create(ctx context.Context, deck *models.Deck) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deck, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, q models.DeckListQuery) ([]models.Deck, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (decks, cards int, err error)
}

// DeckGenerator turns a prompt into raw model output.
type DeckGenerator interface {
	GenerateDeck(ctx context.Context, prompt string) (string, error)
}

var deckFilters = []string{models.DeckFilterAll, models.DeckFilterRecent, models.DeckFilterLarge}

type DeckService struct {
	store     DeckStore
	generator DeckGenerator
	logger    *zap.Logger
}

func NewDeckService(store DeckStore, generator DeckGenerator, logger *zap.Logger) *DeckService {
	return &DeckService{store: store, generator: generator, logger: logger.Named("decks")}
}

// Generate runs the whole pipeline for one request body: validate, prompt,
// generate, validate the output, then store the deck for ownerID. Nothing is
// stored unless every earlier step succeeded.
func (s *DeckService) Generate(ctx context.Context, ownerID uuid.UUID, body []byte) (*models.Deck, error) {
	req, err := ValidateDeckRequest(body)
	if err != nil {
		return nil, err
	}

	raw, err := s.generator.GenerateDeck(ctx, BuildDeckPrompt(req))
	if err != nil {
		if !errors.Is(err, ErrGenerationFailed) {
			err = fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		return nil, err
	}

	generated, err := ParseDeckResponse(raw, req.CardCount)
	if err != nil {
		s.logger.Warn("rejected model output",
			zap.String("owner_id", ownerID.String()),
			zap.Int("card_count", req.CardCount),
			zap.Int("response_bytes", len(raw)),
			zap.Error(err),
		)
		return nil, err
	}

	deck := &models.Deck{
		OwnerID: ownerID,
		Title:   generated.Title,
		Topic:   generated.Topic,
		Cards:   generated.Cards,
	}
	if err := s.store.Create(ctx, deck); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	s.logger.Info("deck generated",
		zap.String("deck_id", deck.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.String("difficulty", req.Difficulty),
		zap.Int("cards", len(deck.Cards)),
	)
	return deck, nil
}

// Get returns the deck when ownerID owns it.
func (s *DeckService) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.Deck, error) {
	deck, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Deck not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("get deck %s: %w", id, err)
	}
	if deck.OwnerID != ownerID {
		return nil, &ForbiddenError{Message: "Access denied"}
	}
	return deck, nil
}

func (s *DeckService) List(ctx context.Context, ownerID uuid.UUID, q models.DeckListQuery) ([]models.Deck, error) {
	q.Search = strings.TrimSpace(q.Search)
	if q.Filter == "" {
		q.Filter = models.DeckFilterAll
	}
	if !slices.Contains(deckFilters, q.Filter) {
		return nil, newValidationError("filter", "filter must be all, recent, or large")
	}

	decks, err := s.store.ListByOwner(ctx, ownerID, q)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	return decks, nil
}

// Delete removes the deck. Another owner's deck is reported as forbidden and
// left untouched.
func (s *DeckService) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}

	err := s.store.Delete(ctx, id, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Message: "Deck not found"}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	s.logger.Info("deck deleted", zap.String("deck_id", id.String()), zap.String("owner_id", ownerID.String()))
	return nil
}

func (s *DeckService) Stats(ctx context.Context, ownerID uuid.UUID) (*models.DeckStats, error) {
	decks, cards, err := s.store.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("deck stats: %w", err)
	}

	stats := &models.DeckStats{TotalDecks: decks, TotalCards: cards}
	if decks > 0 {
		// cards/decks rounded half up
		stats.AvgCardsPerDeck = (cards*2 + decks) / (decks * 2)
	}
	return stats, nil
}
