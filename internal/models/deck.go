package models

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty levels accepted by deck generation.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

const (
	DefaultDifficulty = DifficultyIntermediate
	DefaultCardCount  = 10
	MaxTopicLength    = 500
)

// AllowedCardCounts lists the deck sizes a user may request.
var AllowedCardCounts = []int{5, 8, 10, 12, 15, 20}

type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type Deck struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Title     string    `json:"title"`
	Topic     string    `json:"topic"`
	Cards     []Card    `json:"cards"`
	CreatedAt time.Time `json:"created_at"`
}

// CardCount is the number of cards in the deck.
func (d *Deck) CardCount() int { return len(d.Cards) }

// DeckRequest is a validated generation request.
type DeckRequest struct {
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
	CardCount  int    `json:"card_count"`
}

// GeneratedDeck is the model output after it passed validation.
type GeneratedDeck struct {
	Title string `json:"title"`
	Topic string `json:"topic"`
	Cards []Card `json:"cards"`
}

type GenerateDeckResponse struct {
	DeckID uuid.UUID `json:"deckId"`
}

// Deck list filters.
const (
	DeckFilterAll    = "all"
	DeckFilterRecent = "recent"
	DeckFilterLarge  = "large"
)

// LargeDeckThreshold is the minimum card count for the "large" filter.
const LargeDeckThreshold = 10

type DeckListQuery struct {
	Search string
	Filter string
}

type DeckStats struct {
	TotalDecks      int `json:"totalDecks"`
	TotalCards      int `json:"totalCards"`
	AvgCardsPerDeck int `json:"avgCardsPerDeck"`
}

// DeckExport is the document written by the JSON export.
type DeckExport struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Topic string    `json:"topic"`
	Cards []Card    `json:"cards"`
}
