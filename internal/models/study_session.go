package models

import (
	"time"

	"github.com/google/uuid"

	"vibecards-backend/internal/study"
)

// StudySession is an in-progress study run over one deck. It carries a copy
// of the deck's cards, lives only in the session cache, and is never written
// to the deck store.
type StudySession struct {
	ID        uuid.UUID   `json:"id"`
	DeckID    uuid.UUID   `json:"deck_id"`
	OwnerID   uuid.UUID   `json:"owner_id"`
	DeckTitle string      `json:"deck_title"`
	Cards     []Card      `json:"cards"`
	State     study.State `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StudySessionView is what the API returns for a session.
type StudySessionView struct {
	ID          uuid.UUID     `json:"id"`
	DeckID      uuid.UUID     `json:"deck_id"`
	DeckTitle   string        `json:"deck_title"`
	Index       int           `json:"index"`
	IsFlipped   bool          `json:"is_flipped"`
	Complete    bool          `json:"complete"`
	CurrentCard *CardFace     `json:"current_card,omitempty"`
	Summary     study.Summary `json:"summary"`
}

// CardFace is the visible side of the current card.
type CardFace struct {
	Side string `json:"side"`
	Text string `json:"text"`
}

type AnswerRequest struct {
	Correct *bool `json:"correct"`
}
