package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"vibecards-backend/internal/models"
)

var validDifficulties = []string{
	models.DifficultyBeginner,
	models.DifficultyIntermediate,
	models.DifficultyAdvanced,
}

// ValidateDeckRequest decodes and checks a generate-deck request body,
// filling in the default difficulty and card count.
func ValidateDeckRequest(body []byte) (models.DeckRequest, error) {
	var raw struct {
		Topic      json.RawMessage `json:"topic"`
		Difficulty json.RawMessage `json:"difficulty"`
		CardCount  json.RawMessage `json:"cardCount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.DeckRequest{}, newValidationError("body", "Invalid request body")
	}

	req := models.DeckRequest{
		Difficulty: models.DefaultDifficulty,
		CardCount:  models.DefaultCardCount,
	}
	fields := make(map[string]string)

	var topic string
	if isAbsent(raw.Topic) || json.Unmarshal(raw.Topic, &topic) != nil || strings.TrimSpace(topic) == "" {
		fields["topic"] = "Topic is required"
	} else if topic = strings.TrimSpace(topic); utf8.RuneCountInString(topic) > models.MaxTopicLength {
		fields["topic"] = fmt.Sprintf("Topic must be %d characters or less", models.MaxTopicLength)
	} else {
		req.Topic = topic
	}

	if !isAbsent(raw.Difficulty) {
		var d string
		if json.Unmarshal(raw.Difficulty, &d) != nil || !slices.Contains(validDifficulties, d) {
			fields["difficulty"] = "Invalid difficulty level"
		} else {
			req.Difficulty = d
		}
	}

	if !isAbsent(raw.CardCount) {
		n, ok := parseCardCount(raw.CardCount)
		if !ok || !slices.Contains(models.AllowedCardCounts, n) {
			fields["cardCount"] = "Invalid card count. Must be 5, 8, 10, 12, 15, or 20"
		} else {
			req.CardCount = n
		}
	}

	if len(fields) > 0 {
		return models.DeckRequest{}, &ValidationError{Fields: fields}
	}
	return req, nil
}

func isAbsent(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// parseCardCount accepts an integral JSON number or a numeric string.
func parseCardCount(v json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, false
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// BuildDeckPrompt renders the instruction sent to the model for a validated request.
func BuildDeckPrompt(req models.DeckRequest) string {
	var b strings.Builder

	b.WriteString("You are a helpful assistant that creates educational flashcards.\n")
	b.WriteString(fmt.Sprintf("Given a topic or notes, generate exactly %d flashcards with clear front and back content.\n", req.CardCount))
	b.WriteString("Each card should cover an important concept, fact, or question related to the topic.\n\n")

	b.WriteString(fmt.Sprintf("Difficulty Level: %s\n", req.Difficulty))
	b.WriteString("- Beginner: Use simple language, basic concepts, and clear explanations. Suitable for newcomers.\n")
	b.WriteString("- Intermediate: Use moderate complexity, detailed explanations, and assume some prior knowledge.\n")
	b.WriteString("- Advanced: Use complex terminology, in-depth analysis, and assume strong background knowledge.\n\n")

	b.WriteString("Adjust the complexity and depth of each flashcard according to the difficulty level.\n\n")

	b.WriteString(fmt.Sprintf("Create %d %s-level flashcards for the following topic:\n", req.CardCount, req.Difficulty))
	b.WriteString(req.Topic)

	return b.String()
}

// ParseDeckResponse validates raw model output against the deck shape and
// the exact card count that was requested.
func ParseDeckResponse(raw string, cardCount int) (*models.GeneratedDeck, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &SchemaError{Path: "$", Reason: "expected an object"}
	}

	deck := &models.GeneratedDeck{}
	var err error
	if deck.Title, err = stringField(obj, "title", "title"); err != nil {
		return nil, err
	}
	if deck.Topic, err = stringField(obj, "topic", "topic"); err != nil {
		return nil, err
	}

	rawCards, present := obj["cards"]
	if !present || rawCards == nil {
		return nil, &SchemaError{Path: "cards", Reason: "required"}
	}
	list, ok := rawCards.([]any)
	if !ok {
		return nil, &SchemaError{Path: "cards", Reason: "expected an array"}
	}
	if len(list) != cardCount {
		return nil, &SchemaError{Path: "cards", Reason: fmt.Sprintf("expected %d cards, got %d", cardCount, len(list))}
	}

	deck.Cards = make([]models.Card, 0, len(list))
	for i, item := range list {
		path := fmt.Sprintf("cards[%d]", i)
		card, ok := item.(map[string]any)
		if !ok {
			return nil, &SchemaError{Path: path, Reason: "expected an object"}
		}
		front, err := stringField(card, "front", path+".front")
		if err != nil {
			return nil, err
		}
		back, err := stringField(card, "back", path+".back")
		if err != nil {
			return nil, err
		}
		deck.Cards = append(deck.Cards, models.Card{Front: front, Back: back})
	}

	return deck, nil
}

func stringField(obj map[string]any, key, path string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", &SchemaError{Path: path, Reason: "required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &SchemaError{Path: path, Reason: "expected a string"}
	}
	return s, nil
}
