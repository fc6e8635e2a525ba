// Package study implements the flashcard study session: a cursor over a
// deck's cards with a flip state and a per-card correct/incorrect record.
package study

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrEmptyDeck is returned when a session is requested for a deck with no cards.
	ErrEmptyDeck = errors.New("deck has no cards to study")
	// ErrComplete is returned for operations on a finished session.
	ErrComplete = errors.New("study session is complete")
	// ErrInvalidState is returned when restoring a snapshot that breaks the session invariants.
	ErrInvalidState = errors.New("invalid study session state")
)

type indexSet map[int]struct{}

func (s indexSet) add(i int)    { s[i] = struct{}{} }
func (s indexSet) remove(i int) { delete(s, i) }

func (s indexSet) has(i int) bool {
	_, ok := s[i]
	return ok
}

func (s indexSet) sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Session is not safe for concurrent use.
type Session struct {
	total     int
	index     int
	flipped   bool
	complete  bool
	studied   indexSet
	correct   indexSet
	incorrect indexSet
}

// New starts a session over total cards at the first card, front side up.
func New(total int) (*Session, error) {
	if total <= 0 {
		return nil, ErrEmptyDeck
	}
	return &Session{
		total:     total,
		studied:   indexSet{},
		correct:   indexSet{},
		incorrect: indexSet{},
	}, nil
}

func (s *Session) Total() int { return s.total }

func (s *Session) Index() int { return s.index }

func (s *Session) Flipped() bool { return s.flipped }

func (s *Session) IsComplete() bool { return s.complete }

// Flip toggles which face of the current card is shown.
func (s *Session) Flip() error {
	if s.complete {
		return ErrComplete
	}
	s.flipped = !s.flipped
	return nil
}

// Next advances to the following card and shows its front. At the last card
// it does nothing.
func (s *Session) Next() error {
	if s.complete {
		return ErrComplete
	}
	if s.index < s.total-1 {
		s.index++
		s.flipped = false
	}
	return nil
}

// Previous moves back one card and shows its front. At the first card it
// does nothing.
func (s *Session) Previous() error {
	if s.complete {
		return ErrComplete
	}
	if s.index > 0 {
		s.index--
		s.flipped = false
	}
	return nil
}

// Answer records whether the current card was known. Answering the same card
// again replaces the earlier verdict. Answering the last card completes the
// session; any other card advances to the next one.
func (s *Session) Answer(correct bool) error {
	if s.complete {
		return ErrComplete
	}
	s.studied.add(s.index)
	if correct {
		s.correct.add(s.index)
		s.incorrect.remove(s.index)
	} else {
		s.incorrect.add(s.index)
		s.correct.remove(s.index)
	}

	if s.index == s.total-1 {
		s.complete = true
		s.flipped = false
		return nil
	}
	return s.Next()
}

// Summary reports progress and accuracy as whole percentages of the deck size.
type Summary struct {
	Total     int `json:"total"`
	Studied   int `json:"studied"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
	Accuracy  int `json:"accuracy"`
	Progress  int `json:"progress"`
}

func (s *Session) Summary() Summary {
	return Summary{
		Total:     s.total,
		Studied:   len(s.studied),
		Correct:   len(s.correct),
		Incorrect: len(s.incorrect),
		Accuracy:  Percent(len(s.correct), s.total),
		Progress:  Percent(len(s.studied), s.total),
	}
}

// Percent returns part/total*100 rounded half up, or 0 when total is 0.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(float64(part)/float64(total)*100 + 0.5))
}

// State is the serialisable form of a Session.
type State struct {
	Total     int   `json:"total"`
	Index     int   `json:"index"`
	Flipped   bool  `json:"flipped"`
	Complete  bool  `json:"complete"`
	Studied   []int `json:"studied"`
	Correct   []int `json:"correct"`
	Incorrect []int `json:"incorrect"`
}

func (s *Session) State() State {
	return State{
		Total:     s.total,
		Index:     s.index,
		Flipped:   s.flipped,
		Complete:  s.complete,
		Studied:   s.studied.sorted(),
		Correct:   s.correct.sorted(),
		Incorrect: s.incorrect.sorted(),
	}
}

// Restore rebuilds a Session from a snapshot, rejecting snapshots whose
// indexes fall outside the deck or whose answer sets overlap.
func Restore(st State) (*Session, error) {
	if st.Total <= 0 {
		return nil, ErrEmptyDeck
	}
	if st.Index < 0 || st.Index >= st.Total {
		return nil, ErrInvalidState
	}

	s := &Session{
		total:     st.Total,
		index:     st.Index,
		flipped:   st.Flipped,
		complete:  st.Complete,
		studied:   indexSet{},
		correct:   indexSet{},
		incorrect: indexSet{},
	}
	for _, group := range []struct {
		src []int
		dst indexSet
	}{{st.Studied, s.studied}, {st.Correct, s.correct}, {st.Incorrect, s.incorrect}} {
		for _, i := range group.src {
			if i < 0 || i >= st.Total {
				return nil, ErrInvalidState
			}
			group.dst.add(i)
		}
	}

	for i := range s.correct {
		if s.incorrect.has(i) {
			return nil, ErrInvalidState
		}
	}
	if len(s.studied) != len(s.correct)+len(s.incorrect) {
		return nil, ErrInvalidState
	}
	for i := range s.studied {
		if !s.correct.has(i) && !s.incorrect.has(i) {
			return nil, ErrInvalidState
		}
	}
	return s, nil
}
