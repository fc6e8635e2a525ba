package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vibecards-backend/internal/models"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// DBTX is the subset of pgxpool.Pool the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var deckColumns = []string{"id", "owner_id", "title", "topic", "cards", "created_at"}

type DeckRepo struct {
	db DBTX
}

func NewDeckRepo(db DBTX) *DeckRepo {
	return &DeckRepo{db: db}
}

func (r *DeckRepo) Create(ctx context.Context, deck *models.Deck) error {
	cards, err := json.Marshal(deck.Cards)
	if err != nil {
		return fmt.Errorf("failed to encode cards: %w", err)
	}

	deck.ID = uuid.New()
	query, args, err := psql.Insert("decks").
		Columns("id", "owner_id", "title", "topic", "cards", "card_count").
		Values(deck.ID, deck.OwnerID, deck.Title, deck.Topic, cards, len(deck.Cards)).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRow(ctx, query, args...).Scan(&deck.CreatedAt)
}

func (r *DeckRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deck, error) {
	query, args, err := psql.Select(deckColumns...).
		From("decks").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	deck, err := scanDeck(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return deck, err
}

// ListByOwner returns the owner's decks, newest first unless the large
// filter asks for the biggest decks first.
func (r *DeckRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, q models.DeckListQuery) ([]models.Deck, error) {
	builder := psql.Select(deckColumns...).
		From("decks").
		Where(sq.Eq{"owner_id": ownerID})

	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"topic": pattern},
		})
	}

	if q.Filter == models.DeckFilterLarge {
		builder = builder.
			Where(sq.GtOrEq{"card_count": models.LargeDeckThreshold}).
			OrderBy("card_count DESC", "created_at DESC")
	} else {
		builder = builder.OrderBy("created_at DESC")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decks := []models.Deck{}
	for rows.Next() {
		deck, err := scanDeck(rows)
		if err != nil {
			return nil, err
		}
		decks = append(decks, *deck)
	}
	return decks, rows.Err()
}

// Delete removes the deck only when it belongs to ownerID.
func (r *DeckRepo) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	query, args, err := psql.Delete("decks").
		Where(sq.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DeckRepo) CountByOwner(ctx context.Context, ownerID uuid.UUID) (decks, cards int, err error) {
	query, args, err := psql.Select("COUNT(*)", "COALESCE(SUM(card_count), 0)").
		From("decks").
		Where(sq.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return 0, 0, err
	}

	err = r.db.QueryRow(ctx, query, args...).Scan(&decks, &cards)
	return decks, cards, err
}

func scanDeck(row pgx.Row) (*models.Deck, error) {
	deck := &models.Deck{}
	var cards []byte
	if err := row.Scan(&deck.ID, &deck.OwnerID, &deck.Title, &deck.Topic, &cards, &deck.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cards, &deck.Cards); err != nil {
		return nil, fmt.Errorf("failed to decode cards of deck %s: %w", deck.ID, err)
	}
	return deck, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
