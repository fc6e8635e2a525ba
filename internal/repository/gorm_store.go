package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"vibecards-backend/internal/models"
)

// cardList stores cards as JSON: jsonb on Postgres, text elsewhere.
type cardList []models.Card

func (c cardList) Value() (driver.Value, error) {
	if c == nil {
		c = cardList{}
	}
	b, err := json.Marshal(c)
	return string(b), err
}

func (c *cardList) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	case nil:
		*c = nil
		return nil
	default:
		return fmt.Errorf("unsupported cards column type %T", value)
	}
}

func (cardList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

// deckRecord mirrors the decks table for the gorm-backed store.
type deckRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Title     string    `gorm:"not null"`
	Topic     string    `gorm:"not null"`
	Cards     cardList  `gorm:"not null"`
	CardCount int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;index:idx_decks_created_at,sort:desc"`
}

func (deckRecord) TableName() string { return "decks" }

func (d deckRecord) toModel() models.Deck {
	return models.Deck{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Title:     d.Title,
		Topic:     d.Topic,
		Cards:     []models.Card(d.Cards),
		CreatedAt: d.CreatedAt,
	}
}

type userRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name          string    `gorm:"not null"`
	Email         string    `gorm:"not null;uniqueIndex"`
	PasswordHash  string    `gorm:"not null"`
	EmailVerified bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Decks []deckRecord `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}

func (userRecord) TableName() string { return "users" }

func (u userRecord) toModel() *models.User {
	return &models.User{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// AutoMigrateGorm creates or updates the tables used by the gorm stores.
func AutoMigrateGorm(db *gorm.DB) error {
	return db.AutoMigrate(&userRecord{}, &deckRecord{})
}

type GormDeckRepo struct {
	db *gorm.DB
}

func NewGormDeckRepo(db *gorm.DB) *GormDeckRepo {
	return &GormDeckRepo{db: db}
}

func (r *GormDeckRepo) Create(ctx context.Context, deck *models.Deck) error {
	rec := deckRecord{
		ID:        uuid.New(),
		OwnerID:   deck.OwnerID,
		Title:     deck.Title,
		Topic:     deck.Topic,
		Cards:     deck.Cards,
		CardCount: len(deck.Cards),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	deck.ID = rec.ID
	deck.CreatedAt = rec.CreatedAt
	return nil
}

func (r *GormDeckRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deck, error) {
	var rec deckRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	deck := rec.toModel()
	return &deck, nil
}

func (r *GormDeckRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, q models.DeckListQuery) ([]models.Deck, error) {
	tx := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)

	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		tx = tx.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(topic) LIKE ? ESCAPE '\')`, pattern, pattern)
	}

	if q.Filter == models.DeckFilterLarge {
		tx = tx.Where("card_count >= ?", models.LargeDeckThreshold).Order("card_count DESC").Order("created_at DESC")
	} else {
		tx = tx.Order("created_at DESC")
	}

	var recs []deckRecord
	if err := tx.Find(&recs).Error; err != nil {
		return nil, err
	}

	decks := make([]models.Deck, 0, len(recs))
	for _, rec := range recs {
		decks = append(decks, rec.toModel())
	}
	return decks, nil
}

func (r *GormDeckRepo) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&deckRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormDeckRepo) CountByOwner(ctx context.Context, ownerID uuid.UUID) (decks, cards int, err error) {
	var row struct {
		Decks int
		Cards int
	}
	err = r.db.WithContext(ctx).Model(&deckRecord{}).
		Select("COUNT(*) AS decks, COALESCE(SUM(card_count), 0) AS cards").
		Where("owner_id = ?", ownerID).
		Scan(&row).Error
	return row.Decks, row.Cards, err
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) Create(ctx context.Context, user *models.User) error {
	rec := userRecord{
		ID:            uuid.New(),
		Name:          user.Name,
		Email:         strings.ToLower(user.Email),
		PasswordHash:  user.PasswordHash,
		EmailVerified: user.EmailVerified,
	}
	err := r.db.WithContext(ctx).Create(&rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	*user = *rec.toModel()
	return nil
}

func (r *GormUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email = ?", strings.ToLower(email))
}

func (r *GormUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *GormUserRepo) getOne(ctx context.Context, cond string, arg any) (*models.User, error) {
	var rec userRecord
	err := r.db.WithContext(ctx).First(&rec, cond, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

func (r *GormUserRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, map[string]any{"email_verified": true})
}

func (r *GormUserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.update(ctx, id, map[string]any{"password_hash": passwordHash})
}

func (r *GormUserRepo) update(ctx context.Context, id uuid.UUID, set map[string]any) error {
	set["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Updates(set)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
