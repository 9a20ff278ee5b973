package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/huggnote/api/internal/model"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

// Ensure returns the user with id, creating it on first sight of an auth subject.
func (r *userRepository) Ensure(ctx context.Context, id, email string) (*model.User, error) {
	user := model.User{ID: id, Email: normalizeEmail(email)}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return r.FindByID(ctx, id)
}

// GetOrCreateGuest resolves a checkout email to a user, creating a guest when
// nobody with that email exists yet.
func (r *userRepository) GetOrCreateGuest(ctx context.Context, email string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("guest email is empty")
	}

	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).Order("created_at ASC").First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = model.User{ID: uuid.NewString(), Email: email, IsGuest: true}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create guest user: %w", err)
	}
	return &user, nil
}

// DecrementCredit takes one credit if the balance allows it.
func (r *userRepository) DecrementCredit(ctx context.Context, id string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND credits > 0", id).
		Update("credits", gorm.Expr("credits - ?", 1))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
