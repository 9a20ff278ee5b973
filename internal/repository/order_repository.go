package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/huggnote/api/internal/model"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository backed by GORM.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).Where("stripe_session_id = ?", sessionID).Count(&count).Error
	return count > 0, err
}

// CreateWithCredits inserts the order and grants its credits atomically. It
// returns false without side effects when an order for the same session exists.
func (r *orderRepository) CreateWithCredits(ctx context.Context, order *model.Order) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_session_id"}},
			DoNothing: true,
		}).Create(order)
		if res.Error != nil {
			return fmt.Errorf("insert order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		grant := tx.Model(&model.User{}).Where("id = ?", order.UserID).
			Update("credits", gorm.Expr("credits + ?", order.Credits))
		if grant.Error != nil {
			return fmt.Errorf("grant credits: %w", grant.Error)
		}
		if grant.RowsAffected == 0 {
			return fmt.Errorf("grant credits: user %s: %w", order.UserID, ErrNotFound)
		}

		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}
