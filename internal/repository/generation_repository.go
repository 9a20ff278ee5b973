package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/huggnote/api/internal/model"
)

type generationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository creates a generation repository backed by GORM.
func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

func (r *generationRepository) Create(ctx context.Context, gen *model.MusicGeneration) error {
	return r.db.WithContext(ctx).Create(gen).Error
}

func (r *generationRepository) FindByTaskID(ctx context.Context, taskID string) (*model.MusicGeneration, error) {
	var gen model.MusicGeneration
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&gen).Error; err != nil {
		return nil, mapErr(err)
	}
	return &gen, nil
}

func (r *generationRepository) FindByTaskIDs(ctx context.Context, taskIDs []string) ([]model.MusicGeneration, error) {
	var gens []model.MusicGeneration
	if len(taskIDs) == 0 {
		return gens, nil
	}
	err := r.db.WithContext(ctx).Where("task_id IN ?", taskIDs).Find(&gens).Error
	return gens, err
}

// FindByShareSlug returns the generation owning slug and which slot it names.
func (r *generationRepository) FindByShareSlug(ctx context.Context, slug string) (*model.MusicGeneration, int, error) {
	var gen model.MusicGeneration
	err := r.db.WithContext(ctx).
		Where("share_slug_v1 = ? OR share_slug_v2 = ?", slug, slug).
		First(&gen).Error
	if err != nil {
		return nil, 0, mapErr(err)
	}
	if gen.ShareSlugV2 == slug {
		return &gen, 2, nil
	}
	return &gen, 1, nil
}

func (r *generationRepository) UpdateByTaskID(ctx context.Context, taskID string, fields map[string]interface{}) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&model.MusicGeneration{}).Where("task_id = ?", taskID).Updates(fields)
	return tx.RowsAffected, tx.Error
}
