package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/huggnote/api/internal/model"
)

type composeFormRepository struct {
	db *gorm.DB
}

// NewComposeFormRepository creates a compose form repository backed by GORM.
func NewComposeFormRepository(db *gorm.DB) ComposeFormRepository {
	return &composeFormRepository{db: db}
}

func (r *composeFormRepository) Create(ctx context.Context, form *model.ComposeForm) error {
	tx := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(form)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *composeFormRepository) FindByID(ctx context.Context, id string) (*model.ComposeForm, error) {
	var form model.ComposeForm
	err := r.withSongs(r.db.WithContext(ctx)).Where("id = ?", id).First(&form).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &form, nil
}

func (r *composeFormRepository) FindByStripeSessionID(ctx context.Context, sessionID string) (*model.ComposeForm, error) {
	var form model.ComposeForm
	err := r.withSongs(r.db.WithContext(ctx)).
		Where("stripe_session_id = ?", sessionID).
		Order("updated_at DESC").
		First(&form).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &form, nil
}

func (r *composeFormRepository) withSongs(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Songs", func(db *gorm.DB) *gorm.DB { return db.Order("song_index ASC") }).
		Preload("Songs.Variations")
}

// Patch applies field updates and song/variation merges in one transaction.
func (r *composeFormRepository) Patch(ctx context.Context, id string, patch *FormPatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var form model.ComposeForm
		if err := tx.Select("id").Where("id = ?", id).First(&form).Error; err != nil {
			return mapErr(err)
		}

		if len(patch.Fields) > 0 {
			if err := tx.Model(&model.ComposeForm{}).Where("id = ?", id).Updates(patch.Fields).Error; err != nil {
				return fmt.Errorf("update form: %w", err)
			}
		}

		for songIndex, taskIDs := range patch.TaskIDs {
			song, err := ensureSong(tx, id, songIndex)
			if err != nil {
				return err
			}
			if err := replaceTaskIDs(tx, song, taskIDs); err != nil {
				return err
			}
		}

		for column, values := range map[string]map[int]map[string]string{
			"audio_url": patch.AudioURLs,
			"lyrics":    patch.Lyrics,
			"title":     patch.Titles,
		} {
			for songIndex, byVariation := range values {
				song, err := ensureSong(tx, id, songIndex)
				if err != nil {
					return err
				}
				for variationID, value := range byVariation {
					if err := upsertVariation(tx, song, variationID, column, value); err != nil {
						return err
					}
				}
			}
		}

		for songIndex, selection := range patch.SelectedVariations {
			song, err := ensureSong(tx, id, songIndex)
			if err != nil {
				return err
			}
			if err := tx.Model(&model.ComposeSong{}).Where("id = ?", song.ID).
				Update("selected_variations", datatypes.JSON(selection)).Error; err != nil {
				return fmt.Errorf("update selection: %w", err)
			}
		}

		return nil
	})
}

func ensureSong(tx *gorm.DB, formID string, songIndex int) (*model.ComposeSong, error) {
	song := model.ComposeSong{FormID: formID, SongIndex: songIndex}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&song).Error; err != nil {
		return nil, fmt.Errorf("create song %d: %w", songIndex, err)
	}
	if err := tx.Where("form_id = ? AND song_index = ?", formID, songIndex).First(&song).Error; err != nil {
		return nil, fmt.Errorf("load song %d: %w", songIndex, err)
	}
	return &song, nil
}

func upsertVariation(tx *gorm.DB, song *model.ComposeSong, variationID, column string, value interface{}) error {
	variation := model.ComposeVariation{
		SongID:      song.ID,
		VariationID: variationID,
		FormID:      song.FormID,
		SongIndex:   song.SongIndex,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&variation).Error; err != nil {
		return fmt.Errorf("create variation %s: %w", variationID, err)
	}
	return tx.Model(&model.ComposeVariation{}).
		Where("song_id = ? AND variation_id = ?", song.ID, variationID).
		Update(column, value).Error
}

// replaceTaskIDs makes the song's task list equal to taskIDs: position i owns
// variation i+1, and task ids on variations past the end are cleared.
func replaceTaskIDs(tx *gorm.DB, song *model.ComposeSong, taskIDs []string) error {
	owned := make(map[string]bool, len(taskIDs))
	for i, taskID := range taskIDs {
		variationID := model.VariationKey(i)
		owned[variationID] = true
		if err := upsertVariation(tx, song, variationID, "task_id", taskID); err != nil {
			return err
		}
	}

	var existing []model.ComposeVariation
	if err := tx.Where("song_id = ? AND task_id <> ''", song.ID).Find(&existing).Error; err != nil {
		return fmt.Errorf("load variations: %w", err)
	}
	for _, v := range existing {
		if owned[v.VariationID] {
			continue
		}
		if err := tx.Model(&model.ComposeVariation{}).Where("id = ?", v.ID).Update("task_id", "").Error; err != nil {
			return fmt.Errorf("clear task id: %w", err)
		}
	}
	return nil
}

// TransitionStatus moves the form from one status to another only if it is
// still in the expected status.
func (r *composeFormRepository) TransitionStatus(ctx context.Context, id string, from, to model.FormStatus) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&model.ComposeForm{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *composeFormRepository) AttachPayment(ctx context.Context, id, userID, sessionID string) error {
	updates := map[string]interface{}{
		"status":            model.FormStatusPaymentSuccessful,
		"stripe_session_id": sessionID,
	}
	if userID != "" {
		updates["user_id"] = userID
	}
	tx := r.db.WithContext(ctx).Model(&model.ComposeForm{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *composeFormRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.ComposeForm{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.FormStatusDelivered,
			"delivered_at": at,
		}).Error
}

// FindGeneratingVariationsByTask returns the variations owning taskID whose
// form is still waiting for audio.
func (r *composeFormRepository) FindGeneratingVariationsByTask(ctx context.Context, taskID string) ([]model.ComposeVariation, error) {
	var variations []model.ComposeVariation
	err := r.db.WithContext(ctx).
		Joins("JOIN compose_forms ON compose_forms.id = compose_variations.form_id").
		Where("compose_variations.task_id = ? AND compose_forms.status = ?", taskID, model.FormStatusVariationsGenerating).
		Order("compose_variations.id ASC").
		Find(&variations).Error
	return variations, err
}

// FillVariationAudio writes audio into an empty variation and returns how many
// variations of the song now have audio. The first audio written wins.
func (r *composeFormRepository) FillVariationAudio(ctx context.Context, variation *model.ComposeVariation, audio VariationAudio) (bool, int64, error) {
	var (
		filled bool
		count  int64
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"audio_url": audio.AudioURL}
		if audio.Title != "" {
			updates["title"] = audio.Title
		}
		if audio.Lyrics != "" {
			updates["lyrics"] = audio.Lyrics
		}

		res := tx.Model(&model.ComposeVariation{}).
			Where("id = ? AND (audio_url = '' OR audio_url IS NULL)", variation.ID).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("fill variation: %w", res.Error)
		}
		filled = res.RowsAffected > 0

		return tx.Model(&model.ComposeVariation{}).
			Where("song_id = ? AND audio_url <> ''", variation.SongID).
			Count(&count).Error
	})
	return filled, count, err
}
