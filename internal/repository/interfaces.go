package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/huggnote/api/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// VariationAudio is the data a provider callback contributes to one variation.
type VariationAudio struct {
	AudioURL string
	Title    string
	Lyrics   string
}

// FormPatch carries the storage-level changes of a compose form PATCH. Song and
// variation maps are already keyed by parsed song index.
type FormPatch struct {
	Fields             map[string]interface{}
	TaskIDs            map[int][]string
	AudioURLs          map[int]map[string]string
	Lyrics             map[int]map[string]string
	Titles             map[int]map[string]string
	SelectedVariations map[int]json.RawMessage
}

// ComposeFormRepository persists compose forms with their songs and variations.
type ComposeFormRepository interface {
	Create(ctx context.Context, form *model.ComposeForm) error
	FindByID(ctx context.Context, id string) (*model.ComposeForm, error)
	FindByStripeSessionID(ctx context.Context, sessionID string) (*model.ComposeForm, error)
	Patch(ctx context.Context, id string, patch *FormPatch) error
	TransitionStatus(ctx context.Context, id string, from, to model.FormStatus) (bool, error)
	AttachPayment(ctx context.Context, id, userID, sessionID string) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	FindGeneratingVariationsByTask(ctx context.Context, taskID string) ([]model.ComposeVariation, error)
	FillVariationAudio(ctx context.Context, variation *model.ComposeVariation, audio VariationAudio) (filled bool, audioCount int64, err error)
}

// GenerationRepository persists music generation tasks.
type GenerationRepository interface {
	Create(ctx context.Context, gen *model.MusicGeneration) error
	FindByTaskID(ctx context.Context, taskID string) (*model.MusicGeneration, error)
	FindByTaskIDs(ctx context.Context, taskIDs []string) ([]model.MusicGeneration, error)
	FindByShareSlug(ctx context.Context, slug string) (*model.MusicGeneration, int, error)
	UpdateByTaskID(ctx context.Context, taskID string, fields map[string]interface{}) (int64, error)
}

// UserRepository persists users and their credit balance.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	Ensure(ctx context.Context, id, email string) (*model.User, error)
	GetOrCreateGuest(ctx context.Context, email string) (*model.User, error)
	DecrementCredit(ctx context.Context, id string) (bool, error)
}

// OrderRepository persists paid orders.
type OrderRepository interface {
	ExistsBySessionID(ctx context.Context, sessionID string) (bool, error)
	CreateWithCredits(ctx context.Context, order *model.Order) (bool, error)
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
