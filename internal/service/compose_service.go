package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/repository"
)

// ComposeService stores pre-payment compose forms.
type ComposeService struct {
	forms repository.ComposeFormRepository
	ttl   time.Duration
	now   func() time.Time
}

// NewComposeService creates a compose service whose forms expire after ttl.
func NewComposeService(forms repository.ComposeFormRepository, ttl time.Duration) *ComposeService {
	return &ComposeService{forms: forms, ttl: ttl, now: time.Now}
}

// Create stores a new form. userID may be empty for anonymous callers.
func (s *ComposeService) Create(ctx context.Context, req *model.CreateComposeFormRequest, userID string) (*model.ComposeForm, error) {
	status := req.Status
	if status == "" {
		status = model.FormStatusPromptsGenerated
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormStatus, status)
	}

	expiresAt := s.now().Add(s.ttl)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	form := &model.ComposeForm{
		ID:               req.FormID,
		PackageType:      req.PackageType,
		SongCount:        req.SongCount,
		Status:           status,
		FormData:         jsonColumn(req.FormData),
		GeneratedPrompts: jsonColumn(req.GeneratedPrompts),
		ExpiresAt:        expiresAt,
	}
	if userID != "" {
		form.UserID = &userID
	}

	if err := s.forms.Create(ctx, form); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrFormExists
		}
		return nil, fmt.Errorf("create compose form: %w", err)
	}

	fiberlog.Infof("[Compose] form %s created (%s, %d songs)", form.ID, form.PackageType, form.SongCount)
	return s.load(ctx, form.ID)
}

// Get looks a form up by id, or by payment session id when formID is empty.
func (s *ComposeService) Get(ctx context.Context, formID, sessionID string) (*model.ComposeForm, error) {
	var (
		form *model.ComposeForm
		err  error
	)
	switch {
	case formID != "":
		form, err = s.forms.FindByID(ctx, formID)
	case sessionID != "":
		form, err = s.forms.FindByStripeSessionID(ctx, sessionID)
	default:
		return nil, ErrLookupKeyRequired
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load compose form: %w", err)
	}
	return form, nil
}

// Patch merges the given fields into a form. Song maps merge per song and per
// variation. Unless the patch sets status explicitly, task ids advance a
// prompts_generated form to variations_generating, and audio that completes a
// song advances a variations_generating form to variations_ready.
func (s *ComposeService) Patch(ctx context.Context, req *model.ComposeFormPatch) (*model.ComposeForm, error) {
	current, err := s.load(ctx, req.FormID)
	if err != nil {
		return nil, err
	}

	patch, err := buildFormPatch(req)
	if err != nil {
		return nil, err
	}

	if err := s.forms.Patch(ctx, req.FormID, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFormNotFound
		}
		return nil, fmt.Errorf("patch compose form: %w", err)
	}

	if req.Status == nil {
		if len(patch.TaskIDs) > 0 && current.Status == model.FormStatusPromptsGenerated {
			if _, err := s.forms.TransitionStatus(ctx, req.FormID, model.FormStatusPromptsGenerated, model.FormStatusVariationsGenerating); err != nil {
				return nil, fmt.Errorf("advance form status: %w", err)
			}
		}
		if len(patch.AudioURLs) > 0 {
			if err := s.advanceIfReady(ctx, req.FormID); err != nil {
				return nil, err
			}
		}
	}

	return s.load(ctx, req.FormID)
}

func (s *ComposeService) advanceIfReady(ctx context.Context, formID string) error {
	form, err := s.load(ctx, formID)
	if err != nil {
		return err
	}
	if form.Status != model.FormStatusVariationsGenerating || !form.AnySongReady() {
		return nil
	}
	moved, err := s.forms.TransitionStatus(ctx, formID, model.FormStatusVariationsGenerating, model.FormStatusVariationsReady)
	if err != nil {
		return fmt.Errorf("advance form status: %w", err)
	}
	if moved {
		fiberlog.Infof("[Compose] form %s variations ready", formID)
	}
	return nil
}

func (s *ComposeService) load(ctx context.Context, formID string) (*model.ComposeForm, error) {
	form, err := s.forms.FindByID(ctx, formID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load compose form: %w", err)
	}
	return form, nil
}

func buildFormPatch(req *model.ComposeFormPatch) (*repository.FormPatch, error) {
	patch := &repository.FormPatch{Fields: map[string]interface{}{}}

	if req.PackageType != nil {
		patch.Fields["package_type"] = *req.PackageType
	}
	if req.SongCount != nil {
		patch.Fields["song_count"] = *req.SongCount
	}
	if present(req.FormData) {
		patch.Fields["form_data"] = jsonColumn(req.FormData)
	}
	if present(req.GeneratedPrompts) {
		patch.Fields["generated_prompts"] = jsonColumn(req.GeneratedPrompts)
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFormStatus, *req.Status)
		}
		patch.Fields["status"] = *req.Status
	}
	if req.UserID != nil {
		patch.Fields["user_id"] = nullable(*req.UserID)
	}
	if req.StripeSessionID != nil {
		patch.Fields["stripe_session_id"] = nullable(*req.StripeSessionID)
	}
	if req.ExpiresAt != nil {
		patch.Fields["expires_at"] = *req.ExpiresAt
	}

	if len(req.VariationTaskIDs) > 0 {
		patch.TaskIDs = make(map[int][]string, len(req.VariationTaskIDs))
		for key, ids := range req.VariationTaskIDs {
			idx, ok := model.ParseSongKey(key)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidSongIndex, key)
			}
			patch.TaskIDs[idx] = ids
		}
	}

	var err error
	if patch.AudioURLs, err = songMap(req.VariationAudioURLs); err != nil {
		return nil, err
	}
	if patch.Lyrics, err = songMap(req.VariationLyrics); err != nil {
		return nil, err
	}
	if patch.Titles, err = songMap(req.VariationTitles); err != nil {
		return nil, err
	}

	if len(req.SelectedVariations) > 0 {
		patch.SelectedVariations = make(map[int]json.RawMessage, len(req.SelectedVariations))
		for key, sel := range req.SelectedVariations {
			idx, ok := model.ParseSongKey(key)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidSongIndex, key)
			}
			patch.SelectedVariations[idx] = sel
		}
	}

	return patch, nil
}

func songMap(in map[string]map[string]string) (map[int]map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[int]map[string]string, len(in))
	for key, byVariation := range in {
		idx, ok := model.ParseSongKey(key)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSongIndex, key)
		}
		out[idx] = byVariation
	}
	return out, nil
}

// jsonColumn stores absent and null JSON as SQL NULL.
func jsonColumn(raw json.RawMessage) datatypes.JSON {
	if !present(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
