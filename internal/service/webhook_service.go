package service

import (
	"context"
	"errors"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/repository"
)

// WebhookService reconciles music provider callbacks into generations and compose forms.
type WebhookService struct {
	generations repository.GenerationRepository
	forms       repository.ComposeFormRepository
	notifier    ProgressNotifier
	archiver    AudioArchiver
}

// NewWebhookService creates a webhook service. notifier and archiver may be nil.
func NewWebhookService(
	generations repository.GenerationRepository,
	forms repository.ComposeFormRepository,
	notifier ProgressNotifier,
	archiver AudioArchiver,
) *WebhookService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if archiver == nil {
		archiver = nopArchiver{}
	}
	return &WebhookService{
		generations: generations,
		forms:       forms,
		notifier:    notifier,
		archiver:    archiver,
	}
}

// HandleMusicCallback applies one provider callback and returns its kind.
// Only decode errors and model.ErrMissingTaskID are returned; storage problems
// are logged so the provider does not redeliver indefinitely.
func (s *WebhookService) HandleMusicCallback(ctx context.Context, body []byte) (model.CallbackKind, error) {
	cb, err := model.ClassifyMusicCallback(body)
	if err != nil {
		return "", err
	}
	h := cb.Header()

	switch v := cb.(type) {
	case model.MusicAICallback:
		s.applyMusicAI(ctx, v)
		if v.AudioURL != "" {
			s.fillComposeVariations(ctx, h.TaskID, v)
		}
	case model.AlbumCoverCallback:
		s.applySlotFields(ctx, h, func(slot int) map[string]interface{} {
			return map[string]interface{}{model.SlotColumn("album_cover", slot): v.AlbumCoverPath}
		})
	case model.TimestampedLyricsCallback:
		s.applySlotFields(ctx, h, func(slot int) map[string]interface{} {
			return map[string]interface{}{model.SlotColumn("lyrics_timestamped", slot): datatypes.JSON(v.LyricsTimestamped)}
		})
	case model.StatusCallback:
		status := model.GenerationStatusFromProvider(v.Status)
		s.update(ctx, h.TaskID, map[string]interface{}{"status": status})
		if status == model.GenerationFailed {
			fiberlog.Warnf("[Music Webhook] task %s failed: %s", h.TaskID, v.Message)
		}
	default:
		fiberlog.Warnf("[Music Webhook] unrecognized callback for task %s: %s", h.TaskID, truncate(string(body), 512))
	}

	fiberlog.Infof("[Music Webhook] %s callback for task %s processed", cb.Kind(), h.TaskID)
	return cb.Kind(), nil
}

func (s *WebhookService) applyMusicAI(ctx context.Context, cb model.MusicAICallback) {
	status := model.GenerationStatusFromProvider(cb.Status)
	if cb.Status == "" && cb.AudioURL != "" {
		status = model.GenerationCompleted
	}

	// Without a conversion id the slot is unknown, but the task status still applies.
	if cb.ConversionID == "" {
		fiberlog.Debugf("[Music Webhook] callback for task %s has no conversion id, only status stored", cb.TaskID)
		s.update(ctx, cb.TaskID, map[string]interface{}{"status": status})
		return
	}

	slot := s.applySlotFields(ctx, cb.CallbackHeader, func(slot int) map[string]interface{} {
		fields := map[string]interface{}{"status": status}
		putIfSet(fields, model.SlotColumn("audio_url", slot), cb.AudioURL)
		putIfSet(fields, model.SlotColumn("title", slot), cb.Title)
		putIfSet(fields, model.SlotColumn("lyrics", slot), cb.Lyrics)
		putIfSet(fields, model.SlotColumn("album_cover", slot), cb.AlbumCover)
		if cb.Duration > 0 {
			fields[model.SlotColumn("duration", slot)] = float64(cb.Duration)
		}
		return fields
	})

	if slot > 0 && status == model.GenerationCompleted && cb.AudioURL != "" {
		if err := s.archiver.EnqueueArchive(ctx, cb.TaskID, slot, cb.AudioURL); err != nil {
			fiberlog.Warnf("[Music Webhook] schedule archive for task %s slot %d: %v", cb.TaskID, slot, err)
		}
	}
}

// applySlotFields writes the fields built for the slot owning the callback's
// conversion id. A conversion id matching neither slot drops the update. It
// returns the slot written, or 0.
func (s *WebhookService) applySlotFields(ctx context.Context, h model.CallbackHeader, build func(slot int) map[string]interface{}) int {
	if h.ConversionID == "" {
		fiberlog.Debugf("[Music Webhook] callback for task %s has no conversion id, slot fields skipped", h.TaskID)
		return 0
	}

	gen, err := s.generations.FindByTaskID(ctx, h.TaskID)
	if errors.Is(err, repository.ErrNotFound) {
		fiberlog.Warnf("[Music Webhook] no generation row for task %s", h.TaskID)
		return 0
	}
	if err != nil {
		fiberlog.Errorf("[Music Webhook] load generation %s: %v", h.TaskID, err)
		return 0
	}

	slot := gen.SlotForConversion(h.ConversionID)
	if slot == 0 {
		fiberlog.Warnf("[Music Webhook] conversion %s matches neither slot of task %s, update dropped", h.ConversionID, h.TaskID)
		return 0
	}

	if !s.update(ctx, h.TaskID, build(slot)) {
		return 0
	}
	return slot
}

func (s *WebhookService) update(ctx context.Context, taskID string, fields map[string]interface{}) bool {
	n, err := s.generations.UpdateByTaskID(ctx, taskID, fields)
	if err != nil {
		fiberlog.Errorf("[Music Webhook] update generation %s: %v", taskID, err)
		return false
	}
	if n == 0 {
		fiberlog.Warnf("[Music Webhook] no generation row for task %s", taskID)
		return false
	}
	return true
}

// fillComposeVariations writes the audio into every waiting variation owned by
// taskID and flips forms whose song now has all its variations.
func (s *WebhookService) fillComposeVariations(ctx context.Context, taskID string, cb model.MusicAICallback) {
	variations, err := s.forms.FindGeneratingVariationsByTask(ctx, taskID)
	if err != nil {
		fiberlog.Errorf("[Music Webhook] find compose variations for task %s: %v", taskID, err)
		return
	}
	if len(variations) == 0 {
		return
	}
	if forms := distinctForms(variations); forms > 1 {
		fiberlog.Warnf("[Music Webhook] task %s is listed on %d compose forms, updating all", taskID, forms)
	}

	for i := range variations {
		v := &variations[i]
		filled, count, err := s.forms.FillVariationAudio(ctx, v, repository.VariationAudio{
			AudioURL: cb.AudioURL,
			Title:    cb.Title,
			Lyrics:   cb.Lyrics,
		})
		if err != nil {
			fiberlog.Errorf("[Music Webhook] fill form %s song %d variation %s: %v", v.FormID, v.SongIndex, v.VariationID, err)
			continue
		}
		if !filled {
			fiberlog.Debugf("[Music Webhook] form %s song %d variation %s already has audio", v.FormID, v.SongIndex, v.VariationID)
			continue
		}
		s.notifier.VariationReady(v.FormID, v.SongIndex, v.VariationID, cb.AudioURL)

		if count < model.ExpectedVariationCount {
			continue
		}
		moved, err := s.forms.TransitionStatus(ctx, v.FormID, model.FormStatusVariationsGenerating, model.FormStatusVariationsReady)
		if err != nil {
			fiberlog.Errorf("[Music Webhook] mark form %s ready: %v", v.FormID, err)
			continue
		}
		if moved {
			fiberlog.Infof("[Music Webhook] form %s variations ready (song %d)", v.FormID, v.SongIndex)
			s.notifier.FormReady(v.FormID, v.SongIndex)
		}
	}
}

func distinctForms(variations []model.ComposeVariation) int {
	seen := make(map[string]struct{}, len(variations))
	for _, v := range variations {
		seen[v.FormID] = struct{}{}
	}
	return len(seen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
