package service

import (
	"context"
	"errors"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/huggnote/api/internal/auth"
	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/events"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/repository"
	"github.com/huggnote/api/pkg/slug"
)

// GenerationService starts music generations and polls their status.
type GenerationService struct {
	music       client.MusicProvider
	generations repository.GenerationRepository
	users       repository.UserRepository
	archiver    AudioArchiver
	publisher   events.Publisher
}

// NewGenerationService creates a generation service. archiver and publisher may be nil.
func NewGenerationService(
	music client.MusicProvider,
	generations repository.GenerationRepository,
	users repository.UserRepository,
	archiver AudioArchiver,
	publisher events.Publisher,
) *GenerationService {
	if archiver == nil {
		archiver = nopArchiver{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &GenerationService{
		music:       music,
		generations: generations,
		users:       users,
		archiver:    archiver,
		publisher:   publisher,
	}
}

// Generate asks the provider for a song and returns its response body as
// received. Paid generations need an identity with at least one credit; the
// provider is never called when that check fails.
func (s *GenerationService) Generate(ctx context.Context, req *model.GenerateRequest, identity *auth.Identity) (map[string]interface{}, error) {
	var userID string
	if !req.PreviewMode {
		if identity == nil || identity.UserID == "" {
			return nil, ErrAuthRequired
		}
		user, err := s.users.Ensure(ctx, identity.UserID, identity.Email)
		if err != nil {
			return nil, fmt.Errorf("load user: %w", err)
		}
		if user.Credits < 1 {
			return nil, ErrInsufficientCredits
		}
		userID = user.ID
	} else if identity != nil {
		userID = identity.UserID
	}

	resp, err := s.music.Generate(ctx, &client.GenerateMusicRequest{
		Prompt:           req.Prompt,
		MusicStyle:       req.MusicStyle,
		MakeInstrumental: req.MakeInstrumental,
		WaitAudio:        req.WaitAudio,
	})
	if err != nil {
		return nil, err
	}

	if resp.TaskID != "" {
		fiberlog.Infof("[Generation] task %s accepted, eta %.0fs", resp.TaskID, resp.ETA)
		s.record(ctx, req, resp, userID)
	} else {
		fiberlog.Warnf("[Generation] provider returned no task id, nothing to record")
	}

	if !req.PreviewMode {
		ok, err := s.users.DecrementCredit(ctx, userID)
		switch {
		case err != nil:
			fiberlog.Errorf("[Generation] decrement credit for user %s: %v", userID, err)
		case !ok:
			fiberlog.Warnf("[Generation] user %s had no credit left to decrement (task %s)", userID, resp.TaskID)
		}
	}

	if resp.TaskID != "" {
		if err := s.publisher.Publish(ctx, events.TypeGenerationRequested, events.GenerationRequested{
			TaskID:  resp.TaskID,
			UserID:  userID,
			Preview: req.PreviewMode,
		}); err != nil {
			fiberlog.Warnf("[Generation] publish generation.requested for %s: %v", resp.TaskID, err)
		}
	}

	out := make(map[string]interface{}, len(resp.Raw)+1)
	for k, v := range resp.Raw {
		out[k] = v
	}
	out["success"] = true
	return out, nil
}

// record stores the new task. Failures are logged; the provider already accepted the job.
func (s *GenerationService) record(ctx context.Context, req *model.GenerateRequest, resp *client.GenerateMusicResponse, userID string) {
	slug1, slug2, err := slug.Pair()
	if err != nil {
		fiberlog.Errorf("[Generation] share slugs for task %s: %v", resp.TaskID, err)
		return
	}

	gen := &model.MusicGeneration{
		TaskID:          resp.TaskID,
		GeneratedPrompt: req.Prompt,
		MusicStyle:      req.MusicStyle,
		Preview:         req.PreviewMode,
		Status:          model.GenerationPending,
		ConversionID1:   resp.ConversionID1,
		ConversionID2:   resp.ConversionID2,
		ShareSlugV1:     slug1,
		ShareSlugV2:     slug2,
	}
	if userID != "" {
		gen.UserID = &userID
	}
	if err := s.generations.Create(ctx, gen); err != nil {
		fiberlog.Errorf("[Generation] record task %s: %v", resp.TaskID, err)
	}
}

// Status polls the provider and mirrors what it reports into the generation row.
func (s *GenerationService) Status(ctx context.Context, id, conversionType, idType string) (*model.StatusResponse, error) {
	if conversionType == "" {
		conversionType = model.DefaultConversionType
	}
	if idType == "" {
		idType = model.DefaultIDType
	}

	res, err := s.music.Status(ctx, id, conversionType, idType)
	if err != nil {
		return nil, err
	}
	conv := res.Conversion

	taskID := conv.TaskID
	if taskID == "" && idType == model.DefaultIDType {
		taskID = id
	}
	if taskID != "" {
		s.persistStatus(ctx, taskID, conv, res.Raw)
	}

	return &model.StatusResponse{
		Success:    true,
		Status:     conv.Status,
		AudioURL:   conv.AudioURL(),
		Conversion: conv,
	}, nil
}

func (s *GenerationService) persistStatus(ctx context.Context, taskID string, conv *model.ConversionResult, raw []byte) {
	status := conv.InternalStatus()
	fields := map[string]interface{}{
		"status":          status,
		"status_response": datatypes.JSON(raw),
	}

	completed := status == model.GenerationCompleted && conv.AudioURL() != ""
	if completed {
		putIfSet(fields, "audio_url_1", conv.AudioURL1)
		putIfSet(fields, "audio_url_2", conv.AudioURL2)
		putIfSet(fields, "title_1", conv.Title1)
		putIfSet(fields, "title_2", conv.Title2)
		putIfSet(fields, "lyrics_1", conv.Lyrics1)
		putIfSet(fields, "lyrics_2", conv.Lyrics2)
		putIfSet(fields, "conversion_id_1", conv.ConversionID1)
		putIfSet(fields, "conversion_id_2", conv.ConversionID2)
		putIfSet(fields, "album_cover_1", conv.AlbumCover)
		if conv.Duration1 > 0 {
			fields["duration_1"] = float64(conv.Duration1)
		}
		if conv.Duration2 > 0 {
			fields["duration_2"] = float64(conv.Duration2)
		}
	}

	n, err := s.generations.UpdateByTaskID(ctx, taskID, fields)
	if err != nil {
		fiberlog.Errorf("[Generation] store status for task %s: %v", taskID, err)
		return
	}
	if n == 0 {
		fiberlog.Warnf("[Generation] no generation row for task %s", taskID)
		return
	}

	if completed {
		for slot, url := range map[int]string{1: conv.AudioURL1, 2: conv.AudioURL2} {
			if url == "" {
				continue
			}
			if err := s.archiver.EnqueueArchive(ctx, taskID, slot, url); err != nil {
				fiberlog.Warnf("[Generation] schedule archive for task %s slot %d: %v", taskID, slot, err)
			}
		}
	}
}

// Share resolves a public share slug to one generated version.
func (s *GenerationService) Share(ctx context.Context, shareSlug string) (*model.SharedSong, error) {
	gen, slot, err := s.generations.FindByShareSlug(ctx, shareSlug)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load shared song: %w", err)
	}
	shared := gen.Shared(slot)
	return &shared, nil
}

func putIfSet(fields map[string]interface{}, column, value string) {
	if value != "" {
		fields[column] = value
	}
}
