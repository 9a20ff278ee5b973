package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/model"
)

// PromptService turns compose form briefs into music prompts.
type PromptService struct {
	llm     client.Completer
	compose *ComposeService
}

// NewPromptService creates a prompt service. A nil or unconfigured LLM yields mock prompts.
func NewPromptService(llm client.Completer, compose *ComposeService) *PromptService {
	return &PromptService{llm: llm, compose: compose}
}

// Generate writes one prompt per song and stores them on the compose form.
func (s *PromptService) Generate(ctx context.Context, req *model.PromptRequest, userID string) (*model.PromptResponse, error) {
	briefs, err := parseBriefs(req.FormData, req.SongCount)
	if err != nil {
		return nil, err
	}

	prompts := make([]model.GeneratedPrompt, 0, len(briefs))
	for i, brief := range briefs {
		var prompt model.GeneratedPrompt
		if s.llm == nil || !s.llm.IsConfigured() {
			prompt = mockPrompt(brief)
		} else {
			prompt, err = s.generateOne(ctx, brief)
			if err != nil {
				return nil, fmt.Errorf("song %d: %w", i, err)
			}
		}
		prompt.SongIndex = i
		prompts = append(prompts, prompt)
	}

	s.persist(ctx, req, prompts, userID)

	return &model.PromptResponse{
		Success: true,
		FormID:  req.FormID,
		Prompts: prompts,
	}, nil
}

func (s *PromptService) generateOne(ctx context.Context, brief model.SongBrief) (model.GeneratedPrompt, error) {
	response, err := s.llm.ChatCompletion(ctx, buildPromptSystem(brief.Language), buildSongPrompt(brief))
	if err != nil {
		return model.GeneratedPrompt{}, fmt.Errorf("AI generation failed: %w", err)
	}

	var result struct {
		Title      string `json:"title"`
		Prompt     string `json:"prompt"`
		MusicStyle string `json:"musicStyle"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response)), &result); err != nil {
		return model.GeneratedPrompt{}, fmt.Errorf("invalid JSON response: %w", err)
	}
	if strings.TrimSpace(result.Prompt) == "" {
		return model.GeneratedPrompt{}, fmt.Errorf("no prompt in response")
	}

	style := result.MusicStyle
	if style == "" {
		style = styleFor(brief)
	}
	return model.GeneratedPrompt{Title: result.Title, Prompt: result.Prompt, MusicStyle: style}, nil
}

// persist failures never fail the request; the caller can PATCH the prompts later.
func (s *PromptService) persist(ctx context.Context, req *model.PromptRequest, prompts []model.GeneratedPrompt, userID string) {
	if s.compose == nil {
		return
	}
	encoded, err := json.Marshal(prompts)
	if err != nil {
		fiberlog.Errorf("[Prompts] encode prompts for form %s: %v", req.FormID, err)
		return
	}

	_, err = s.compose.Create(ctx, &model.CreateComposeFormRequest{
		FormID:           req.FormID,
		PackageType:      req.PackageType,
		SongCount:        req.SongCount,
		FormData:         req.FormData,
		GeneratedPrompts: encoded,
	}, userID)
	if errors.Is(err, ErrFormExists) {
		_, err = s.compose.Patch(ctx, &model.ComposeFormPatch{
			FormID:           req.FormID,
			PackageType:      &req.PackageType,
			SongCount:        &req.SongCount,
			FormData:         req.FormData,
			GeneratedPrompts: encoded,
		})
	}
	if err != nil {
		fiberlog.Errorf("[Prompts] store prompts for form %s: %v", req.FormID, err)
	}
}

// parseBriefs accepts {"songs":[...]} or a single brief object.
func parseBriefs(raw json.RawMessage, songCount int) ([]model.SongBrief, error) {
	var multi struct {
		Songs []model.SongBrief `json:"songs"`
	}
	if err := json.Unmarshal(raw, &multi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormData, err)
	}

	briefs := multi.Songs
	if len(briefs) == 0 {
		var single model.SongBrief
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormData, err)
		}
		briefs = []model.SongBrief{single}
	}

	if songCount > 0 && len(briefs) > songCount {
		briefs = briefs[:songCount]
	}
	for len(briefs) < songCount {
		briefs = append(briefs, briefs[len(briefs)-1])
	}
	return briefs, nil
}

func buildPromptSystem(language string) string {
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf(`You write prompts for an AI music generator that produces personalized gift songs.
Lyrics must be in %s and must mention the recipient by name.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`, language)
}

func buildSongPrompt(b model.SongBrief) string {
	return fmt.Sprintf(`Write a song prompt for %s.
Relationship to the buyer: %s
Occasion: %s
Genre: %s
Mood: %s
Personal details: %s

The prompt should describe the song's story, its chorus hook and the instrumentation in under 200 words.

Output as JSON: {"title": "song title", "prompt": "prompt text", "musicStyle": "comma separated style tags"}`,
		orDefault(b.RecipientName, "someone special"), orDefault(b.Relationship, "unspecified"),
		orDefault(b.Occasion, "just because"), orDefault(b.Genre, "pop"),
		orDefault(b.Mood, "heartfelt"), orDefault(b.Details, "none"))
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

func mockPrompt(b model.SongBrief) model.GeneratedPrompt {
	name := orDefault(b.RecipientName, "you")
	occasion := orDefault(b.Occasion, "every day")
	prompt := fmt.Sprintf("A %s %s song celebrating %s for %s. Warm verses about shared memories, a singalong chorus that repeats the name %s.",
		orDefault(b.Mood, "heartfelt"), orDefault(b.Genre, "pop"), name, occasion, name)
	return model.GeneratedPrompt{
		Title:      fmt.Sprintf("A Song for %s", name),
		Prompt:     prompt,
		MusicStyle: styleFor(b),
	}
}

func styleFor(b model.SongBrief) string {
	tags := []string{orDefault(b.Genre, "pop")}
	if b.Mood != "" {
		tags = append(tags, b.Mood)
	}
	return strings.Join(tags, ", ")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
