package model

import (
	"encoding/json"
	"time"
)

// CreateComposeFormRequest is the body of POST /api/compose/forms.
type CreateComposeFormRequest struct {
	FormID           string          `json:"formId" validate:"required,max=64"`
	PackageType      string          `json:"packageType" validate:"required,max=64"`
	SongCount        int             `json:"songCount" validate:"required,min=1,max=10"`
	FormData         json.RawMessage `json:"formData"`
	GeneratedPrompts json.RawMessage `json:"generatedPrompts"`
	Status           FormStatus      `json:"status" validate:"omitempty"`
	ExpiresAt        *time.Time      `json:"expiresAt"`
}

// ComposeFormPatch is the body of PATCH /api/compose/forms. Nil fields are left
// untouched; map fields merge per song and per variation.
type ComposeFormPatch struct {
	FormID             string                       `json:"formId" validate:"required,max=64"`
	PackageType        *string                      `json:"packageType"`
	SongCount          *int                         `json:"songCount" validate:"omitempty,min=1,max=10"`
	FormData           json.RawMessage              `json:"formData"`
	GeneratedPrompts   json.RawMessage              `json:"generatedPrompts"`
	VariationTaskIDs   map[string][]string          `json:"variationTaskIds"`
	VariationAudioURLs map[string]map[string]string `json:"variationAudioUrls"`
	VariationLyrics    map[string]map[string]string `json:"variationLyrics"`
	VariationTitles    map[string]map[string]string `json:"variationTitles"`
	SelectedVariations map[string]json.RawMessage   `json:"selectedVariations"`
	Status             *FormStatus                  `json:"status"`
	UserID             *string                      `json:"userId"`
	StripeSessionID    *string                      `json:"stripeSessionId"`
	ExpiresAt          *time.Time                   `json:"expiresAt"`
}

// ComposeFormResponse wraps a form for the API.
type ComposeFormResponse struct {
	Success bool            `json:"success"`
	Form    ComposeFormView `json:"form"`
}

// SongBrief describes one song of a compose form.
type SongBrief struct {
	RecipientName string `json:"recipientName"`
	Relationship  string `json:"relationship"`
	Occasion      string `json:"occasion"`
	Genre         string `json:"genre"`
	Mood          string `json:"mood"`
	Details       string `json:"details"`
	Language      string `json:"language"`
}

// PromptRequest is the body of POST /api/compose/prompts.
type PromptRequest struct {
	FormID      string          `json:"formId" validate:"required,max=64"`
	PackageType string          `json:"packageType" validate:"required,max=64"`
	SongCount   int             `json:"songCount" validate:"required,min=1,max=10"`
	FormData    json.RawMessage `json:"formData" validate:"required"`
}

// GeneratedPrompt is the LLM output for one song.
type GeneratedPrompt struct {
	SongIndex  int    `json:"songIndex"`
	Title      string `json:"title"`
	Prompt     string `json:"prompt"`
	MusicStyle string `json:"musicStyle"`
}

// PromptResponse is returned by POST /api/compose/prompts.
type PromptResponse struct {
	Success bool              `json:"success"`
	FormID  string            `json:"formId"`
	Prompts []GeneratedPrompt `json:"prompts"`
}

// GenerateRequest is the body of POST /api/generation/generate.
type GenerateRequest struct {
	Prompt           string `json:"prompt" validate:"required,max=3000"`
	MusicStyle       string `json:"music_style" validate:"max=255"`
	MakeInstrumental bool   `json:"make_instrumental"`
	WaitAudio        bool   `json:"wait_audio"`
	PreviewMode      bool   `json:"preview_mode"`
}

// StatusResponse is returned by GET /api/generation/status/:id.
type StatusResponse struct {
	Success    bool              `json:"success"`
	Status     string            `json:"status"`
	AudioURL   string            `json:"audio_url"`
	Conversion *ConversionResult `json:"conversion"`
}

// CheckoutRequest is the body of POST /api/checkout.
type CheckoutRequest struct {
	PackageID          string                     `json:"packageId" validate:"required,max=64"`
	FormID             string                     `json:"formId" validate:"max=64"`
	SelectedVariations map[string]json.RawMessage `json:"selectedVariations"`
	RecipientName      string                     `json:"recipientName" validate:"max=255"`
	TaskID             string                     `json:"taskId" validate:"max=128"`
}

// CheckoutResponse carries the hosted checkout URL.
type CheckoutResponse struct {
	Success   bool   `json:"success"`
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// ShareLink points at one delivered song version.
type ShareLink struct {
	SongIndex   int    `json:"songIndex"`
	VariationID string `json:"variationId"`
	Title       string `json:"title"`
	URL         string `json:"url"`
}
