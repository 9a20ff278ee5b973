package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/time/rate"

	"github.com/huggnote/api/internal/config"
	"github.com/huggnote/api/internal/model"
)

const musicProvider = "music"

// MusicProvider defines the operations the generation flow needs from the
// music-generation API.
type MusicProvider interface {
	Generate(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error)
	Status(ctx context.Context, id, conversionType, idType string) (*StatusResult, error)
	IsConfigured() bool
}

// MusicClient implements MusicProvider for MusicGPT.
type MusicClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	webhookURL string
}

// GenerateMusicRequest is the body of a MusicAI generation call.
type GenerateMusicRequest struct {
	Prompt           string `json:"prompt"`
	MusicStyle       string `json:"music_style,omitempty"`
	MakeInstrumental bool   `json:"make_instrumental"`
	WaitAudio        bool   `json:"wait_audio"`
	WebhookURL       string `json:"webhook_url,omitempty"`
}

// GenerateMusicResponse carries the identifiers of a started task plus the
// provider body as received, which the API returns inline.
type GenerateMusicResponse struct {
	TaskID        string
	ConversionID1 string
	ConversionID2 string
	ETA           float64
	Raw           map[string]interface{}
}

// StatusResult is a normalized status response together with its raw body.
type StatusResult struct {
	Conversion *model.ConversionResult
	Raw        json.RawMessage
}

// NewMusicClient creates a MusicGPT client. Outbound calls are throttled to
// cfg.RatePerSec; zero disables throttling.
func NewMusicClient(cfg *config.MusicConfig) *MusicClient {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &MusicClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter:    rate.NewLimiter(limit, 1),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		webhookURL: cfg.WebhookURL,
	}
}

// Generate starts a MusicAI task.
func (c *MusicClient) Generate(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("music provider: %w", ErrNotConfigured)
	}
	payload := *req
	if payload.WebhookURL == "" {
		payload.WebhookURL = c.webhookURL
	}

	body, err := c.post(ctx, "/MusicAI", &payload)
	if err != nil {
		return nil, err
	}

	raw, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	result := &GenerateMusicResponse{
		TaskID:        stringValue(raw["task_id"]),
		ConversionID1: stringValue(raw["conversion_id_1"]),
		ConversionID2: stringValue(raw["conversion_id_2"]),
		Raw:           raw,
	}
	if n, ok := raw["eta"].(json.Number); ok {
		result.ETA, _ = n.Float64()
	}
	if result.TaskID == "" {
		fiberlog.Warnf("[Music API] provider accepted the request without a task_id")
	}
	return result, nil
}

// Status fetches a task or conversion by id.
func (c *MusicClient) Status(ctx context.Context, id, conversionType, idType string) (*StatusResult, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("music provider: %w", ErrNotConfigured)
	}
	if conversionType == "" {
		conversionType = model.DefaultConversionType
	}
	if idType == "" {
		idType = model.DefaultIDType
	}

	query := url.Values{}
	query.Set("conversionType", conversionType)
	query.Set(idType, id)

	body, err := c.get(ctx, "/byId?"+query.Encode())
	if err != nil {
		return nil, err
	}

	conversion, err := model.ParseConversion(body)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Conversion: conversion, Raw: json.RawMessage(body)}, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *MusicClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *MusicClient) post(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req)
}

func (c *MusicClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req)
}

// doRequest executes an HTTP request and returns the raw body of a 2xx response.
func (c *MusicClient) doRequest(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("music provider throttle: %w", err)
	}

	// MusicGPT takes the raw key, no Bearer prefix.
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	fiberlog.Infof("[Music API] → %s %s", req.Method, req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		fiberlog.Errorf("[Music API] ✗ %s %s request failed: %v", req.Method, req.URL.Path, err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	fiberlog.Infof("[Music API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.Path)
	fiberlog.Debugf("[Music API] body: %s", string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(musicProvider, resp.StatusCode, respBody)
	}
	return respBody, nil
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return out, nil
}

// stringValue renders ids the provider sends as either strings or numbers.
func stringValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
