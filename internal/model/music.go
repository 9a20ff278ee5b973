package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FlexFloat accepts numbers and numeric strings; the provider sends both.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// ConversionResult is the flat view of a provider status response.
type ConversionResult struct {
	TaskID        string    `json:"task_id,omitempty"`
	ConversionID1 string    `json:"conversion_id_1,omitempty"`
	ConversionID2 string    `json:"conversion_id_2,omitempty"`
	Status        string    `json:"status,omitempty"`
	AudioURL1     string    `json:"conversion_path_1,omitempty"`
	AudioURL2     string    `json:"conversion_path_2,omitempty"`
	Title1        string    `json:"title_1,omitempty"`
	Title2        string    `json:"title_2,omitempty"`
	Lyrics1       string    `json:"lyrics_1,omitempty"`
	Lyrics2       string    `json:"lyrics_2,omitempty"`
	Duration1     FlexFloat `json:"conversion_duration_1,omitempty"`
	Duration2     FlexFloat `json:"conversion_duration_2,omitempty"`
	AlbumCover    string    `json:"album_cover_path,omitempty"`
}

// conversionFields is the superset of shapes the status endpoint returns.
type conversionFields struct {
	ConversionResult
	AudioURL string    `json:"conversion_path"`
	Title    string    `json:"title"`
	Lyrics   string    `json:"lyrics"`
	Duration FlexFloat `json:"conversion_duration"`
}

// ParseConversion normalizes a status response. The provider nests the result
// under "conversion" for some conversion types and returns it top-level for others.
func ParseConversion(body []byte) (*ConversionResult, error) {
	var envelope struct {
		Conversion json.RawMessage `json:"conversion"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}

	src := body
	if len(envelope.Conversion) > 0 && string(envelope.Conversion) != "null" {
		src = envelope.Conversion
	}

	var fields conversionFields
	if err := json.Unmarshal(src, &fields); err != nil {
		return nil, fmt.Errorf("decode conversion: %w", err)
	}

	result := fields.ConversionResult
	if result.AudioURL1 == "" {
		result.AudioURL1 = fields.AudioURL
	}
	if result.Title1 == "" {
		result.Title1 = fields.Title
	}
	if result.Lyrics1 == "" {
		result.Lyrics1 = fields.Lyrics
	}
	if result.Duration1 == 0 {
		result.Duration1 = fields.Duration
	}
	return &result, nil
}

// AudioURL returns the first available audio url.
func (r *ConversionResult) AudioURL() string {
	return firstNonEmpty(r.AudioURL1, r.AudioURL2)
}

// InternalStatus maps the provider status onto the internal vocabulary.
func (r *ConversionResult) InternalStatus() GenerationStatus {
	return GenerationStatusFromProvider(r.Status)
}

// ErrMissingTaskID is returned for callbacks without a task id.
var ErrMissingTaskID = errors.New("task_id is required")

// CallbackKind names the shape of a provider callback.
type CallbackKind string

const (
	CallbackMusicAI           CallbackKind = "music_ai"
	CallbackAlbumCover        CallbackKind = "album_cover"
	CallbackTimestampedLyrics CallbackKind = "lyrics_timestamped"
	CallbackStatus            CallbackKind = "status"
	CallbackUnrecognized      CallbackKind = "unrecognized"
)

// MusicCallback is one decoded provider callback.
type MusicCallback interface {
	Kind() CallbackKind
	Header() CallbackHeader
}

// CallbackHeader carries the identifiers every callback shape shares.
type CallbackHeader struct {
	TaskID       string `json:"-"`
	ConversionID string `json:"-"`
}

func (h CallbackHeader) Header() CallbackHeader { return h }

// MusicAICallback delivers a finished rendition.
type MusicAICallback struct {
	CallbackHeader
	Status     string    `json:"status"`
	AudioURL   string    `json:"conversion_path"`
	Title      string    `json:"title"`
	Lyrics     string    `json:"lyrics"`
	Duration   FlexFloat `json:"conversion_duration"`
	AlbumCover string    `json:"album_cover_path"`
}

func (MusicAICallback) Kind() CallbackKind { return CallbackMusicAI }

// AlbumCoverCallback delivers generated cover art.
type AlbumCoverCallback struct {
	CallbackHeader
	AlbumCoverPath string `json:"album_cover_path"`
}

func (AlbumCoverCallback) Kind() CallbackKind { return CallbackAlbumCover }

// TimestampedLyricsCallback delivers word-level lyric timings.
type TimestampedLyricsCallback struct {
	CallbackHeader
	LyricsTimestamped json.RawMessage `json:"lyrics_timestamped"`
}

func (TimestampedLyricsCallback) Kind() CallbackKind { return CallbackTimestampedLyrics }

// StatusCallback is a bare status change.
type StatusCallback struct {
	CallbackHeader
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (StatusCallback) Kind() CallbackKind { return CallbackStatus }

// UnrecognizedCallback keeps the raw body of a shape we do not handle.
type UnrecognizedCallback struct {
	CallbackHeader
	Raw json.RawMessage
}

func (UnrecognizedCallback) Kind() CallbackKind { return CallbackUnrecognized }

// ClassifyMusicCallback decodes a provider callback into its variant. The
// provider has no discriminant field, so shape is decided by field presence:
// lyrics_timestamped, then album cover (subtype or a cover without audio),
// then music_ai (conversion_path or subtype), then status.
func ClassifyMusicCallback(body []byte) (MusicCallback, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}

	header := CallbackHeader{
		TaskID:       scalarID(fields["task_id"]),
		ConversionID: scalarID(fields["conversion_id"]),
	}
	if header.TaskID == "" {
		return nil, ErrMissingTaskID
	}

	subtype := strings.ToLower(scalarID(fields["subtype"]))

	switch {
	case present(fields, "lyrics_timestamped"):
		cb := TimestampedLyricsCallback{CallbackHeader: header}
		if err := json.Unmarshal(body, &cb); err != nil {
			return nil, fmt.Errorf("decode timestamped lyrics callback: %w", err)
		}
		return cb, nil
	case subtype == string(CallbackAlbumCover) ||
		(present(fields, "album_cover_path") && !present(fields, "conversion_path")):
		cb := AlbumCoverCallback{CallbackHeader: header}
		if err := json.Unmarshal(body, &cb); err != nil {
			return nil, fmt.Errorf("decode album cover callback: %w", err)
		}
		return cb, nil
	case present(fields, "conversion_path") || subtype == string(CallbackMusicAI):
		cb := MusicAICallback{CallbackHeader: header}
		if err := json.Unmarshal(body, &cb); err != nil {
			return nil, fmt.Errorf("decode music_ai callback: %w", err)
		}
		return cb, nil
	case present(fields, "status"):
		cb := StatusCallback{CallbackHeader: header}
		if err := json.Unmarshal(body, &cb); err != nil {
			return nil, fmt.Errorf("decode status callback: %w", err)
		}
		return cb, nil
	default:
		return UnrecognizedCallback{CallbackHeader: header, Raw: json.RawMessage(body)}, nil
	}
}

// present reports whether key exists with a non-null, non-empty value.
func present(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != `""`
}
