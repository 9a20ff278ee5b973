package model

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ComposeForm is a pre-payment, possibly multi-song order draft.
type ComposeForm struct {
	ID              string     `gorm:"primaryKey;size:64"`
	PackageType     string     `gorm:"size:64;not null"`
	SongCount       int        `gorm:"not null;default:1"`
	Status          FormStatus `gorm:"size:32;not null;index"`
	UserID          *string    `gorm:"size:64;index"`
	StripeSessionID *string    `gorm:"size:255;index"`

	FormData         datatypes.JSON
	GeneratedPrompts datatypes.JSON
	ExpiresAt        time.Time
	DeliveredAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Songs []ComposeSong `gorm:"foreignKey:FormID;constraint:OnDelete:CASCADE"`
}

// ComposeSong is one song of a form.
type ComposeSong struct {
	ID                 uint   `gorm:"primaryKey"`
	FormID             string `gorm:"size:64;not null;uniqueIndex:idx_compose_song"`
	SongIndex          int    `gorm:"not null;uniqueIndex:idx_compose_song"`
	SelectedVariations datatypes.JSON
	Variations         []ComposeVariation `gorm:"foreignKey:SongID;constraint:OnDelete:CASCADE"`
}

// ComposeVariation is one rendition of a song. Variations created from a task
// list take the 1-based position of their task as VariationID.
type ComposeVariation struct {
	ID          uint   `gorm:"primaryKey"`
	SongID      uint   `gorm:"not null;uniqueIndex:idx_compose_variation"`
	VariationID string `gorm:"size:16;not null;uniqueIndex:idx_compose_variation"`
	FormID      string `gorm:"size:64;not null;index"`
	SongIndex   int    `gorm:"not null"`
	TaskID      string `gorm:"size:128;index"`
	AudioURL    string `gorm:"size:1024"`
	Lyrics      string `gorm:"type:text"`
	Title       string `gorm:"size:255"`
}

// SongKey renders a song index the way the API keys its maps.
func SongKey(index int) string {
	return strconv.Itoa(index)
}

// ParseSongKey parses a map key back into a song index.
func ParseSongKey(key string) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// VariationKey renders the 1-based variation id for a task list position.
func VariationKey(position int) string {
	return strconv.Itoa(position + 1)
}

// AudioCount returns how many variations of the song have audio.
func (s *ComposeSong) AudioCount() int {
	n := 0
	for _, v := range s.Variations {
		if v.AudioURL != "" {
			n++
		}
	}
	return n
}

// HasAllVariations reports whether the song reached the expected variation count.
func (s *ComposeSong) HasAllVariations() bool {
	return s.AudioCount() >= ExpectedVariationCount
}

// Selection returns the chosen variation ids. The stored value may be a single
// id (string or number) or a list of ids.
func (s *ComposeSong) Selection() []string {
	return ParseSelection(s.SelectedVariations)
}

// ParseSelection decodes a selectedVariations entry.
func ParseSelection(raw []byte) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			if id := scalarID(item); id != "" {
				out = append(out, id)
			}
		}
		return out
	}
	if id := scalarID(raw); id != "" {
		return []string{id}
	}
	return nil
}

func scalarID(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// AnySongReady reports whether any song of the form has all its variations.
func (f *ComposeForm) AnySongReady() bool {
	for i := range f.Songs {
		if f.Songs[i].HasAllVariations() {
			return true
		}
	}
	return false
}

// ComposeFormView is the wire shape of a compose form. Per-song data is keyed
// by stringified song index, and per-variation data by variation id.
type ComposeFormView struct {
	ID                 string                       `json:"id"`
	PackageType        string                       `json:"packageType"`
	SongCount          int                          `json:"songCount"`
	FormData           json.RawMessage              `json:"formData"`
	GeneratedPrompts   json.RawMessage              `json:"generatedPrompts"`
	VariationTaskIDs   map[string][]string          `json:"variationTaskIds"`
	VariationAudioURLs map[string]map[string]string `json:"variationAudioUrls"`
	VariationLyrics    map[string]map[string]string `json:"variationLyrics"`
	VariationTitles    map[string]map[string]string `json:"variationTitles"`
	SelectedVariations map[string]json.RawMessage   `json:"selectedVariations"`
	Status             FormStatus                   `json:"status"`
	UserID             *string                      `json:"userId"`
	StripeSessionID    *string                      `json:"stripeSessionId"`
	ExpiresAt          time.Time                    `json:"expiresAt"`
	DeliveredAt        *time.Time                   `json:"deliveredAt,omitempty"`
	CreatedAt          time.Time                    `json:"createdAt"`
	UpdatedAt          time.Time                    `json:"updatedAt"`
}

// View assembles the wire shape from the form and its preloaded songs.
func (f *ComposeForm) View() ComposeFormView {
	v := ComposeFormView{
		ID:                 f.ID,
		PackageType:        f.PackageType,
		SongCount:          f.SongCount,
		FormData:           rawOrNull(f.FormData),
		GeneratedPrompts:   rawOrNull(f.GeneratedPrompts),
		VariationTaskIDs:   map[string][]string{},
		VariationAudioURLs: map[string]map[string]string{},
		VariationLyrics:    map[string]map[string]string{},
		VariationTitles:    map[string]map[string]string{},
		SelectedVariations: map[string]json.RawMessage{},
		Status:             f.Status,
		UserID:             f.UserID,
		StripeSessionID:    f.StripeSessionID,
		ExpiresAt:          f.ExpiresAt,
		DeliveredAt:        f.DeliveredAt,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}

	for _, song := range f.Songs {
		key := SongKey(song.SongIndex)
		if len(song.SelectedVariations) > 0 {
			v.SelectedVariations[key] = json.RawMessage(song.SelectedVariations)
		}

		variations := append([]ComposeVariation(nil), song.Variations...)
		sort.Slice(variations, func(i, j int) bool {
			return variationLess(variations[i].VariationID, variations[j].VariationID)
		})

		for _, variation := range variations {
			if variation.TaskID != "" {
				v.VariationTaskIDs[key] = append(v.VariationTaskIDs[key], variation.TaskID)
			}
			putNested(v.VariationAudioURLs, key, variation.VariationID, variation.AudioURL)
			putNested(v.VariationLyrics, key, variation.VariationID, variation.Lyrics)
			putNested(v.VariationTitles, key, variation.VariationID, variation.Title)
		}
	}

	return v
}

func putNested(m map[string]map[string]string, outer, inner, value string) {
	if value == "" {
		return
	}
	if m[outer] == nil {
		m[outer] = map[string]string{}
	}
	m[outer][inner] = value
}

// variationLess orders numeric ids numerically and everything else lexically after them.
func variationLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

func rawOrNull(b datatypes.JSON) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
