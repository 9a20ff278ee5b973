package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// MusicGeneration tracks one provider task. The provider renders two versions
// per task; their fields live in parallel slots 1 and 2.
type MusicGeneration struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	TaskID          string           `gorm:"size:128;not null;uniqueIndex" json:"taskId"`
	UserID          *string          `gorm:"size:64;index" json:"userId"`
	GeneratedPrompt string           `gorm:"type:text" json:"generatedPrompt"`
	MusicStyle      string           `gorm:"size:255" json:"musicStyle,omitempty"`
	Preview         bool             `gorm:"not null;default:false" json:"preview"`
	Status          GenerationStatus `gorm:"size:32;not null;index" json:"status"`

	AudioURL1          string         `gorm:"column:audio_url_1;size:1024" json:"audioUrl1,omitempty"`
	AudioURL2          string         `gorm:"column:audio_url_2;size:1024" json:"audioUrl2,omitempty"`
	Title1             string         `gorm:"column:title_1;size:255" json:"title1,omitempty"`
	Title2             string         `gorm:"column:title_2;size:255" json:"title2,omitempty"`
	Lyrics1            string         `gorm:"column:lyrics_1;type:text" json:"lyrics1,omitempty"`
	Lyrics2            string         `gorm:"column:lyrics_2;type:text" json:"lyrics2,omitempty"`
	Duration1          float64        `gorm:"column:duration_1" json:"duration1,omitempty"`
	Duration2          float64        `gorm:"column:duration_2" json:"duration2,omitempty"`
	ConversionID1      string         `gorm:"column:conversion_id_1;size:128;index" json:"conversionId1,omitempty"`
	ConversionID2      string         `gorm:"column:conversion_id_2;size:128;index" json:"conversionId2,omitempty"`
	AlbumCover1        string         `gorm:"column:album_cover_1;size:1024" json:"albumCover1,omitempty"`
	AlbumCover2        string         `gorm:"column:album_cover_2;size:1024" json:"albumCover2,omitempty"`
	LyricsTimestamped1 datatypes.JSON `gorm:"column:lyrics_timestamped_1" json:"lyricsTimestamped1,omitempty"`
	LyricsTimestamped2 datatypes.JSON `gorm:"column:lyrics_timestamped_2" json:"lyricsTimestamped2,omitempty"`
	ArchiveURL1        string         `gorm:"column:archive_url_1;size:1024" json:"archiveUrl1,omitempty"`
	ArchiveURL2        string         `gorm:"column:archive_url_2;size:1024" json:"archiveUrl2,omitempty"`

	ShareSlugV1    string         `gorm:"column:share_slug_v1;size:32;uniqueIndex" json:"shareSlugV1"`
	ShareSlugV2    string         `gorm:"column:share_slug_v2;size:32;uniqueIndex" json:"shareSlugV2"`
	StatusResponse datatypes.JSON `json:"-"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// SlotColumn returns the column holding field for slot 1 or 2, e.g. audio_url_2.
func SlotColumn(field string, slot int) string {
	return fmt.Sprintf("%s_%d", field, slot)
}

// SlotForConversion returns 1 or 2 when conversionID matches a stored slot, 0 otherwise.
func (g *MusicGeneration) SlotForConversion(conversionID string) int {
	switch {
	case conversionID == "":
		return 0
	case conversionID == g.ConversionID1:
		return 1
	case conversionID == g.ConversionID2:
		return 2
	default:
		return 0
	}
}

// SlotForAudio returns the slot whose audio (original or archived) equals url, 0 otherwise.
func (g *MusicGeneration) SlotForAudio(url string) int {
	switch {
	case url == "":
		return 0
	case url == g.AudioURL1 || url == g.ArchiveURL1:
		return 1
	case url == g.AudioURL2 || url == g.ArchiveURL2:
		return 2
	default:
		return 0
	}
}

// SharedSong is the public view of one generated version.
type SharedSong struct {
	Slug       string  `json:"slug"`
	Title      string  `json:"title"`
	AudioURL   string  `json:"audioUrl"`
	Lyrics     string  `json:"lyrics,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	AlbumCover string  `json:"albumCover,omitempty"`
	Status     string  `json:"status"`
}

// Shared builds the public view of slot 1 or 2, preferring the archived audio copy.
func (g *MusicGeneration) Shared(slot int) SharedSong {
	s := SharedSong{Status: string(g.Status)}
	if slot == 2 {
		s.Slug, s.Title, s.Lyrics, s.Duration, s.AlbumCover = g.ShareSlugV2, g.Title2, g.Lyrics2, g.Duration2, g.AlbumCover2
		s.AudioURL = firstNonEmpty(g.ArchiveURL2, g.AudioURL2)
		return s
	}
	s.Slug, s.Title, s.Lyrics, s.Duration, s.AlbumCover = g.ShareSlugV1, g.Title1, g.Lyrics1, g.Duration1, g.AlbumCover1
	s.AudioURL = firstNonEmpty(g.ArchiveURL1, g.AudioURL1)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
