package model

// WebSocket message types
const (
	WSMessageTypeVariation = "variation"
	WSMessageTypeReady     = "ready"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSVariationMessage announces audio for one variation of a form's song.
type WSVariationMessage struct {
	Type        string `json:"type"`
	FormID      string `json:"formId"`
	SongIndex   int    `json:"songIndex"`
	VariationID string `json:"variationId"`
	AudioURL    string `json:"audioUrl"`
}

// WSReadyMessage announces that a form reached variations_ready.
type WSReadyMessage struct {
	Type      string `json:"type"`
	FormID    string `json:"formId"`
	SongIndex int    `json:"songIndex"`
}
