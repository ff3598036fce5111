package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one completed question/answer exchange.
type Interaction struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	SessionID          string    `json:"session_id"`
	Question           string    `json:"question"`
	StandaloneQuestion string    `json:"standalone_question"`
	Answer             string    `json:"answer"`
	Sources            string    `json:"sources"` // JSON array stored as text
	DurationMs         int64     `json:"duration_ms"`
}

// CollectionInfo summarizes a registered collection.
type CollectionInfo struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	CreatedAt time.Time `json:"created_at"`
	Passages  int       `json:"passages"`
}
