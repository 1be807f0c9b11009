package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Response kinds.
const (
	KindChat   = "chat"
	KindUpload = "upload"
)

// Response is one assistant reply as it was produced.
type Response struct {
	ID          string
	CreatedAt   time.Time
	SessionID   string
	Kind        string // KindChat or KindUpload
	Model       string
	UserMessage string
	Reply       string
	Fallback    bool
	Transmitted int // messages sent upstream for this reply
}

// Generation is one backlog generation.
type Generation struct {
	ID        string
	CreatedAt time.Time
	Model     string
	Source    string
	ItemCount int
	SetJSON   string // the full backlog set, JSON encoded
}
