package queue

import (
	"time"
)

// Priority orders pending tasks. Lower values dispatch first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Status is the task lifecycle state. Transitions are monotonic
// (Pending -> Running -> terminal) except the Pending -> Cancelled shortcut.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether a task in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Request describes the work a task performs. The scheduler treats it as
// opaque; only the executor interprets it.
type Request struct {
	URL           string
	Title         string
	OutputDir     string
	FormatID      string
	AudioFormatID string
	NoPlaylist    bool
	ProxyURL      string
	CookiesFile   string
}

// MergedFormatID combines video and audio format selectors the way the
// downstream downloader expects ("video+audio", or just the video selector
// when audio is default).
func (r Request) MergedFormatID() string {
	if r.AudioFormatID != "" && r.AudioFormatID != "best" {
		return r.FormatID + "+" + r.AudioFormatID
	}
	return r.FormatID
}

// Task is a queued unit of work. Once enqueued it is owned by the scheduler:
// all mutation happens under the service lock, and callers only ever see
// copies.
type Task struct {
	ID        string
	Priority  Priority
	CreatedAt time.Time
	Request   Request

	Status       Status
	Progress     float64
	Speed        string
	ETA          string
	FilePath     string
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time

	// seq breaks CreatedAt ties so ordering stays FIFO even when two tasks
	// share a timestamp.
	seq       uint64
	heapIndex int
}

// Update carries executor progress back into the scheduler.
type Update struct {
	Progress float64
	Speed    string
	ETA      string
	FilePath string
}

// Stats counts tasks per lifecycle state.
type Stats struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}
