package domain

import (
	"strings"
	"time"
)

// MediaType enumerates the supported generation media kinds.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Valid reports whether the media type is one of the supported kinds.
func (m MediaType) Valid() bool {
	return m == MediaTypeImage || m == MediaTypeVideo
}

// TaskStatus enumerates the local task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// GenerationTask is one user-requested generation job. Its primary key is the
// provider's own job identifier, namespaced by provider name, so a row only
// ever exists for a job the upstream vendor has already accepted.
type GenerationTask struct {
	ID              string
	UserID          string
	MediaType       MediaType
	Provider        string
	Model           string
	Status          TaskStatus
	Prompt          string
	OptimizedPrompt string
	PromptOptimized bool
	InputURLs       []string
	Params          []byte
	CostCredits     int
	ErrorMessage    string
	ParentTaskID    *string
	IsFreeRetry     bool
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// TaskID builds the namespaced task key for a vendor job identifier. Two
// vendors may hand out colliding job ids; the prefix keeps the keys disjoint.
func TaskID(provider, jobID string) string {
	return provider + ":" + jobID
}

// SplitTaskID returns the provider prefix and the raw vendor job id.
func SplitTaskID(taskID string) (provider, jobID string) {
	if i := strings.IndexByte(taskID, ':'); i >= 0 {
		return taskID[:i], taskID[i+1:]
	}
	return "", taskID
}
