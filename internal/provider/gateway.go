package provider

import (
	"context"
	"strings"

	"mediagen/internal/domain"
)

// JobState is the vendor-side lifecycle vocabulary.
type JobState string

const (
	StateWaiting    JobState = "waiting"
	StateQueued     JobState = "queued"
	StateGenerating JobState = "generating"
	StateSuccess    JobState = "success"
	StateFail       JobState = "fail"
)

// Terminal reports whether the vendor will never change this state again.
func (s JobState) Terminal() bool {
	return s == StateSuccess || s == StateFail
}

// NormalizeState folds the status strings seen across vendors into the
// canonical vocabulary. Unknown strings map to waiting so an odd vendor
// response never fakes a terminal transition.
func NormalizeState(raw string) JobState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "completed", "complete", "done":
		return StateSuccess
	case "fail", "failed", "error", "cancelled", "canceled":
		return StateFail
	case "generating", "processing", "running", "in_progress":
		return StateGenerating
	case "queued", "pending":
		return StateQueued
	default:
		return StateWaiting
	}
}

// SubmitRequest is a fully validated generation request.
type SubmitRequest struct {
	Model       string
	MediaType   domain.MediaType
	Prompt      string
	InputURLs   []string
	Params      map[string]any
	CallbackURL string
}

// JobStatus is the vendor's view of a job.
type JobStatus struct {
	State        JobState
	ResultURLs   []string
	ErrorCode    string
	ErrorMessage string
}

// Gateway is the uniform contract every vendor client satisfies. Submit is
// not idempotent; QueryStatus is.
type Gateway interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (jobID string, err error)
	QueryStatus(ctx context.Context, jobID string) (*JobStatus, error)
}
