package reconcile

import (
	"mediagen/internal/domain"
	"mediagen/internal/provider"
)

// Action is what an observed provider state requires locally.
type Action int

const (
	// ActionNone: the task is already terminal, or the observation adds
	// nothing. The guaranteed no-op that makes both channels safe to race.
	ActionNone Action = iota
	// ActionProgress: upgrade pending to processing.
	ActionProgress
	// ActionComplete: record media files and flip to completed.
	ActionComplete
	// ActionFail: flip to failed with the provider's message.
	ActionFail
)

// Decision is the outcome of folding one provider observation.
type Decision struct {
	Action       Action
	ResultURLs   []string
	ErrorMessage string
}

// Fold merges an observed provider state into a local task state. It is pure,
// total and idempotent: terminal local states always win, and feeding the
// same observation twice yields the same decision. Both the callback handler
// and the poller call exactly this function; its idempotency is the only
// concurrency control the reconciliation path needs.
func Fold(task *domain.GenerationTask, status provider.JobStatus) Decision {
	if task.Status.Terminal() {
		return Decision{Action: ActionNone}
	}
	switch status.State {
	case provider.StateSuccess:
		if len(status.ResultURLs) == 0 {
			return Decision{Action: ActionFail, ErrorMessage: "provider reported success without results"}
		}
		return Decision{Action: ActionComplete, ResultURLs: status.ResultURLs}
	case provider.StateFail:
		msg := status.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		if status.ErrorCode != "" {
			msg = msg + " (" + status.ErrorCode + ")"
		}
		return Decision{Action: ActionFail, ErrorMessage: msg}
	case provider.StateGenerating:
		if task.Status == domain.TaskStatusPending {
			return Decision{Action: ActionProgress}
		}
		return Decision{Action: ActionNone}
	default:
		return Decision{Action: ActionNone}
	}
}
