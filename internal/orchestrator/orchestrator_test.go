package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/credits"
	"mediagen/internal/domain"
)

type fakeTasks struct {
	created   []*domain.GenerationTask
	failed    []string
	createErr error
}

func (f *fakeTasks) Create(_ context.Context, task *domain.GenerationTask) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *task
	f.created = append(f.created, &copied)
	return nil
}

func (f *fakeTasks) GetByID(_ context.Context, id string) (*domain.GenerationTask, error) {
	for _, t := range f.created {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTasks) ListByUser(context.Context, string, int) ([]domain.GenerationTask, error) {
	return nil, nil
}

func (f *fakeTasks) ListUnsettled(context.Context, time.Duration, int) ([]domain.GenerationTask, error) {
	return nil, nil
}

func (f *fakeTasks) MarkProcessing(context.Context, string) error { return nil }

func (f *fakeTasks) CompleteWithMedia(context.Context, string, time.Time, []domain.MediaFile) (bool, error) {
	return false, nil
}

func (f *fakeTasks) Fail(_ context.Context, id string, _ string, _ time.Time) (bool, error) {
	f.failed = append(f.failed, id)
	return true, nil
}

func (f *fakeTasks) DeleteIfFailed(context.Context, string) (bool, error) { return false, nil }

type fakeBilling struct {
	profile   *domain.UserProfile
	deductErr error
	deducted  int
	entries   []domain.CreditEntry
}

func (f *fakeBilling) GetByID(_ context.Context, id string) (*domain.UserProfile, error) {
	if f.profile == nil || f.profile.ID != id {
		return nil, domain.ErrNotFound
	}
	copied := *f.profile
	return &copied, nil
}

func (f *fakeBilling) Upsert(_ context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	copied := *p
	f.profile = &copied
	return p, nil
}

func (f *fakeBilling) DeductCredits(_ context.Context, _ string, amount int) (int, error) {
	if f.deductErr != nil {
		return 0, f.deductErr
	}
	f.profile.Credits -= amount
	f.deducted += amount
	return f.profile.Credits, nil
}

func (f *fakeBilling) DeductCreditsAndQuota(ctx context.Context, userID string, amount int) (int, error) {
	if f.deductErr != nil {
		return 0, f.deductErr
	}
	f.profile.FreeGenerationsRemaining--
	return f.DeductCredits(ctx, userID, amount)
}

func (f *fakeBilling) ConsumeQuota(context.Context, string) (int, error) {
	if f.deductErr != nil {
		return 0, f.deductErr
	}
	f.profile.FreeGenerationsRemaining--
	return f.profile.FreeGenerationsRemaining, nil
}

func (f *fakeBilling) AddCredits(_ context.Context, _ string, amount int) (int, error) {
	f.profile.Credits += amount
	return f.profile.Credits, nil
}

func (f *fakeBilling) RestoreQuota(context.Context, string) (int, error) {
	f.profile.FreeGenerationsRemaining++
	return f.profile.FreeGenerationsRemaining, nil
}

func (f *fakeBilling) Append(_ context.Context, entry *domain.CreditEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeBilling) ListByUser(context.Context, string, int) ([]domain.CreditEntry, error) {
	return nil, nil
}

func validRequest() Request {
	return Request{
		UserID:    "u1",
		Provider:  "flux",
		JobID:     "job-42",
		Model:     "flux-schnell",
		MediaType: domain.MediaTypeImage,
		Mode:      ModeTextToImage,
		Prompt:    "a lighthouse at dusk",
		Cost:      10,
	}
}

func newOrchestrator(tasks *fakeTasks, billing *fakeBilling) *Orchestrator {
	svc := credits.NewService(billing, billing, zerolog.Nop())
	return New(tasks, svc, zerolog.Nop())
}

func TestPrepareGenerationSuccess(t *testing.T) {
	tasks := &fakeTasks{}
	billing := &fakeBilling{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}}
	orch := newOrchestrator(tasks, billing)

	result, err := orch.PrepareGeneration(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("PrepareGeneration() error = %v", err)
	}
	if result.TaskID != "flux:job-42" {
		t.Errorf("TaskID = %q, want namespaced flux:job-42", result.TaskID)
	}
	if result.Charged != 10 || result.Balance != 90 {
		t.Errorf("result = %+v, want Charged 10 Balance 90", result)
	}
	if len(tasks.created) != 1 {
		t.Fatalf("created %d tasks, want 1", len(tasks.created))
	}
	if tasks.created[0].Status != domain.TaskStatusPending {
		t.Errorf("task status = %q, want pending", tasks.created[0].Status)
	}
}

func TestPrepareGenerationValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing user", func(r *Request) { r.UserID = "" }},
		{"missing provider", func(r *Request) { r.Provider = "" }},
		{"missing job id", func(r *Request) { r.JobID = "" }},
		{"missing model", func(r *Request) { r.Model = "" }},
		{"bad media type", func(r *Request) { r.MediaType = "audio" }},
		{"missing prompt", func(r *Request) { r.Prompt = "  " }},
		{"negative cost", func(r *Request) { r.Cost = -1 }},
		{"unknown mode", func(r *Request) { r.Mode = "style_transfer" }},
		{"image to image without inputs", func(r *Request) { r.Mode = ModeImageToImage }},
	}
	tasks := &fakeTasks{}
	billing := &fakeBilling{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}}
	orch := newOrchestrator(tasks, billing)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := orch.PrepareGeneration(context.Background(), req)
			if CodeOf(err) != CodeInvalidRequest {
				t.Fatalf("error code = %q, want %q (err %v)", CodeOf(err), CodeInvalidRequest, err)
			}
		})
	}
	if len(tasks.created) != 0 {
		t.Errorf("invalid requests created %d tasks", len(tasks.created))
	}
}

func TestPrepareGenerationInsufficientCredits(t *testing.T) {
	tasks := &fakeTasks{}
	billing := &fakeBilling{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 3, FreeGenerationsRemaining: 5}}
	orch := newOrchestrator(tasks, billing)

	_, err := orch.PrepareGeneration(context.Background(), validRequest())
	if CodeOf(err) != CodeInsufficientCredits {
		t.Fatalf("error code = %q, want %q", CodeOf(err), CodeInsufficientCredits)
	}
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Errorf("error does not wrap ErrInsufficientCredits: %v", err)
	}
	if len(tasks.created) != 0 {
		t.Error("task created despite failed precheck")
	}
}

func TestPrepareGenerationTaskCreationFailure(t *testing.T) {
	tasks := &fakeTasks{createErr: errors.New("db down")}
	billing := &fakeBilling{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}}
	orch := newOrchestrator(tasks, billing)

	_, err := orch.PrepareGeneration(context.Background(), validRequest())
	if CodeOf(err) != CodeTaskCreationFailed {
		t.Fatalf("error code = %q, want %q", CodeOf(err), CodeTaskCreationFailed)
	}
	if billing.deducted != 0 {
		t.Errorf("deducted %d credits for an unpersisted task", billing.deducted)
	}
}

func TestPrepareGenerationDeductionFailureMarksTaskFailed(t *testing.T) {
	tasks := &fakeTasks{}
	billing := &fakeBilling{
		profile:   &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5},
		deductErr: errors.New("write timeout"),
	}
	orch := newOrchestrator(tasks, billing)

	_, err := orch.PrepareGeneration(context.Background(), validRequest())
	if CodeOf(err) != CodeCreditDeductionFailed {
		t.Fatalf("error code = %q, want %q", CodeOf(err), CodeCreditDeductionFailed)
	}
	if len(tasks.failed) != 1 || tasks.failed[0] != "flux:job-42" {
		t.Errorf("failed tasks = %v, want the created task marked failed", tasks.failed)
	}
}

func TestPrepareGenerationFreeTierRecordsZeroCost(t *testing.T) {
	tasks := &fakeTasks{}
	billing := &fakeBilling{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierFree, FreeGenerationsRemaining: 2}}
	orch := newOrchestrator(tasks, billing)

	result, err := orch.PrepareGeneration(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("PrepareGeneration() error = %v", err)
	}
	if result.Charged != 0 {
		t.Errorf("Charged = %d, want 0", result.Charged)
	}
	if tasks.created[0].CostCredits != 0 {
		t.Errorf("CostCredits = %d, want 0 for free tier", tasks.created[0].CostCredits)
	}
	if billing.profile.FreeGenerationsRemaining != 1 {
		t.Errorf("quota = %d, want 1", billing.profile.FreeGenerationsRemaining)
	}
}

func TestPrepareGenerationFreeRetrySkipsBilling(t *testing.T) {
	tasks := &fakeTasks{}
	// No profile at all: a free retry must never touch billing.
	billing := &fakeBilling{}
	orch := newOrchestrator(tasks, billing)

	parent := "flux:job-1"
	req := validRequest()
	req.ParentTaskID = &parent
	req.IsFreeRetry = true

	result, err := orch.PrepareGeneration(context.Background(), req)
	if err != nil {
		t.Fatalf("PrepareGeneration() error = %v", err)
	}
	if result.Charged != 0 {
		t.Errorf("Charged = %d, want 0", result.Charged)
	}
	if tasks.created[0].ParentTaskID == nil || *tasks.created[0].ParentTaskID != parent {
		t.Error("parent task id not recorded")
	}
	if !tasks.created[0].IsFreeRetry {
		t.Error("IsFreeRetry not recorded")
	}
}
