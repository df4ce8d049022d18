package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/credits"
	"mediagen/internal/domain"
	"mediagen/internal/orchestrator"
	"mediagen/internal/pricing"
	"mediagen/internal/provider"
)

type taskStore struct {
	tasks map[string]*domain.GenerationTask
}

func newTaskStore(tasks ...*domain.GenerationTask) *taskStore {
	s := &taskStore{tasks: make(map[string]*domain.GenerationTask)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *taskStore) Create(_ context.Context, task *domain.GenerationTask) error {
	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

func (s *taskStore) GetByID(_ context.Context, id string) (*domain.GenerationTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *taskStore) ListByUser(context.Context, string, int) ([]domain.GenerationTask, error) {
	return nil, nil
}

func (s *taskStore) ListUnsettled(context.Context, time.Duration, int) ([]domain.GenerationTask, error) {
	return nil, nil
}

func (s *taskStore) MarkProcessing(context.Context, string) error { return nil }

func (s *taskStore) CompleteWithMedia(context.Context, string, time.Time, []domain.MediaFile) (bool, error) {
	return false, nil
}

func (s *taskStore) Fail(_ context.Context, id string, errMsg string, completedAt time.Time) (bool, error) {
	if t, ok := s.tasks[id]; ok && !t.Status.Terminal() {
		t.Status = domain.TaskStatusFailed
		t.ErrorMessage = errMsg
		t.CompletedAt = &completedAt
		return true, nil
	}
	return false, nil
}

func (s *taskStore) DeleteIfFailed(_ context.Context, id string) (bool, error) {
	if t, ok := s.tasks[id]; ok && t.Status == domain.TaskStatusFailed {
		delete(s.tasks, id)
		return true, nil
	}
	return false, nil
}

type billingStore struct {
	profile *domain.UserProfile
	entries []domain.CreditEntry
}

func (b *billingStore) GetByID(_ context.Context, id string) (*domain.UserProfile, error) {
	if b.profile == nil || b.profile.ID != id {
		return nil, domain.ErrNotFound
	}
	copied := *b.profile
	return &copied, nil
}

func (b *billingStore) Upsert(_ context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	copied := *p
	b.profile = &copied
	return p, nil
}

func (b *billingStore) DeductCredits(_ context.Context, _ string, amount int) (int, error) {
	if b.profile.Credits < amount {
		return 0, domain.ErrInsufficientCredits
	}
	b.profile.Credits -= amount
	return b.profile.Credits, nil
}

func (b *billingStore) DeductCreditsAndQuota(ctx context.Context, userID string, amount int) (int, error) {
	if b.profile.FreeGenerationsRemaining <= 0 {
		return 0, domain.ErrQuotaExhausted
	}
	b.profile.FreeGenerationsRemaining--
	return b.DeductCredits(ctx, userID, amount)
}

func (b *billingStore) ConsumeQuota(context.Context, string) (int, error) {
	if b.profile.FreeGenerationsRemaining <= 0 {
		return 0, domain.ErrQuotaExhausted
	}
	b.profile.FreeGenerationsRemaining--
	return b.profile.FreeGenerationsRemaining, nil
}

func (b *billingStore) AddCredits(_ context.Context, _ string, amount int) (int, error) {
	b.profile.Credits += amount
	return b.profile.Credits, nil
}

func (b *billingStore) RestoreQuota(context.Context, string) (int, error) {
	b.profile.FreeGenerationsRemaining++
	return b.profile.FreeGenerationsRemaining, nil
}

func (b *billingStore) Append(_ context.Context, entry *domain.CreditEntry) error {
	b.entries = append(b.entries, *entry)
	return nil
}

func (b *billingStore) ListByUser(context.Context, string, int) ([]domain.CreditEntry, error) {
	return nil, nil
}

type stubGateway struct {
	name      string
	nextJobID string
	submitErr error
	submitted []provider.SubmitRequest
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) Submit(_ context.Context, req provider.SubmitRequest) (string, error) {
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submitted = append(g.submitted, req)
	return g.nextJobID, nil
}

func (g *stubGateway) QueryStatus(context.Context, string) (*provider.JobStatus, error) {
	return &provider.JobStatus{State: provider.StateWaiting}, nil
}

func originalTask(status domain.TaskStatus) *domain.GenerationTask {
	return &domain.GenerationTask{
		ID:          "flux:job-1",
		UserID:      "u1",
		MediaType:   domain.MediaTypeImage,
		Provider:    "flux",
		Model:       "flux-schnell",
		Status:      status,
		Prompt:      "a lighthouse",
		CostCredits: 5,
		Params:      []byte(`{"width":512}`),
	}
}

func newTestManager(tasks *taskStore, billing *billingStore, gw *stubGateway) *Manager {
	creditSvc := credits.NewService(billing, billing, zerolog.Nop())
	orch := orchestrator.New(tasks, creditSvc, zerolog.Nop())
	registry := provider.NewRegistry()
	registry.Register(gw)
	return NewManager(tasks, creditSvc, orch, registry, pricing.Default(), "https://api.example.com/v1/callbacks", zerolog.Nop())
}

func TestRetryCreatesLinkedTask(t *testing.T) {
	tasks := newTaskStore(originalTask(domain.TaskStatusFailed))
	billing := &billingStore{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}}
	gw := &stubGateway{name: "flux", nextJobID: "job-2"}
	mgr := newTestManager(tasks, billing, gw)

	result, err := mgr.Retry(context.Background(), "u1", "flux:job-1", Options{})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if result.TaskID != "flux:job-2" {
		t.Fatalf("TaskID = %q, want flux:job-2", result.TaskID)
	}

	created := tasks.tasks["flux:job-2"]
	if created == nil {
		t.Fatal("new task not created")
	}
	if created.ParentTaskID == nil || *created.ParentTaskID != "flux:job-1" {
		t.Error("parent task id not set")
	}
	if created.Prompt != "a lighthouse" || created.Model != "flux-schnell" {
		t.Errorf("request not carried over: %+v", created)
	}
	if billing.profile.Credits != 95 {
		t.Errorf("balance = %d, want 95 after charging the retry", billing.profile.Credits)
	}
	if _, ok := tasks.tasks["flux:job-1"]; !ok {
		t.Error("original deleted without FromFailed")
	}
	if len(gw.submitted) != 1 || gw.submitted[0].CallbackURL != "https://api.example.com/v1/callbacks/flux" {
		t.Errorf("submission = %+v", gw.submitted)
	}
}

func TestRetryFromFailedDeletesOriginal(t *testing.T) {
	tasks := newTaskStore(originalTask(domain.TaskStatusFailed))
	billing := &billingStore{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}}
	gw := &stubGateway{name: "flux", nextJobID: "job-2"}
	mgr := newTestManager(tasks, billing, gw)

	if _, err := mgr.Retry(context.Background(), "u1", "flux:job-1", Options{FromFailed: true}); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if _, ok := tasks.tasks["flux:job-1"]; ok {
		t.Error("failed original not deleted")
	}
}

func TestRetryFromFailedKeepsCompletedOriginal(t *testing.T) {
	tasks := newTaskStore(originalTask(domain.TaskStatusCompleted))
	billing := &billingStore{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}}
	gw := &stubGateway{name: "flux", nextJobID: "job-2"}
	mgr := newTestManager(tasks, billing, gw)

	if _, err := mgr.Retry(context.Background(), "u1", "flux:job-1", Options{FromFailed: true}); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if _, ok := tasks.tasks["flux:job-1"]; !ok {
		t.Error("completed original must survive FromFailed")
	}
}

func TestFreeRetrySkipsBilling(t *testing.T) {
	tasks := newTaskStore(originalTask(domain.TaskStatusFailed))
	// Broke profile: a free retry must not care.
	billing := &billingStore{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 0}}
	gw := &stubGateway{name: "flux", nextJobID: "job-2"}
	mgr := newTestManager(tasks, billing, gw)

	result, err := mgr.Retry(context.Background(), "u1", "flux:job-1", Options{FreeRetry: true})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if result.Charged != 0 {
		t.Errorf("Charged = %d, want 0", result.Charged)
	}
	created := tasks.tasks["flux:job-2"]
	if !created.IsFreeRetry || created.CostCredits != 0 {
		t.Errorf("free retry task = %+v", created)
	}
	if billing.profile.Credits != 0 {
		t.Errorf("balance moved on a free retry: %d", billing.profile.Credits)
	}
}

func TestRetryPrecheckBeforeSubmit(t *testing.T) {
	tasks := newTaskStore(originalTask(domain.TaskStatusFailed))
	billing := &billingStore{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 1, FreeGenerationsRemaining: 5}}
	gw := &stubGateway{name: "flux", nextJobID: "job-2"}
	mgr := newTestManager(tasks, billing, gw)

	_, err := mgr.Retry(context.Background(), "u1", "flux:job-1", Options{})
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("error = %v, want ErrInsufficientCredits", err)
	}
	if len(gw.submitted) != 0 {
		t.Error("provider submission happened despite failed precheck")
	}
}

func TestRetrySubmitFailure(t *testing.T) {
	tasks := newTaskStore(originalTask(domain.TaskStatusFailed))
	billing := &billingStore{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}}
	gw := &stubGateway{name: "flux", submitErr: errors.New("503")}
	mgr := newTestManager(tasks, billing, gw)

	_, err := mgr.Retry(context.Background(), "u1", "flux:job-1", Options{})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
	if len(tasks.tasks) != 1 {
		t.Error("task created despite submit failure")
	}
	if billing.profile.Credits != 100 {
		t.Errorf("balance = %d, want untouched 100", billing.profile.Credits)
	}
}

func TestRetryWrongOwner(t *testing.T) {
	tasks := newTaskStore(originalTask(domain.TaskStatusFailed))
	billing := &billingStore{profile: &domain.UserProfile{ID: "u2", MembershipTier: domain.TierCredits, Credits: 100}}
	gw := &stubGateway{name: "flux", nextJobID: "job-2"}
	mgr := newTestManager(tasks, billing, gw)

	if _, err := mgr.Retry(context.Background(), "u2", "flux:job-1", Options{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

func TestResumeReturnsRequestData(t *testing.T) {
	task := originalTask(domain.TaskStatusFailed)
	task.OptimizedPrompt = "A lighthouse, high quality, detailed"
	task.PromptOptimized = true
	tasks := newTaskStore(task)
	billing := &billingStore{profile: &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits}}
	mgr := newTestManager(tasks, billing, &stubGateway{name: "flux"})

	data, err := mgr.Resume(context.Background(), "u1", "flux:job-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if data.Prompt != "a lighthouse" || !data.PromptOptimized {
		t.Errorf("resume data = %+v", data)
	}
	if data.Status != string(domain.TaskStatusFailed) {
		t.Errorf("status = %q, failed tasks must stay resumable", data.Status)
	}
}

func TestCallbackURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.example.com/v1/callbacks", "https://api.example.com/v1/callbacks/flux"},
		{"https://api.example.com/v1/callbacks/", "https://api.example.com/v1/callbacks/flux"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CallbackURL(tt.base, "flux"); got != tt.want {
			t.Errorf("CallbackURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
