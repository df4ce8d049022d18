package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/credits"
	"mediagen/internal/domain"
	"mediagen/internal/http/handlers"
	"mediagen/internal/http/httpapi"
	"mediagen/internal/infra"
	"mediagen/internal/middleware"
	"mediagen/internal/orchestrator"
	"mediagen/internal/pricing"
	"mediagen/internal/prompt"
	"mediagen/internal/provider"
	"mediagen/internal/reconcile"
	"mediagen/internal/retry"
)

// memStore backs every repository interface for end to end handler tests.
type memStore struct {
	profiles map[string]*domain.UserProfile
	tasks    map[string]*domain.GenerationTask
	media    map[string][]domain.MediaFile
	entries  []domain.CreditEntry
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[string]*domain.UserProfile),
		tasks:    make(map[string]*domain.GenerationTask),
		media:    make(map[string][]domain.MediaFile),
	}
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.UserProfile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *memStore) Upsert(_ context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	copied := *p
	s.profiles[p.ID] = &copied
	out := copied
	return &out, nil
}

func (s *memStore) DeductCredits(_ context.Context, userID string, amount int) (int, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if p.Credits < amount {
		return 0, domain.ErrInsufficientCredits
	}
	p.Credits -= amount
	return p.Credits, nil
}

func (s *memStore) DeductCreditsAndQuota(ctx context.Context, userID string, amount int) (int, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if p.FreeGenerationsRemaining <= 0 {
		return 0, domain.ErrQuotaExhausted
	}
	p.FreeGenerationsRemaining--
	return s.DeductCredits(ctx, userID, amount)
}

func (s *memStore) ConsumeQuota(_ context.Context, userID string) (int, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if p.FreeGenerationsRemaining <= 0 {
		return 0, domain.ErrQuotaExhausted
	}
	p.FreeGenerationsRemaining--
	return p.FreeGenerationsRemaining, nil
}

func (s *memStore) AddCredits(_ context.Context, userID string, amount int) (int, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	p.Credits += amount
	return p.Credits, nil
}

func (s *memStore) RestoreQuota(_ context.Context, userID string) (int, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	p.FreeGenerationsRemaining++
	return p.FreeGenerationsRemaining, nil
}

func (s *memStore) Append(_ context.Context, entry *domain.CreditEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	var out []domain.CreditEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, task *domain.GenerationTask) error {
	copied := *task
	copied.CreatedAt = time.Now()
	s.tasks[task.ID] = &copied
	return nil
}

func (s *memStore) GetTaskByID(_ context.Context, id string) (*domain.GenerationTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *memStore) ListTasksByUser(_ context.Context, userID string, limit int) ([]domain.GenerationTask, error) {
	var out []domain.GenerationTask
	for _, t := range s.tasks {
		if t.UserID == userID && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) ListUnsettled(context.Context, time.Duration, int) ([]domain.GenerationTask, error) {
	return nil, nil
}

func (s *memStore) MarkProcessing(_ context.Context, id string) error {
	if t, ok := s.tasks[id]; ok && t.Status == domain.TaskStatusPending {
		t.Status = domain.TaskStatusProcessing
	}
	return nil
}

func (s *memStore) CompleteWithMedia(_ context.Context, id string, completedAt time.Time, files []domain.MediaFile) (bool, error) {
	t, ok := s.tasks[id]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	t.Status = domain.TaskStatusCompleted
	t.CompletedAt = &completedAt
	s.media[id] = append(s.media[id], files...)
	return true, nil
}

func (s *memStore) Fail(_ context.Context, id string, errMsg string, completedAt time.Time) (bool, error) {
	t, ok := s.tasks[id]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	t.Status = domain.TaskStatusFailed
	t.ErrorMessage = errMsg
	t.CompletedAt = &completedAt
	return true, nil
}

func (s *memStore) DeleteIfFailed(_ context.Context, id string) (bool, error) {
	if t, ok := s.tasks[id]; ok && t.Status == domain.TaskStatusFailed {
		delete(s.tasks, id)
		return true, nil
	}
	return false, nil
}

func (s *memStore) ListByTask(_ context.Context, taskID string) ([]domain.MediaFile, error) {
	return s.media[taskID], nil
}

func (s *memStore) CountByTask(_ context.Context, taskID string) (int, error) {
	return len(s.media[taskID]), nil
}

func (s *memStore) DailySummary(context.Context, int) ([]domain.DailyStat, error) {
	return []domain.DailyStat{{Day: "2025-06-01", Submitted: 3, Completed: 2, Failed: 1}}, nil
}

// taskRepo adapts memStore to domain.TaskRepository without clashing with the
// profile repository method set.
type taskRepo struct{ *memStore }

func (r taskRepo) GetByID(ctx context.Context, id string) (*domain.GenerationTask, error) {
	return r.GetTaskByID(ctx, id)
}

func (r taskRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.GenerationTask, error) {
	return r.ListTasksByUser(ctx, userID, limit)
}

const testSecret = "handler-test-secret"

func newTestServer(t *testing.T, store *memStore, gw provider.Gateway) *httptest.Server {
	t.Helper()

	cfg := &infra.Config{
		AppEnv:          "test",
		JWTSecret:       testSecret,
		CallbackBaseURL: "http://localhost:8080/v1/callbacks",
		RateLimitPerMin: 1000,
		AllowedOrigins:  []string{"http://localhost:3000"},
	}
	logger := zerolog.Nop()
	tasks := taskRepo{store}
	creditSvc := credits.NewService(store, store, logger)
	orch := orchestrator.New(tasks, creditSvc, logger)
	registry := provider.NewRegistry()
	registry.Register(gw, "flux-schnell", "flux-pro")
	reconciler := reconcile.New(tasks, store, store, creditSvc, registry, logger)
	pricingTable := pricing.Default()
	retryMgr := retry.NewManager(tasks, creditSvc, orch, registry, pricingTable, cfg.CallbackBaseURL, logger)

	app := &handlers.App{
		Config:       cfg,
		Logger:       logger,
		Profiles:     store,
		Tasks:        tasks,
		Media:        store,
		Stats:        store,
		Credits:      creditSvc,
		Orchestrator: orch,
		Reconciler:   reconciler,
		Retry:        retryMgr,
		Gateways:     registry,
		Pricing:      pricingTable,
		Optimizer:    prompt.NewOptimizer(),
	}

	srv := httptest.NewServer(httpapi.NewRouter(app, nil))
	t.Cleanup(srv.Close)
	return srv
}

func authedRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	token, err := middleware.SignToken(testSecret, "u1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestGenerateRequiresAuth(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store, provider.NewSynthetic("flux", time.Second))

	resp, err := http.Post(srv.URL+"/v1/generations", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGenerateHappyPath(t *testing.T) {
	store := newMemStore()
	store.profiles["u1"] = &domain.UserProfile{
		ID:                       "u1",
		MembershipTier:           domain.TierCredits,
		Credits:                  100,
		FreeGenerationsRemaining: 5,
	}
	srv := newTestServer(t, store, provider.NewSynthetic("flux", time.Second))

	req := authedRequest(t, http.MethodPost, srv.URL+"/v1/generations", map[string]any{
		"media_type": "image",
		"model":      "flux-schnell",
		"prompt":     "a lighthouse at dusk",
	})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != "pending" || body["cost_credits"] != float64(5) || body["balance"] != float64(95) {
		t.Errorf("body = %v", body)
	}
	taskID, _ := body["task_id"].(string)
	if store.tasks[taskID] == nil {
		t.Fatalf("task %q not persisted", taskID)
	}
	if store.profiles["u1"].Credits != 95 {
		t.Errorf("balance = %d, want 95", store.profiles["u1"].Credits)
	}
}

func TestGenerateInsufficientCredits(t *testing.T) {
	store := newMemStore()
	store.profiles["u1"] = &domain.UserProfile{
		ID:                       "u1",
		MembershipTier:           domain.TierCredits,
		Credits:                  1,
		FreeGenerationsRemaining: 5,
	}
	srv := newTestServer(t, store, provider.NewSynthetic("flux", time.Second))

	req := authedRequest(t, http.MethodPost, srv.URL+"/v1/generations", map[string]any{
		"media_type": "image",
		"model":      "flux-schnell",
		"prompt":     "a lighthouse",
	})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if len(store.tasks) != 0 {
		t.Error("task persisted despite failed credit gate")
	}
}

func TestGenerateValidation(t *testing.T) {
	store := newMemStore()
	store.profiles["u1"] = &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 100, FreeGenerationsRemaining: 5}
	srv := newTestServer(t, store, provider.NewSynthetic("flux", time.Second))

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"empty prompt", map[string]any{"media_type": "image", "model": "flux-schnell", "prompt": "  "}},
		{"bad media type", map[string]any{"media_type": "audio", "prompt": "x"}},
		{"image mode without inputs", map[string]any{"media_type": "image", "model": "flux-schnell", "prompt": "x", "mode": "image_to_image"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authedRequest(t, http.MethodPost, srv.URL+"/v1/generations", tt.payload)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCallbackCompletesTask(t *testing.T) {
	store := newMemStore()
	store.profiles["u1"] = &domain.UserProfile{ID: "u1", MembershipTier: domain.TierCredits, Credits: 90}
	store.tasks["flux:job-1"] = &domain.GenerationTask{
		ID:          "flux:job-1",
		UserID:      "u1",
		MediaType:   domain.MediaTypeImage,
		Provider:    "flux",
		Model:       "flux-schnell",
		Status:      domain.TaskStatusProcessing,
		Prompt:      "a lighthouse",
		CostCredits: 5,
		CreatedAt:   time.Now(),
	}
	srv := newTestServer(t, store, provider.NewSynthetic("flux", time.Second))

	payload, _ := json.Marshal(map[string]any{
		"task_id":     "job-1",
		"state":       "succeeded",
		"result_urls": []string{"https://cdn.example.com/a.png"},
	})
	resp, err := http.Post(srv.URL+"/v1/callbacks/flux", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if store.tasks["flux:job-1"].Status != domain.TaskStatusCompleted {
		t.Errorf("stored status = %q", store.tasks["flux:job-1"].Status)
	}
	if len(store.media["flux:job-1"]) != 1 {
		t.Errorf("media rows = %d, want 1", len(store.media["flux:job-1"]))
	}
}

func TestCallbackUnknownTaskAcknowledged(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store, provider.NewSynthetic("flux", time.Second))

	payload, _ := json.Marshal(map[string]any{"task_id": "ghost", "state": "succeeded"})
	resp, err := http.Post(srv.URL+"/v1/callbacks/flux", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ignored" {
		t.Fatalf("status = %d, body = %v; unknown callbacks must be acknowledged", resp.StatusCode, body)
	}
}

func TestCreditBalanceEndpoint(t *testing.T) {
	store := newMemStore()
	store.profiles["u1"] = &domain.UserProfile{
		ID:                       "u1",
		MembershipTier:           domain.TierFree,
		Credits:                  0,
		FreeGenerationsRemaining: 3,
	}
	srv := newTestServer(t, store, provider.NewSynthetic("flux", time.Second))

	req := authedRequest(t, http.MethodGet, srv.URL+"/v1/credits", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["membership_tier"] != "free" || body["free_generations_remaining"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}
