package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
)

// Synthetic is an in-process gateway used when no vendor credentials are
// configured. Jobs succeed a fixed delay after submission, which keeps the
// full submit/poll/callback flow exercisable in development.
type Synthetic struct {
	name  string
	delay time.Duration
	now   func() time.Time

	mu   sync.Mutex
	jobs map[string]syntheticJob
}

type syntheticJob struct {
	mediaType   domain.MediaType
	quantity    int
	submittedAt time.Time
}

// NewSynthetic constructs a synthetic gateway answering to the given name.
func NewSynthetic(name string, delay time.Duration) *Synthetic {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Synthetic{
		name:  name,
		delay: delay,
		now:   time.Now,
		jobs:  make(map[string]syntheticJob),
	}
}

func (s *Synthetic) Name() string {
	return s.name
}

func (s *Synthetic) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("provider %s: prompt is required", s.name)
	}
	quantity := 1
	if q, ok := req.Params["quantity"].(int); ok && q > 0 {
		quantity = q
	}
	jobID := uuid.NewString()
	s.mu.Lock()
	s.jobs[jobID] = syntheticJob{
		mediaType:   req.MediaType,
		quantity:    quantity,
		submittedAt: s.now(),
	}
	s.mu.Unlock()
	return jobID, nil
}

func (s *Synthetic) QueryStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("provider %s: unknown job %q", s.name, jobID)
	}
	if s.now().Sub(job.submittedAt) < s.delay {
		return &JobStatus{State: StateGenerating}, nil
	}
	ext := ".png"
	if job.mediaType == domain.MediaTypeVideo {
		ext = ".mp4"
	}
	urls := make([]string, 0, job.quantity)
	for i := 0; i < job.quantity; i++ {
		urls = append(urls, fmt.Sprintf("https://cdn.example.com/%s/%s/result-%02d%s", s.name, jobID, i+1, ext))
	}
	return &JobStatus{State: StateSuccess, ResultURLs: urls}, nil
}

var _ Gateway = (*Synthetic)(nil)
