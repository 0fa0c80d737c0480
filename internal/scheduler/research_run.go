package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned when a research run is requested while one is in progress.
var ErrAlreadyRunning = errors.New("research run already in progress")

// ResearchRunJob runs the full research pipeline. Overlapping runs are refused.
type ResearchRunJob struct {
	run     func(ctx context.Context) error
	ctx     context.Context
	timeout time.Duration
	mu      sync.Mutex
	log     zerolog.Logger
}

// NewResearchRunJob creates a job calling run. Each run derives its context
// from ctx, bounded by timeout when timeout is positive.
func NewResearchRunJob(ctx context.Context, run func(ctx context.Context) error, timeout time.Duration, log zerolog.Logger) *ResearchRunJob {
	return &ResearchRunJob{
		run:     run,
		ctx:     ctx,
		timeout: timeout,
		log:     log.With().Str("job", "research_run").Logger(),
	}
}

// Name returns the job name
func (j *ResearchRunJob) Name() string {
	return "research_run"
}

// Run executes the pipeline once
func (j *ResearchRunJob) Run() error {
	if !j.mu.TryLock() {
		j.log.Warn().Msg("Previous research run still in progress, skipping")
		return ErrAlreadyRunning
	}
	defer j.mu.Unlock()
	return j.execute()
}

// TryStart claims the job without running it. When ok is true the caller owns
// the claim and must call start exactly once; start runs the pipeline and
// releases the claim. When ok is false a run is already in progress.
func (j *ResearchRunJob) TryStart() (start func() error, ok bool) {
	if !j.mu.TryLock() {
		return nil, false
	}
	return func() error {
		defer j.mu.Unlock()
		return j.execute()
	}, true
}

func (j *ResearchRunJob) execute() error {
	ctx := j.ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.run(ctx); err != nil {
		return err
	}
	j.log.Info().Dur("duration", time.Since(start)).Msg("Research run completed")
	return nil
}

// Running reports whether a run is in progress
func (j *ResearchRunJob) Running() bool {
	if j.mu.TryLock() {
		j.mu.Unlock()
		return false
	}
	return true
}
