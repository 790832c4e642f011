// Package batch runs inference jobs on a bounded worker pool. The pool is
// the single serialization point limiting concurrent inference load across
// all sessions.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whisper-transcription-service/internal/models"
	"whisper-transcription-service/internal/observability/logging"
	"whisper-transcription-service/internal/observability/metrics"
	"whisper-transcription-service/internal/service/engine"
)

// Errors returned by Submit.
var (
	ErrQueueFull  = errors.New("inference queue is full")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// Job is one unit of inference work: a snapshot of buffered audio bound to
// a session and language. Jobs are never shared across sessions.
type Job struct {
	SessionID string
	Audio     []byte
	Language  string
	Source    string // "stream" or "file", for metrics
}

// Result carries the outcome of a job back to its submitter.
type Result struct {
	Transcription models.TranscriptionResult
	Err           error
}

type queuedJob struct {
	job Job
	out chan Result
}

// Pool is a fixed-size worker pool with a bounded queue. Jobs beyond the
// queue depth are rejected with ErrQueueFull so overload is explicit.
type Pool struct {
	eng     engine.Engine
	jobs    chan queuedJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewPool creates a pool with the given worker count and queue depth and
// starts the workers.
func NewPool(eng engine.Engine, workers, queueDepth int, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &Pool{
		eng:     eng,
		jobs:    make(chan queuedJob, queueDepth),
		metrics: m,
		log:     logging.WithComponent("batch"),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a job and returns a channel that will receive exactly one
// Result. Submit never blocks: jobs beyond the queue depth are rejected.
// The result channel is buffered, so a submitter that goes away never
// blocks a worker; the result is simply discarded.
func (p *Pool) Submit(job Job) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	q := queuedJob{job: job, out: make(chan Result, 1)}
	select {
	case p.jobs <- q:
		p.metrics.JobsQueued.Inc()
		return q.out, nil
	default:
		p.metrics.JobsRejected.Inc()
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued work to drain, up to
// the context deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for q := range p.jobs {
		p.metrics.JobsQueued.Dec()
		p.run(q)
	}
}

func (p *Pool) run(q queuedJob) {
	jobId := uuid.NewString()
	jobLog := logging.WithJob(q.job.SessionID, jobId)

	p.metrics.InferenceInFlight.Inc()
	start := time.Now()
	result, err := p.eng.Transcribe(context.Background(), q.job.Audio, q.job.Language)
	latency := time.Since(start)
	p.metrics.InferenceInFlight.Dec()
	p.metrics.RecordInference(p.eng.Info().Name, q.job.Source, err, latency.Seconds())

	if err != nil {
		jobLog.Error().
			Err(err).
			Int("audioBytes", len(q.job.Audio)).
			Dur("latency", latency).
			Msg("Inference failed")
	} else {
		jobLog.Debug().
			Int("audioBytes", len(q.job.Audio)).
			Int("segments", len(result.Segments)).
			Dur("latency", latency).
			Msg("Inference completed")
	}

	q.out <- Result{Transcription: result, Err: err}
}
