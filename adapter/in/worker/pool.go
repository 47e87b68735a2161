package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"agent_server/adapter/out/messaging"
	"agent_server/core/port/in"
	"agent_server/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// Job is one inbound event waiting for the agent.
type Job struct {
	Delivery *messaging.Delivery
	Message  *in.InboundMessage
}

type PoolConfig struct {
	Workers        int
	WorkerChanSize int
	JobTimeout     time.Duration
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		WorkerChanSize: 100,
		JobTimeout:     2 * time.Minute,
	}
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	AvgProcessTime int64 // milliseconds
}

// Pool runs inbound jobs on a go-pkgz/pool worker group.
type Pool struct {
	service in.InboundService
	config  *PoolConfig
	group   *pool.WorkerGroup[*Job]

	metrics   PoolMetrics
	latencies *metrics.Registry
	log       zerolog.Logger

	// mu is held for reading across group.Submit so Stop cannot close the
	// group under an in-flight submit.
	started bool
	mu      sync.RWMutex
}

// jobWorker implements pool.Worker.
type jobWorker struct {
	pool *Pool
}

func (w *jobWorker) Do(ctx context.Context, job *Job) error {
	return w.pool.processJob(ctx, job)
}

func NewPool(service in.InboundService, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 2 * time.Minute
	}
	return &Pool{
		service: service,
		config:  config,
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

// WithLatencies records per-job latency into r.
func (p *Pool) WithLatencies(r *metrics.Registry) *Pool {
	p.latencies = r
	return p
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	// Batching would hold a message until its batch fills, so jobs go out one by one.
	p.group = pool.New[*Job](p.config.Workers, &jobWorker{pool: p}).
		WithBatchSize(1).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.group.Go(ctx); err != nil {
		return err
	}
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Dur("job_timeout", p.config.JobTimeout).
		Msg("worker pool started")
	return nil
}

// Submit blocks while all worker queues are full, which throttles the stream reader.
// It returns false once Stop has begun.
func (p *Pool) Submit(job *Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started {
		return false
	}
	p.group.Submit(job)
	return true
}

// Stop waits for in-flight jobs up to timeout.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.group.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Msg("error closing worker pool")
	}

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// processJob never returns an error: a failed run has already sent the user an
// apology, so the entry is acknowledged either way.
func (p *Pool) processJob(ctx context.Context, job *Job) error {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	res := p.service.HandleInbound(jobCtx, job.Message)

	took := time.Since(start)
	elapsed := took.Milliseconds()
	p.updateAvgProcessTime(elapsed)
	if p.latencies != nil {
		p.latencies.Observe(metrics.OpInboundWorker, took, res.Success)
	}

	log := p.log.With().
		Str("stream_id", job.Delivery.ID).
		Str("agent_id", job.Message.AgentID.String()).
		Int64("elapsed_ms", elapsed).
		Logger()

	if res.Success {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		log.Debug().Bool("duplicate", res.Duplicate).Bool("paused", res.Paused).Msg("job processed")
	} else {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		log.Warn().Str("error", res.Error).Msg("job failed")
	}

	if err := job.Delivery.Ack(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("error acknowledging message")
	}
	return nil
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
	}
}
