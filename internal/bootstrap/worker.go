package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"agent_server/adapter/in/worker"
	"agent_server/adapter/out/messaging"
	"agent_server/config"
	"agent_server/pkg/logger"

	"github.com/rs/zerolog"
)

const poolStopTimeout = 30 * time.Second

// Worker consumes the inbound stream and runs each message through the agent.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}
	if deps.Redis == nil {
		cleanup()
		return nil, nil, errors.New("worker mode requires REDIS_URL")
	}

	zlog := deps.Log.With().Str("component", "worker").Logger()

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.Workers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.WorkerChanSize = cfg.WorkerQueueSize
	}
	pool := worker.NewPool(deps.Conversation, poolConfig, zlog).WithLatencies(deps.Latencies)

	consumer := messaging.NewConsumer(deps.Redis, messaging.ConsumerConfig{
		Stream:     cfg.InboundStream,
		Group:      cfg.ConsumerGroup,
		Consumer:   cfg.WorkerID,
		Handler:    worker.NewDispatcher(pool),
		Logger:     zlog,
		BatchSize:  int64(cfg.ConsumerBatchSize),
		Block:      time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
		MaxRetries: cfg.ConsumerMaxRetries,
		// Reclaim only entries whose job could not still be running.
		PendingIdleTime: poolConfig.JobTimeout + time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:     pool,
		consumer: consumer,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		zlog:     zlog,
	}
	logger.Info("Worker configured: stream=%s group=%s consumer=%s workers=%d",
		cfg.InboundStream, cfg.ConsumerGroup, cfg.WorkerID, poolConfig.Workers)
	return w, cleanup, nil
}

// Start blocks until Stop is called.
func (w *Worker) Start() {
	// The pool outlives w.ctx so Stop can drain in-flight jobs.
	if err := w.pool.Start(context.WithoutCancel(w.ctx)); err != nil {
		w.zlog.Error().Err(err).Msg("failed to start worker pool")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msg("Starting Redis Stream Consumer...")
		if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
		}
	}()

	<-w.ctx.Done()
}

// Stop halts the consumer, then drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.pool.Stop(poolStopTimeout)
}

func (w *Worker) poolStats() map[string]any {
	m := w.pool.GetMetrics()
	return map[string]any{
		"jobs_processed":      m.JobsProcessed,
		"jobs_failed":         m.JobsFailed,
		"avg_process_time_ms": m.AvgProcessTime,
	}
}
