package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
	"github.com/goshlabs/onboarding-pipeline/internal/obs"
)

var (
	mPicked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_picked_total", Help: "Jobs picked into processing.",
	}, []string{"queue"})
	mSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_succeeded_total", Help: "Jobs finished successfully.",
	}, []string{"queue"})
	mRetrying = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_retrying_total", Help: "Job attempts scheduled for retry.",
	}, []string{"queue"})
	mFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_failed_total", Help: "Jobs that exhausted all attempts.",
	}, []string{"queue"})
	mTickDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "queue_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
	mBatchSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_last_batch_size", Help: "Size of last picked batch.",
	}, []string{"queue"})
)

// Runner drives one queue: every tick it claims a batch of due jobs and
// walks each through succeeded / retrying / failed. Per-job errors never
// leak out of the loop; horizontal scaling is more worker processes
// against the same table.
type Runner struct {
	log  *zap.Logger
	repo job.Repo
	mux  job.HandlerMux

	queue     string
	workers   int
	batchSize int
	waitTime  time.Duration
	activeTTL time.Duration

	clock func() time.Time
}

func NewRunner(
	log *zap.Logger,
	repo job.Repo,
	mux job.HandlerMux,
	queue string,
	workers int,
	batchSize int,
	waitTime time.Duration,
	activeTTL time.Duration,
) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Runner{
		log:       log,
		repo:      repo,
		mux:       mux,
		queue:     queue,
		workers:   workers,
		batchSize: batchSize,
		waitTime:  waitTime,
		activeTTL: activeTTL,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go r.worker(ctx, &wg)
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	r.log.Info("queue worker started",
		zap.String("queue", r.queue),
		zap.Duration("wait", r.waitTime))

	ticker := time.NewTicker(r.waitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("queue worker stop", zap.String("queue", r.queue))
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	t0 := time.Now()

	tr := otel.Tracer("queue.runner")
	ctx, span := tr.Start(ctx, "queue.tick")
	span.SetAttributes(
		attribute.String("queue.name", r.queue),
		attribute.Int("batch.limit", r.batchSize),
	)
	defer span.End()

	jobs, err := r.repo.PickBatch(ctx, r.queue, r.batchSize, r.activeTTL)
	if err != nil {
		span.RecordError(err)
		obs.WithTrace(ctx, r.log).Error("job pick error", zap.Error(err))
		return
	}
	mPicked.WithLabelValues(r.queue).Add(float64(len(jobs)))
	mBatchSize.WithLabelValues(r.queue).Set(float64(len(jobs)))

	okIDs := make([]string, 0, len(jobs))
	for i := range jobs {
		if id, ok := r.execute(ctx, &jobs[i]); ok {
			okIDs = append(okIDs, id)
		}
	}

	if err := r.repo.MarkSucceeded(ctx, okIDs); err != nil {
		span.RecordError(err)
		obs.WithTrace(ctx, r.log).Error("mark succeeded error", zap.Error(err))
	}
	mSucceeded.WithLabelValues(r.queue).Add(float64(len(okIDs)))

	mTickDur.WithLabelValues(r.queue).Observe(time.Since(t0).Seconds())
}

// execute runs one attempt and applies the terminal-or-retry transition.
// Returns the job id and true when the attempt succeeded.
func (r *Runner) execute(ctx context.Context, j *job.Job) (string, bool) {
	log := obs.WithTrace(ctx, r.log).With(
		zap.String("job_id", j.ID),
		zap.String("queue", j.Queue),
		zap.Int("attempt", j.Attempts),
	)

	handler, err := r.mux(j.Queue)
	if err != nil {
		log.Error("no handler for queue", zap.Error(err))
		r.fail(ctx, j, err, log)
		return "", false
	}

	if err := r.attempt(ctx, handler, j.Payload); err != nil {
		if j.Exhausted() {
			r.fail(ctx, j, err, log)
			return "", false
		}
		next := r.clock().Add(j.Backoff.Next(j.Attempts - 1))
		if merr := r.repo.MarkRetrying(ctx, j.ID, next, err.Error()); merr != nil {
			log.Error("mark retrying error", zap.Error(merr))
			return "", false
		}
		mRetrying.WithLabelValues(r.queue).Inc()
		log.Warn("job retrying", zap.Time("next_attempt_at", next), zap.Error(err))
		return "", false
	}

	log.Debug("job succeeded")
	return j.ID, true
}

// attempt runs one handler invocation. A panicking handler surfaces as a
// plain error so it flows into the retry-or-fail transition instead of
// taking the worker down with the job stuck ACTIVE.
func (r *Runner) attempt(ctx context.Context, h job.Handler, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, payload)
}

func (r *Runner) fail(ctx context.Context, j *job.Job, cause error, log *zap.Logger) {
	if err := r.repo.MarkFailed(ctx, j.ID, cause.Error()); err != nil {
		log.Error("mark failed error", zap.Error(err))
		return
	}
	mFailed.WithLabelValues(r.queue).Inc()
	log.Error("job failed (terminal)", zap.Error(cause))
}
