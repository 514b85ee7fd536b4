package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
	"github.com/goshlabs/onboarding-pipeline/internal/obs/retry"
)

// memJobs mimics the pick semantics of the store: due WAITING and
// RETRYING jobs become ACTIVE with attempts bumped, FIFO by insertion.
type memJobs struct {
	mu   sync.Mutex
	jobs []*job.Job
	now  func() time.Time
}

func newMemJobs(now func() time.Time) *memJobs { return &memJobs{now: now} }

func (m *memJobs) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	cp.CreatedAt = m.now()
	m.jobs = append(m.jobs, &cp)
	return nil
}

func (m *memJobs) PickBatch(_ context.Context, queue string, batch int, _ time.Duration) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []job.Job
	for _, j := range m.jobs {
		if len(out) >= batch || j.Queue != queue {
			continue
		}
		due := (j.Status == job.StatusWaiting || j.Status == job.StatusRetrying) && !j.NextAttemptAt.After(now)
		if !due {
			continue
		}
		j.Status = job.StatusActive
		j.Attempts++
		out = append(out, *j)
	}
	return out, nil
}

func (m *memJobs) MarkSucceeded(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if j := m.find(id); j != nil && j.Status == job.StatusActive {
			j.Status = job.StatusSucceeded
		}
	}
	return nil
}

func (m *memJobs) MarkRetrying(_ context.Context, id string, nextAt time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.find(id); j != nil && j.Status == job.StatusActive {
		j.Status = job.StatusRetrying
		j.NextAttemptAt = nextAt
		j.LastError = lastErr
	}
	return nil
}

func (m *memJobs) MarkFailed(_ context.Context, id string, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.find(id); j != nil && j.Status == job.StatusActive {
		j.Status = job.StatusFailed
		j.LastError = lastErr
	}
	return nil
}

func (m *memJobs) find(id string) *job.Job {
	for _, j := range m.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (m *memJobs) get(id string) job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.find(id)
	return *j
}

// fakeClock lets the test step past retry delays.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func muxWith(h job.Handler) job.HandlerMux {
	return func(queue string) (job.Handler, error) {
		if queue == SendEmailQueue {
			return h, nil
		}
		return nil, errors.New("unsupported queue")
	}
}

func newTestRunner(repo job.Repo, mux job.HandlerMux, clk *fakeClock) *Runner {
	r := NewRunner(zap.NewNop(), repo, mux, SendEmailQueue, 1, 20, time.Hour, time.Minute)
	r.clock = clk.Now
	return r
}

func TestRunner_Success(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	repo := newMemJobs(clk.Now)
	ctx := context.Background()

	j := job.New(SendEmailQueue, []byte(`{"record_id":1}`), job.WithRetries(2))
	j.NextAttemptAt = clk.Now()
	require.NoError(t, repo.Enqueue(ctx, j))

	var handled int
	r := newTestRunner(repo, muxWith(func(context.Context, []byte) error {
		handled++
		return nil
	}), clk)

	r.tick(ctx)

	require.Equal(t, 1, handled)
	got := repo.get(j.ID)
	require.Equal(t, job.StatusSucceeded, got.Status)
	require.Equal(t, 1, got.Attempts)
}

func TestRunner_RetriesThenFails(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	repo := newMemJobs(clk.Now)
	ctx := context.Background()

	j := job.New(SendEmailQueue, []byte(`{"record_id":1}`),
		job.WithRetries(2),
		job.WithBackoff(job.BackoffFixed, 10*time.Second),
	)
	j.NextAttemptAt = clk.Now()
	require.NoError(t, repo.Enqueue(ctx, j))

	var attempts int
	r := newTestRunner(repo, muxWith(func(context.Context, []byte) error {
		attempts++
		return errors.New("smtp down")
	}), clk)

	// Attempt 1: scheduled for retry.
	r.tick(ctx)
	got := repo.get(j.ID)
	require.Equal(t, job.StatusRetrying, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, "smtp down", got.LastError)

	// Not due yet: nothing picked.
	r.tick(ctx)
	require.Equal(t, 1, attempts)

	// Attempt 2: still retrying.
	clk.Advance(11 * time.Second)
	r.tick(ctx)
	got = repo.get(j.ID)
	require.Equal(t, job.StatusRetrying, got.Status)
	require.Equal(t, 2, got.Attempts)

	// Attempt 3 is the last allowed one: terminal failure.
	clk.Advance(11 * time.Second)
	r.tick(ctx)
	got = repo.get(j.ID)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, 3, got.Attempts)
	require.Equal(t, 3, attempts)

	// A failed job is never picked again.
	clk.Advance(time.Hour)
	r.tick(ctx)
	require.Equal(t, 3, attempts)
}

func TestRunner_HandlerPanicIsContained(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	repo := newMemJobs(clk.Now)
	ctx := context.Background()

	j := job.New(SendEmailQueue, []byte(`{"record_id":1}`),
		job.WithRetries(1),
		job.WithBackoff(job.BackoffFixed, 10*time.Second),
	)
	j.NextAttemptAt = clk.Now()
	require.NoError(t, repo.Enqueue(ctx, j))

	r := newTestRunner(repo, muxWith(func(context.Context, []byte) error {
		panic("template blew up")
	}), clk)

	// The panic stays inside the tick and the job is scheduled for retry
	// rather than stranded ACTIVE.
	require.NotPanics(t, func() { r.tick(ctx) })
	got := repo.get(j.ID)
	require.Equal(t, job.StatusRetrying, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Contains(t, got.LastError, "panic")

	// The retry panics too and exhausts the budget: terminal failure.
	clk.Advance(11 * time.Second)
	require.NotPanics(t, func() { r.tick(ctx) })
	got = repo.get(j.ID)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, 2, got.Attempts)
}

func TestRunner_UnknownQueueFailsJob(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	repo := newMemJobs(clk.Now)
	ctx := context.Background()

	j := job.New("mystery", []byte(`{}`))
	j.NextAttemptAt = clk.Now()
	require.NoError(t, repo.Enqueue(ctx, j))

	r := NewRunner(zap.NewNop(), repo, muxWith(nil), "mystery", 1, 20, time.Hour, time.Minute)
	r.clock = clk.Now
	r.tick(ctx)

	got := repo.get(j.ID)
	require.Equal(t, job.StatusFailed, got.Status)
}

type memSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *memSender) Send(_ context.Context, to, _, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to)
	return nil
}

type memRecords struct {
	mu   sync.Mutex
	byID map[int64]*notification.Record
}

func (m *memRecords) Create(context.Context, *notification.Record) error { return nil }

func (m *memRecords) GetByID(_ context.Context, id int64) (*notification.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) Find(context.Context, string, notification.Intent) (*notification.Record, error) {
	return nil, nil
}

func (m *memRecords) MarkSent(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[id]; ok && r.SentAt == nil {
		r.SentAt = &at
	}
	return nil
}

func noRetry() retry.Policy {
	return retry.Policy{Attempts: 1, Backoff: retry.ExpoJitter{Base: time.Millisecond}}
}

func TestEmailHandler_SendsAndMarks(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	records := &memRecords{byID: map[int64]*notification.Record{
		7: {ID: 7, Recipient: "bob@example.com", Intent: notification.IntentDaoInvite, Subject: "s", Content: "c"},
	}}
	sender := &memSender{}

	mux := NewEmailHandlerMux(records, sender, clk, zap.NewNop(), noRetry())
	h, err := mux(SendEmailQueue)
	require.NoError(t, err)

	require.NoError(t, h(context.Background(), []byte(`{"record_id":7}`)))
	require.Equal(t, []string{"bob@example.com"}, sender.sent)

	got, err := records.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, got.Sent())
}

func TestEmailHandler_AlreadySentIsNoop(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	sentAt := clk.Now().Add(-time.Hour)
	records := &memRecords{byID: map[int64]*notification.Record{
		7: {ID: 7, Recipient: "bob@example.com", Intent: notification.IntentDaoInvite, SentAt: &sentAt},
	}}
	sender := &memSender{}

	mux := NewEmailHandlerMux(records, sender, clk, zap.NewNop(), noRetry())
	h, err := mux(SendEmailQueue)
	require.NoError(t, err)

	// A redelivered job for a sent record succeeds without sending again.
	require.NoError(t, h(context.Background(), []byte(`{"record_id":7}`)))
	require.Empty(t, sender.sent)
}

func TestEmailHandler_SendErrorPropagates(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	records := &memRecords{byID: map[int64]*notification.Record{
		7: {ID: 7, Recipient: "bob@example.com", Intent: notification.IntentDaoInvite},
	}}
	sender := &memSender{err: errors.New("smtp down")}

	mux := NewEmailHandlerMux(records, sender, clk, zap.NewNop(), noRetry())
	h, err := mux(SendEmailQueue)
	require.NoError(t, err)

	require.Error(t, h(context.Background(), []byte(`{"record_id":7}`)))

	got, err := records.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, got.Sent())
}

func TestEmailHandler_UnsupportedQueue(t *testing.T) {
	mux := NewEmailHandlerMux(&memRecords{}, &memSender{}, &fakeClock{}, zap.NewNop(), noRetry())
	_, err := mux("other")
	require.Error(t, err)
}
