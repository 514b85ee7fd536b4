package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/dispatch"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
	"github.com/goshlabs/onboarding-pipeline/internal/templates"
)

type fakeRecords struct {
	mu     sync.Mutex
	nextID int64
	byKey  map[string]*notification.Record
	byID   map[int64]*notification.Record
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		byKey: make(map[string]*notification.Record),
		byID:  make(map[int64]*notification.Record),
	}
}

func key(recipient string, intent notification.Intent) string {
	return recipient + "|" + string(intent)
}

func (f *fakeRecords) Create(_ context.Context, r *notification.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(r.Recipient, r.Intent)
	if _, ok := f.byKey[k]; ok {
		return notification.ErrDuplicate
	}
	f.nextID++
	r.ID = f.nextID
	r.CreatedAt = time.Now().UTC()
	cp := *r
	f.byKey[k] = &cp
	f.byID[r.ID] = &cp
	return nil
}

func (f *fakeRecords) GetByID(_ context.Context, id int64) (*notification.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecords) Find(_ context.Context, recipient string, intent notification.Intent) (*notification.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byKey[key(recipient, intent)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecords) MarkSent(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.byID[id]; ok && r.SentAt == nil {
		r.SentAt = &at
	}
	return nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (f *fakeJobs) Enqueue(_ context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
	return nil
}

func (f *fakeJobs) PickBatch(context.Context, string, int, time.Duration) ([]job.Job, error) {
	return nil, nil
}
func (f *fakeJobs) MarkSucceeded(context.Context, []string) error { return nil }

func (f *fakeJobs) MarkRetrying(context.Context, string, time.Time, string) error { return nil }

func (f *fakeJobs) MarkFailed(context.Context, string, string) error { return nil }

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func newAction(t *testing.T, records notification.Repo, jobs job.Repo, after func(context.Context, dispatch.Entity) error) *Action {
	t.Helper()
	tmpl, err := templates.Load()
	require.NoError(t, err)
	return &Action{
		Intent:  notification.IntentWelcomeHighDemand,
		Records: records,
		Jobs:    jobs,
		Tmpl:    tmpl,
		Log:     zap.NewNop(),
		Queue:   "send_email",
		Retries: 3,
		Backoff: job.Backoff{Kind: job.BackoffFixed, Delay: 10 * time.Second},
		After:   after,
	}
}

func entity() dispatch.Entity {
	return dispatch.Entity{
		Key:       "user:1",
		Ref:       1,
		Recipient: "alice@example.com",
		Vars:      map[string]string{"username": "alice"},
	}
}

func TestActionEvaluate_QueuesOnce(t *testing.T) {
	records := newFakeRecords()
	jobs := &fakeJobs{}
	a := newAction(t, records, jobs, nil)
	ctx := context.Background()

	require.NoError(t, a.Evaluate(ctx, entity()))

	rec, err := records.Find(ctx, "alice@example.com", notification.IntentWelcomeHighDemand)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.False(t, rec.Sent())
	require.Contains(t, rec.Subject, "alice")
	require.NotEmpty(t, rec.Content)
	require.Equal(t, 1, jobs.count())

	// Second evaluation sees the record and does nothing.
	require.NoError(t, a.Evaluate(ctx, entity()))
	require.Equal(t, 1, jobs.count())
}

func TestActionEvaluate_NoResendAfterSent(t *testing.T) {
	records := newFakeRecords()
	jobs := &fakeJobs{}
	a := newAction(t, records, jobs, nil)
	ctx := context.Background()

	require.NoError(t, a.Evaluate(ctx, entity()))

	rec, err := records.Find(ctx, "alice@example.com", notification.IntentWelcomeHighDemand)
	require.NoError(t, err)
	require.NoError(t, records.MarkSent(ctx, rec.ID, time.Now().UTC()))

	// The entity still matches the trigger condition; the sent record
	// keeps it from being queued again.
	require.NoError(t, a.Evaluate(ctx, entity()))
	require.Equal(t, 1, jobs.count())
}

func TestActionEvaluate_MissingRecipient(t *testing.T) {
	records := newFakeRecords()
	jobs := &fakeJobs{}
	a := newAction(t, records, jobs, nil)

	e := entity()
	e.Recipient = "   "
	err := a.Evaluate(context.Background(), e)
	require.ErrorIs(t, err, notification.ErrMissingRecipient)
	require.Equal(t, 0, jobs.count())
}

func TestActionEvaluate_LostInsertRaceIsNoop(t *testing.T) {
	records := newFakeRecords()
	jobs := &fakeJobs{}
	a := newAction(t, records, jobs, nil)
	ctx := context.Background()

	// Simulate a concurrent writer that wins between our dedup check and
	// our insert.
	raced := &racingRecords{fakeRecords: records}
	a.Records = raced

	require.NoError(t, a.Evaluate(ctx, entity()))
	// The other writer owns the send; we queued nothing.
	require.Equal(t, 0, jobs.count())
}

// racingRecords reports no record on Find but rejects Create as duplicate,
// the window a concurrent evaluation can hit.
type racingRecords struct {
	*fakeRecords
}

func (r *racingRecords) Find(context.Context, string, notification.Intent) (*notification.Record, error) {
	return nil, nil
}

func (r *racingRecords) Create(context.Context, *notification.Record) error {
	return notification.ErrDuplicate
}

func TestActionEvaluate_AfterHook(t *testing.T) {
	records := newFakeRecords()
	jobs := &fakeJobs{}

	var hooked []int64
	a := newAction(t, records, jobs, func(_ context.Context, e dispatch.Entity) error {
		hooked = append(hooked, e.Ref)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, a.Evaluate(ctx, entity()))
	require.Equal(t, []int64{1}, hooked)

	// Deduplicated evaluation must not re-run the hook.
	require.NoError(t, a.Evaluate(ctx, entity()))
	require.Equal(t, []int64{1}, hooked)
}
