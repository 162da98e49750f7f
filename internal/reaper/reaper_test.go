package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

type fakeRecords struct {
	mu      sync.Mutex
	records []*schema.ExecutionRecord
	filters []store.ExecutionFilter
	failed  map[string]error
	listErr error
}

func (f *fakeRecords) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*schema.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*schema.ExecutionRecord
	for _, r := range f.records {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.StartedBefore != nil && !r.StartedAt.Before(*filter.StartedBefore) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRecords) FailExecution(_ context.Context, id string, cause error) (*schema.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID != id {
			continue
		}
		if r.Status != schema.ExecutionRunning {
			return r, schema.NewError(schema.ErrCodeInvalidTransition, "already finished")
		}
		r.Status = schema.ExecutionFailed
		r.Error = cause.Error()
		if f.failed == nil {
			f.failed = make(map[string]error)
		}
		f.failed[id] = cause
		return r, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "no such execution")
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
}

func record(id string, status schema.ExecutionStatus, age time.Duration) *schema.ExecutionRecord {
	return &schema.ExecutionRecord{
		ID:             id,
		WorkflowID:     "wf",
		TriggerEventID: "trigger-" + id,
		Status:         status,
		StartedAt:      fixedNow().Add(-age),
	}
}

func TestSweep_FailsOnlyStaleRunning(t *testing.T) {
	fake := &fakeRecords{records: []*schema.ExecutionRecord{
		record("old", schema.ExecutionRunning, 2*time.Hour),
		record("fresh", schema.ExecutionRunning, 10*time.Minute),
		record("done", schema.ExecutionSuccess, 3*time.Hour),
		record("busy", schema.ExecutionRunning, 5*time.Hour),
	}}
	inFlight := func(trigger string) bool { return trigger == "trigger-busy" }

	r := New(Config{StaleAfter: time.Hour}, fake, fake, inFlight, nil)
	r.now = fixedNow

	reaped, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, reaped)
	assert.ErrorIs(t, fake.failed["old"], ErrAbandoned)
	assert.Equal(t, "execution abandoned", fake.records[0].Error)

	require.Len(t, fake.filters, 1)
	assert.Equal(t, schema.ExecutionRunning, *fake.filters[0].Status)
	assert.Equal(t, fixedNow().Add(-time.Hour), *fake.filters[0].StartedBefore)
}

func TestSweep_IgnoresRacingFinish(t *testing.T) {
	fake := &fakeRecords{records: []*schema.ExecutionRecord{record("old", schema.ExecutionRunning, 2*time.Hour)}}
	r := New(Config{}, fake, finisherFunc(func(context.Context, string, error) (*schema.ExecutionRecord, error) {
		return nil, schema.NewError(schema.ErrCodeInvalidTransition, "already finished")
	}), nil, nil)
	r.now = fixedNow

	reaped, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reaped)
}

func TestSweep_ListError(t *testing.T) {
	fake := &fakeRecords{listErr: errors.New("db down")}
	r := New(Config{}, fake, fake, nil, nil)

	_, err := r.Sweep(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{}, &fakeRecords{}, &fakeRecords{}, nil, nil)
	assert.Equal(t, DefaultSchedule, r.cfg.Schedule)
	assert.Equal(t, DefaultStaleAfter, r.cfg.StaleAfter)
	assert.False(t, r.inFlight("anything"))
}

func TestStartStop(t *testing.T) {
	fake := &fakeRecords{records: []*schema.ExecutionRecord{record("old", schema.ExecutionRunning, 2*time.Hour)}}
	r := New(Config{Schedule: "@every 1s", StaleAfter: time.Minute}, fake, fake, nil, nil)
	r.now = fixedNow

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "double start")

	assert.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.records[0].Status == schema.ExecutionFailed
	}, 3*time.Second, 50*time.Millisecond)

	r.Stop()
	r.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	r := New(Config{Schedule: "not a schedule"}, &fakeRecords{}, &fakeRecords{}, nil, nil)
	err := r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

type finisherFunc func(ctx context.Context, id string, cause error) (*schema.ExecutionRecord, error)

func (f finisherFunc) FailExecution(ctx context.Context, id string, cause error) (*schema.ExecutionRecord, error) {
	return f(ctx, id, cause)
}
