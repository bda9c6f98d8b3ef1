package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studycal/internal/syncer"
)

type staticOwners struct {
	owners []string
	err    error
}

func (o staticOwners) Owners(context.Context) ([]string, error) {
	return o.owners, o.err
}

type recordingSyncer struct {
	active  atomic.Int32
	maxSeen atomic.Int32

	mu    sync.Mutex
	calls []string
}

func (r *recordingSyncer) Sync(_ context.Context, owner, calendarID string) (syncer.Report, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxSeen.Load()
		if n <= m || r.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	r.mu.Lock()
	r.calls = append(r.calls, owner)
	r.mu.Unlock()

	if owner == "broken" {
		return syncer.Report{}, errors.New("listing calendars: db locked")
	}
	one := 1
	return syncer.Report{Results: []syncer.Result{
		{ID: owner + "-a", Name: "A", EventsCount: &one},
		{ID: owner + "-b", Name: "B", Error: "fetch failed"},
	}}, nil
}

func TestRunOnce(t *testing.T) {
	rec := &recordingSyncer{}
	s := New(staticOwners{owners: []string{"alice", "bob", "broken", "carol", "dave"}}, rec, 2)

	pass, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pass{Owners: 5, Calendars: 8, FailedCalendars: 4, FailedOwners: 1}, pass)
	assert.ElementsMatch(t, []string{"alice", "bob", "broken", "carol", "dave"}, rec.calls)
	assert.LessOrEqual(t, rec.maxSeen.Load(), int32(2))
}

func TestRunOnceOwnersError(t *testing.T) {
	s := New(staticOwners{err: errors.New("boom")}, &recordingSyncer{}, 1)
	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(staticOwners{}, &recordingSyncer{}, 1)
	assert.Error(t, s.Start(context.Background(), "not a cron spec"))
}

func TestStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(staticOwners{}, &recordingSyncer{}, 1)
	require.NoError(t, s.Start(ctx, "*/30 * * * *"))
	assert.Error(t, s.Start(ctx, "*/30 * * * *"))

	s.Stop()
	s.Stop()
	require.NoError(t, s.Start(ctx, "@hourly"))
	cancel()
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cron == nil
	}, time.Second, 10*time.Millisecond)
}
