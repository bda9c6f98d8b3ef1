// Package scheduler runs periodic background syncs for every owner.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	appLog "studycal/internal/log"
	"studycal/internal/syncer"
)

type OwnerLister interface {
	Owners(context.Context) ([]string, error)
}

type Syncer interface {
	Sync(_ context.Context, ownerID, calendarID string) (syncer.Report, error)
}

// Pass summarizes one run over all owners.
type Pass struct {
	Owners          int
	Calendars       int
	FailedCalendars int
	FailedOwners    int
}

type Scheduler struct {
	owners      OwnerLister
	syncer      Syncer
	concurrency int

	mu   sync.Mutex
	cron *cron.Cron
}

func New(owners OwnerLister, s Syncer, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{owners: owners, syncer: s, concurrency: concurrency}
}

// RunOnce syncs every owner with enabled calendars. Owners run in parallel
// up to the configured concurrency; one owner's failure never stops the
// others. Only failing to list owners is returned as an error.
func (s *Scheduler) RunOnce(ctx context.Context) (Pass, error) {
	owners, err := s.owners.Owners(ctx)
	if err != nil {
		return Pass{}, fmt.Errorf("scheduler: listing owners: %w", err)
	}

	var (
		mu   sync.Mutex
		pass = Pass{Owners: len(owners)}
		g    errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, owner := range owners {
		g.Go(func() error {
			report, err := s.syncer.Sync(ctx, owner, "")

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				appLog.Error("scheduler: owner sync failed", err, "owner", owner)
				pass.FailedOwners++
				return nil
			}
			pass.Calendars += len(report.Results)
			pass.FailedCalendars += report.Failed()
			return nil
		})
	}
	_ = g.Wait()

	appLog.Info("scheduler: pass done",
		"owners", pass.Owners,
		"calendars", pass.Calendars,
		"failed_calendars", pass.FailedCalendars,
		"failed_owners", pass.FailedOwners,
	)
	return pass, nil
}

// Start schedules RunOnce on the cron spec until ctx is cancelled. A run
// still in progress when the next tick fires causes that tick to be
// skipped.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler: already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			appLog.Error("scheduler: pass failed", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduler: invalid cron spec %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	appLog.Info("scheduler: started", "cron", spec, "concurrency", s.concurrency)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("scheduler: stopped")
}
