// Package publish builds an owner's outbound ICS feed from their classes,
// sessions and deadlines.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// CalendarName is written as X-WR-CALNAME so subscribing clients show a
// readable name.
const CalendarName = "Study schedule"

// Filename is suggested for downloaded feeds.
const Filename = "study-schedule.ics"

type Source interface {
	Classes(_ context.Context, ownerID string) ([]model.Class, error)
	Sessions(_ context.Context, ownerID string) ([]model.Session, error)
	Deadlines(_ context.Context, ownerID string) ([]model.Deadline, error)
}

// Stats describes a generated feed without its body.
type Stats struct {
	ClassCount    int `json:"classCount"`
	SessionCount  int `json:"sessionCount"`
	DeadlineCount int `json:"deadlineCount"`
	TotalEvents   int `json:"totalEvents"`
}

// Feed is a complete, validated ICS document.
type Feed struct {
	Body  []byte
	Stats Stats
}

type Publisher struct {
	source    Source
	productID string
	uidDomain string
	now       func() time.Time
}

func New(source Source, productID, uidDomain string) *Publisher {
	return &Publisher{
		source:    source,
		productID: productID,
		uidDomain: uidDomain,
		now:       time.Now,
	}
}

// Build renders the owner's schedule. The document is assembled in memory
// and checked with an independent parser, so callers only ever see a whole
// document or an error.
func (p *Publisher) Build(ctx context.Context, ownerID string) (Feed, error) {
	classes, err := p.source.Classes(ctx, ownerID)
	if err != nil {
		return Feed{}, fmt.Errorf("loading classes: %w", err)
	}
	sessions, err := p.source.Sessions(ctx, ownerID)
	if err != nil {
		return Feed{}, fmt.Errorf("loading sessions: %w", err)
	}
	deadlines, err := p.source.Deadlines(ctx, ownerID)
	if err != nil {
		return Feed{}, fmt.Errorf("loading deadlines: %w", err)
	}

	var buf bytes.Buffer
	n, err := ics.Format(&buf, ics.Schedule{
		Classes:   classes,
		Sessions:  sessions,
		Deadlines: deadlines,
	}, ics.FormatOptions{
		ProductID: p.productID,
		UIDDomain: p.uidDomain,
		Name:      CalendarName,
		Stamp:     p.now(),
	})
	if err != nil {
		return Feed{}, fmt.Errorf("formatting feed: %w", err)
	}

	got, err := ics.Validate(buf.Bytes())
	if err != nil {
		return Feed{}, fmt.Errorf("validating feed: %w", err)
	}
	if got != n {
		return Feed{}, fmt.Errorf("validating feed: wrote %d events, read back %d", n, got)
	}

	stats := Stats{
		ClassCount:    len(classes),
		SessionCount:  len(sessions),
		DeadlineCount: len(deadlines),
		TotalEvents:   n,
	}
	appLog.Debug("publish: feed built", "owner", ownerID, "events", n, "bytes", buf.Len())
	return Feed{Body: buf.Bytes(), Stats: stats}, nil
}
