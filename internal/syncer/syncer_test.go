package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studycal/internal/ics"
	"studycal/internal/model"
	"studycal/internal/store"
)

type fakeFetcher struct {
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, &ics.FetchError{URL: url, StatusCode: 404, Err: errors.New("unexpected status 404 Not Found")}
	}
	return []byte(body), nil
}

func feed(uids ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n")
	for i, uid := range uids {
		fmt.Fprintf(&b, "BEGIN:VEVENT\r\nUID:%s\r\nSUMMARY:Event %d\r\nDTSTART:202602%02dT090000Z\r\nDTEND:202602%02dT100000Z\r\nEND:VEVENT\r\n", uid, i, i+1, i+1)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

type fixture struct {
	store   *store.Storage
	fetcher *fakeFetcher
	syncer  *Syncer
	cals    []model.ExternalCalendar
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:   st,
		fetcher: &fakeFetcher{bodies: map[string]string{}, errs: map[string]error{}},
	}
	for _, name := range names {
		cal := model.ExternalCalendar{
			OwnerID:  "alice",
			Name:     name,
			Provider: model.ProviderOther,
			URL:      "https://feeds.example.com/" + name + ".ics",
			Enabled:  true,
		}
		require.NoError(t, st.CreateCalendar(context.Background(), &cal))
		f.cals = append(f.cals, cal)
	}
	f.syncer = New(st, f.fetcher, 2)
	f.syncer.now = func() time.Time { return time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC) }
	return f
}

func TestSyncIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University", "Outlook", "Club")
	f.fetcher.bodies[f.cals[0].URL] = feed("u1", "u2", "u3")
	f.fetcher.bodies[f.cals[1].URL] = feed("o1")
	f.fetcher.bodies[f.cals[2].URL] = feed("c1", "c2")

	_, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)

	// Second calendar now fails; the others pick up changes.
	f.fetcher.errs[f.cals[1].URL] = &ics.FetchError{URL: f.cals[1].URL, Err: context.DeadlineExceeded}
	f.fetcher.bodies[f.cals[0].URL] = feed("u1", "u4")
	f.fetcher.bodies[f.cals[2].URL] = feed("c1", "c2", "c3", "c4", "c5")

	report, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, 1, report.Failed())

	require.NotNil(t, report.Results[0].EventsCount)
	assert.Equal(t, 2, *report.Results[0].EventsCount)
	assert.NotEmpty(t, report.Results[1].Error)
	assert.Nil(t, report.Results[1].EventsCount)
	assert.NotContains(t, report.Results[1].Error, "Outlook.ics")
	assert.Equal(t, 5, *report.Results[2].EventsCount)
	assert.Equal(t, "2 of 3 calendars synced; Outlook failed", report.Summary())

	first, err := f.store.CalendarEvents(ctx, "alice", f.cals[0].ID)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	stale, err := f.store.CalendarEvents(ctx, "alice", f.cals[1].ID)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "o1", stale[0].UID)

	third, err := f.store.CalendarEvents(ctx, "alice", f.cals[2].ID)
	require.NoError(t, err)
	assert.Len(t, third, 5)
}

func TestSyncIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University")
	f.fetcher.bodies[f.cals[0].URL] = feed("a", "b", "c", "d", "e")

	var reports []Report
	for i := 0; i < 2; i++ {
		report, err := f.syncer.Sync(ctx, "alice", "")
		require.NoError(t, err)
		reports = append(reports, report)
	}
	assert.Equal(t, reports[0], reports[1])

	stored, err := f.store.CalendarEvents(ctx, "alice", f.cals[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	uids := make([]string, len(stored))
	for i, ev := range stored {
		uids[i] = ev.UID
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, uids)

	cal, err := f.store.Calendar(ctx, "alice", f.cals[0].ID)
	require.NoError(t, err)
	require.NotNil(t, cal.LastSyncedAt)
	assert.True(t, cal.LastSyncedAt.Equal(time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)))
}

func TestSyncParseFailureKeepsData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University")
	f.fetcher.bodies[f.cals[0].URL] = feed("a", "b")
	_, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)

	f.fetcher.bodies[f.cals[0].URL] = "<html>Service Unavailable</html>"
	report, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Contains(t, report.Results[0].Error, "parse")

	stored, err := f.store.CalendarEvents(ctx, "alice", f.cals[0].ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSyncEventMissingEndKeepsNeighbours(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University")
	f.fetcher.bodies[f.cals[0].URL] = feed("broken", "good", "good2")
	_, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)

	f.fetcher.bodies[f.cals[0].URL] = strings.Replace(feed("broken", "good", "good2"), "END:VEVENT\r\n", "", 1)
	report, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Empty(t, report.Results[0].Error)
	require.NotNil(t, report.Results[0].EventsCount)
	assert.Equal(t, 2, *report.Results[0].EventsCount)

	stored, err := f.store.CalendarEvents(ctx, "alice", f.cals[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "good", stored[0].UID)
	assert.Equal(t, "good2", stored[1].UID)
}

func TestSyncUnterminatedOnlyEventKeepsData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University")
	f.fetcher.bodies[f.cals[0].URL] = feed("a", "b")
	_, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)

	f.fetcher.bodies[f.cals[0].URL] = strings.Replace(feed("a"), "END:VEVENT\r\n", "", 1)
	report, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)
	assert.Contains(t, report.Results[0].Error, "parse")

	stored, err := f.store.CalendarEvents(ctx, "alice", f.cals[0].ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

type failingReplace struct {
	*store.Storage
}

func (failingReplace) ReplaceEvents(context.Context, string, string, []model.ExternalEvent, int) (int, error) {
	return 0, fmt.Errorf("store: begin: %w", context.Canceled)
}

func TestSyncStoreErrorPrefixedOnce(t *testing.T) {
	f := newFixture(t, "University")
	f.fetcher.bodies[f.cals[0].URL] = feed("a")
	s := New(failingReplace{f.store}, f.fetcher, 2)

	report, err := s.Sync(context.Background(), "alice", "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "persist: store: begin: context canceled", report.Results[0].Error)
	assert.Equal(t, 1, strings.Count(report.Results[0].Error, "store:"))
}

func TestSyncEmptyCalendarClearsEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University")
	f.fetcher.bodies[f.cals[0].URL] = feed("a", "b")
	_, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)

	f.fetcher.bodies[f.cals[0].URL] = feed()
	report, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)
	require.NotNil(t, report.Results[0].EventsCount)
	assert.Zero(t, *report.Results[0].EventsCount)

	stored, err := f.store.CalendarEvents(ctx, "alice", f.cals[0].ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSyncSingleCalendar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University", "Club")
	f.fetcher.bodies[f.cals[0].URL] = feed("a")
	f.fetcher.bodies[f.cals[1].URL] = feed("b")
	require.NoError(t, f.store.SetCalendarEnabled(ctx, "alice", f.cals[1].ID, false))

	report, err := f.syncer.Sync(ctx, "alice", f.cals[1].ID)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "Club", report.Results[0].Name)
	assert.Equal(t, []string{f.cals[1].URL}, f.fetcher.calls)

	_, err = f.syncer.Sync(ctx, "bob", f.cals[0].ID)
	assert.ErrorIs(t, err, ErrCalendarNotFound)
}

func TestSyncSkipsDisabledCalendars(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "University", "Club")
	f.fetcher.bodies[f.cals[0].URL] = feed("a")
	require.NoError(t, f.store.SetCalendarEnabled(ctx, "alice", f.cals[1].ID, false))

	report, err := f.syncer.Sync(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, f.cals[0].ID, report.Results[0].ID)
}

func TestReportJSON(t *testing.T) {
	n := 3
	report := Report{Results: []Result{
		{ID: "1", Name: "Google", EventsCount: &n},
		{ID: "2", Name: "Outlook", Error: "fetch failed"},
	}}
	out, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[
		{"id":"1","name":"Google","eventsCount":3},
		{"id":"2","name":"Outlook","error":"fetch failed"}
	]}`, string(out))

	empty, err := json.Marshal(Report{Results: []Result{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(empty))
}

func TestToExternalCollapsesDuplicateUIDs(t *testing.T) {
	cal := model.ExternalCalendar{ID: "cal", OwnerID: "alice"}
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	parsed := []ics.ParsedEvent{
		{UID: "x", Summary: "override", Start: start.AddDate(0, 0, 7)},
		{UID: "x", Summary: "master", Start: start, RRule: "FREQ=WEEKLY"},
		{UID: "y", Summary: "one-off", Start: start},
		{UID: "y", Summary: "dup", Start: start},
	}
	events := toExternal(cal, parsed)
	require.Len(t, events, 2)
	assert.Equal(t, "master", events[0].Title)
	assert.Equal(t, "one-off", events[1].Title)
	assert.Equal(t, "cal", events[0].CalendarID)
	assert.Equal(t, "alice", events[0].OwnerID)
}
