// Package store persists external calendars, their mirrored events and the
// student's own schedule in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"studycal/internal/model"
)

const DriverName = "sqlite3"

// DefaultBatchSize bounds the rows per INSERT statement in ReplaceEvents.
const DefaultBatchSize = 500

const (
	// maxVariables is SQLite's SQLITE_MAX_VARIABLE_NUMBER default since 3.32.
	maxVariables = 32766
	eventParams  = 11

	// MaxBatchSize is the largest batch one upsert statement can bind.
	MaxBatchSize = maxVariables / eventParams
)

// ErrNotFound is returned when a row scoped to an owner does not exist.
var ErrNotFound = errors.New("store: not found")

type Storage struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Storage, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	// SQLite has a single writer; one connection also keeps an in-memory
	// database alive and shared.
	db.SetMaxOpenConns(1)
	return NewStorage(db)
}

func NewStorage(db *sql.DB) (*Storage, error) {
	s := &Storage{
		db:  sqlx.NewDb(db, DriverName),
		now: time.Now,
	}
	if err := s.RunMigrations(); err != nil {
		return nil, errors.Wrap(err, "store: running migrations")
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// CreateCalendar inserts cal, assigning an ID when empty.
func (s *Storage) CreateCalendar(ctx context.Context, cal *model.ExternalCalendar) error {
	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_calendars (id, owner_id, name, provider, url, color, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cal.ID, cal.OwnerID, cal.Name, string(cal.Provider), cal.URL, cal.Color, cal.Enabled, s.now().UTC())
	return errors.Wrap(err, "store: create calendar")
}

const calendarColumns = `id, owner_id, name, provider, url, color, enabled, last_synced_at`

// Calendars lists every calendar of the owner, enabled or not.
func (s *Storage) Calendars(ctx context.Context, ownerID string) ([]model.ExternalCalendar, error) {
	return s.selectCalendars(ctx, `
		SELECT `+calendarColumns+` FROM external_calendars
		WHERE owner_id = ?
		ORDER BY created_at, rowid
	`, ownerID)
}

// EnabledCalendars lists the owner's calendars that take part in sync.
func (s *Storage) EnabledCalendars(ctx context.Context, ownerID string) ([]model.ExternalCalendar, error) {
	return s.selectCalendars(ctx, `
		SELECT `+calendarColumns+` FROM external_calendars
		WHERE owner_id = ? AND enabled = 1
		ORDER BY created_at, rowid
	`, ownerID)
}

func (s *Storage) selectCalendars(ctx context.Context, query string, args ...interface{}) ([]model.ExternalCalendar, error) {
	var rows []calendarRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "store: select calendars")
	}
	res := make([]model.ExternalCalendar, len(rows))
	for i, r := range rows {
		res[i] = r.Convert()
	}
	return res, nil
}

// Calendar returns one calendar of the owner or ErrNotFound.
func (s *Storage) Calendar(ctx context.Context, ownerID, id string) (model.ExternalCalendar, error) {
	var row calendarRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+calendarColumns+` FROM external_calendars
		WHERE owner_id = ? AND id = ?
	`, ownerID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ExternalCalendar{}, ErrNotFound
	}
	if err != nil {
		return model.ExternalCalendar{}, errors.Wrap(err, "store: get calendar")
	}
	return row.Convert(), nil
}

func (s *Storage) SetCalendarEnabled(ctx context.Context, ownerID, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE external_calendars SET enabled = ? WHERE owner_id = ? AND id = ?
	`, enabled, ownerID, id)
	if err != nil {
		return errors.Wrap(err, "store: set calendar enabled")
	}
	return expectRow(res)
}

// MarkSynced records a successful sync of the calendar at t.
func (s *Storage) MarkSynced(ctx context.Context, ownerID, id string, t time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE external_calendars SET last_synced_at = ? WHERE owner_id = ? AND id = ?
	`, t.UTC(), ownerID, id)
	if err != nil {
		return errors.Wrap(err, "store: mark synced")
	}
	return expectRow(res)
}

// DeleteCalendar removes the calendar and every event mirrored from it.
func (s *Storage) DeleteCalendar(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM external_events WHERE calendar_id = ? AND owner_id = ?
	`, id, ownerID); err != nil {
		return errors.Wrap(err, "store: delete calendar events")
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM external_calendars WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return errors.Wrap(err, "store: delete calendar")
	}
	if err := expectRow(res); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "store: commit")
}

// Owners lists owners that have at least one enabled calendar.
func (s *Storage) Owners(ctx context.Context) ([]string, error) {
	var owners []string
	err := s.db.SelectContext(ctx, &owners, `
		SELECT DISTINCT owner_id FROM external_calendars WHERE enabled = 1 ORDER BY owner_id
	`)
	return owners, errors.Wrap(err, "store: owners")
}

// ReplaceEvents swaps the stored events of one calendar for events inside a
// single transaction: either every row is replaced or nothing changes.
// Rows go in as multi-row upserts of at most batchSize events, capped at
// MaxBatchSize.
func (s *Storage) ReplaceEvents(ctx context.Context, ownerID, calendarID string, events []model.ExternalEvent, batchSize int) (int, error) {
	switch {
	case batchSize <= 0:
		batchSize = DefaultBatchSize
	case batchSize > MaxBatchSize:
		batchSize = MaxBatchSize
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM external_events WHERE calendar_id = ? AND owner_id = ?
	`, calendarID, ownerID); err != nil {
		return 0, errors.Wrap(err, "store: clear events")
	}

	for start := 0; start < len(events); start += batchSize {
		end := min(start+batchSize, len(events))
		query, args := upsertEvents(ownerID, calendarID, events[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, errors.Wrapf(err, "store: upsert events %d-%d", start, end)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "store: commit")
	}
	return len(events), nil
}

func upsertEvents(ownerID, calendarID string, events []model.ExternalEvent) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO external_events
		(id, calendar_id, owner_id, uid, title, description, location, start_at, end_at, all_day, rrule)
		VALUES `)
	args := make([]interface{}, 0, len(events)*eventParams)
	for i, ev := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			uuid.NewString(), calendarID, ownerID, ev.UID, ev.Title, ev.Description, ev.Location,
			ev.Start.UTC(), nullTime(ev.End), ev.AllDay, ev.RRule)
	}
	b.WriteString(`
		ON CONFLICT(calendar_id, uid) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			all_day = excluded.all_day,
			rrule = excluded.rrule`)
	return b.String(), args
}

const eventColumns = `e.calendar_id, e.owner_id, e.uid, e.title, e.description, e.location, e.start_at, e.end_at, e.all_day, e.rrule`

// Events lists the owner's stored events from enabled calendars.
func (s *Storage) Events(ctx context.Context, ownerID string) ([]model.ExternalEvent, error) {
	return s.selectEvents(ctx, `
		SELECT `+eventColumns+` FROM external_events e
		INNER JOIN external_calendars c ON c.id = e.calendar_id
		WHERE e.owner_id = ? AND c.enabled = 1
		ORDER BY e.start_at, e.uid
	`, ownerID)
}

// CalendarEvents lists the stored events of one calendar.
func (s *Storage) CalendarEvents(ctx context.Context, ownerID, calendarID string) ([]model.ExternalEvent, error) {
	return s.selectEvents(ctx, `
		SELECT `+eventColumns+` FROM external_events e
		WHERE e.owner_id = ? AND e.calendar_id = ?
		ORDER BY e.start_at, e.uid
	`, ownerID, calendarID)
}

func (s *Storage) selectEvents(ctx context.Context, query string, args ...interface{}) ([]model.ExternalEvent, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "store: select events")
	}
	res := make([]model.ExternalEvent, len(rows))
	for i, r := range rows {
		res[i] = r.Convert()
	}
	return res, nil
}

func (s *Storage) PutClass(ctx context.Context, c *model.Class) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classes (id, owner_id, name, code, days, start_time, end_time, location, semester_start, semester_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			days = excluded.days,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			location = excluded.location,
			semester_start = excluded.semester_start,
			semester_end = excluded.semester_end
		WHERE classes.owner_id = excluded.owner_id
	`, c.ID, c.OwnerID, c.Name, c.Code, encodeDays(c.Days), c.StartTime, c.EndTime, c.Location,
		c.SemesterStart.UTC(), c.SemesterEnd.UTC())
	return errors.Wrap(err, "store: put class")
}

func (s *Storage) Classes(ctx context.Context, ownerID string) ([]model.Class, error) {
	var rows []classRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, name, code, days, start_time, end_time, location, semester_start, semester_end
		FROM classes WHERE owner_id = ? ORDER BY semester_start, id
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "store: select classes")
	}
	res := make([]model.Class, len(rows))
	for i, r := range rows {
		res[i] = r.Convert()
	}
	return res, nil
}

func (s *Storage) PutSession(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	topics, err := json.Marshal(sess.Topics)
	if err != nil {
		return errors.Wrap(err, "store: encode topics")
	}
	if sess.Topics == nil {
		topics = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, class_id, title, date, start_time, end_time, location, notes, topics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class_id = excluded.class_id,
			title = excluded.title,
			date = excluded.date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			location = excluded.location,
			notes = excluded.notes,
			topics = excluded.topics
		WHERE sessions.owner_id = excluded.owner_id
	`, sess.ID, sess.OwnerID, sess.ClassID, sess.Title, sess.Date.UTC(), sess.StartTime, sess.EndTime,
		sess.Location, sess.Notes, string(topics))
	return errors.Wrap(err, "store: put session")
}

func (s *Storage) Sessions(ctx context.Context, ownerID string) ([]model.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, class_id, title, date, start_time, end_time, location, notes, topics
		FROM sessions WHERE owner_id = ? ORDER BY date, start_time, id
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "store: select sessions")
	}
	res := make([]model.Session, len(rows))
	for i, r := range rows {
		res[i] = r.Convert()
	}
	return res, nil
}

func (s *Storage) PutDeadline(ctx context.Context, d *model.Deadline) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	var weight sql.NullFloat64
	if d.Weight != nil {
		weight = sql.NullFloat64{Float64: *d.Weight, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deadlines (id, owner_id, class_id, title, type, status, due, weight, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class_id = excluded.class_id,
			title = excluded.title,
			type = excluded.type,
			status = excluded.status,
			due = excluded.due,
			weight = excluded.weight,
			description = excluded.description
		WHERE deadlines.owner_id = excluded.owner_id
	`, d.ID, d.OwnerID, d.ClassID, d.Title, d.Type, d.Status, d.Due.UTC(), weight, d.Description)
	return errors.Wrap(err, "store: put deadline")
}

func (s *Storage) Deadlines(ctx context.Context, ownerID string) ([]model.Deadline, error) {
	var rows []deadlineRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, class_id, title, type, status, due, weight, description
		FROM deadlines WHERE owner_id = ? ORDER BY due, id
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "store: select deadlines")
	}
	res := make([]model.Deadline, len(rows))
	for i, r := range rows {
		res[i] = r.Convert()
	}
	return res, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
