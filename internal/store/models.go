package store

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"studycal/internal/model"
)

type calendarRow struct {
	ID           string       `db:"id"`
	OwnerID      string       `db:"owner_id"`
	Name         string       `db:"name"`
	Provider     string       `db:"provider"`
	URL          string       `db:"url"`
	Color        string       `db:"color"`
	Enabled      bool         `db:"enabled"`
	LastSyncedAt sql.NullTime `db:"last_synced_at"`
}

func (c calendarRow) Convert() model.ExternalCalendar {
	cal := model.ExternalCalendar{
		ID:       c.ID,
		OwnerID:  c.OwnerID,
		Name:     c.Name,
		Provider: model.Provider(c.Provider),
		URL:      c.URL,
		Color:    c.Color,
		Enabled:  c.Enabled,
	}
	if c.LastSyncedAt.Valid {
		t := c.LastSyncedAt.Time.UTC()
		cal.LastSyncedAt = &t
	}
	return cal
}

type eventRow struct {
	CalendarID  string       `db:"calendar_id"`
	OwnerID     string       `db:"owner_id"`
	UID         string       `db:"uid"`
	Title       string       `db:"title"`
	Description string       `db:"description"`
	Location    string       `db:"location"`
	StartAt     time.Time    `db:"start_at"`
	EndAt       sql.NullTime `db:"end_at"`
	AllDay      bool         `db:"all_day"`
	RRule       string       `db:"rrule"`
}

func (e eventRow) Convert() model.ExternalEvent {
	ev := model.ExternalEvent{
		CalendarID:  e.CalendarID,
		OwnerID:     e.OwnerID,
		UID:         e.UID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.StartAt.UTC(),
		AllDay:      e.AllDay,
		RRule:       e.RRule,
	}
	if e.EndAt.Valid {
		t := e.EndAt.Time.UTC()
		ev.End = &t
	}
	return ev
}

type classRow struct {
	ID            string    `db:"id"`
	OwnerID       string    `db:"owner_id"`
	Name          string    `db:"name"`
	Code          string    `db:"code"`
	Days          string    `db:"days"`
	StartTime     string    `db:"start_time"`
	EndTime       string    `db:"end_time"`
	Location      string    `db:"location"`
	SemesterStart time.Time `db:"semester_start"`
	SemesterEnd   time.Time `db:"semester_end"`
}

func (c classRow) Convert() model.Class {
	return model.Class{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		Name:          c.Name,
		Code:          c.Code,
		Days:          decodeDays(c.Days),
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
		Location:      c.Location,
		SemesterStart: c.SemesterStart.UTC(),
		SemesterEnd:   c.SemesterEnd.UTC(),
	}
}

type sessionRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	ClassID   string    `db:"class_id"`
	Title     string    `db:"title"`
	Date      time.Time `db:"date"`
	StartTime string    `db:"start_time"`
	EndTime   string    `db:"end_time"`
	Location  string    `db:"location"`
	Notes     string    `db:"notes"`
	Topics    string    `db:"topics"`
}

func (s sessionRow) Convert() model.Session {
	sess := model.Session{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		ClassID:   s.ClassID,
		Title:     s.Title,
		Date:      s.Date.UTC(),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Location:  s.Location,
		Notes:     s.Notes,
	}
	// A malformed topics column only loses the tags.
	_ = json.Unmarshal([]byte(s.Topics), &sess.Topics)
	return sess
}

type deadlineRow struct {
	ID          string          `db:"id"`
	OwnerID     string          `db:"owner_id"`
	ClassID     string          `db:"class_id"`
	Title       string          `db:"title"`
	Type        string          `db:"type"`
	Status      string          `db:"status"`
	Due         time.Time       `db:"due"`
	Weight      sql.NullFloat64 `db:"weight"`
	Description string          `db:"description"`
}

func (d deadlineRow) Convert() model.Deadline {
	dl := model.Deadline{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		ClassID:     d.ClassID,
		Title:       d.Title,
		Type:        d.Type,
		Status:      d.Status,
		Due:         d.Due.UTC(),
		Description: d.Description,
	}
	if d.Weight.Valid {
		w := d.Weight.Float64
		dl.Weight = &w
	}
	return dl
}

// encodeDays stores weekdays as "1,3" (Sunday = 0).
func encodeDays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) []time.Weekday {
	var days []time.Weekday
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
