package ics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

const (
	crlf          = "\r\n"
	maxLineOctets = 75

	utcLayout = "20060102T150405Z"
)

// Schedule is everything published for one owner.
type Schedule struct {
	Classes   []model.Class
	Sessions  []model.Session
	Deadlines []model.Deadline
}

// FormatOptions control document-level properties.
type FormatOptions struct {
	// ProductID is written as PRODID.
	ProductID string
	// UIDDomain is appended to generated UIDs ("class-<id>@<domain>").
	UIDDomain string
	// Name, if set, is written as X-WR-CALNAME.
	Name string
	// Stamp is written as DTSTAMP on every event. Zero means time.Now().
	Stamp time.Time
}

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Format writes s as a complete VCALENDAR document and returns the number
// of VEVENTs written. Entities with unusable dates or times are skipped
// with a warning rather than failing the whole document.
func Format(w io.Writer, s Schedule, opts FormatOptions) (int, error) {
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}
	if opts.UIDDomain == "" {
		opts.UIDDomain = "localhost"
	}
	stamp := opts.Stamp.UTC().Format(utcLayout)

	lw := &lineWriter{w: w}
	lw.raw("BEGIN:VCALENDAR")
	lw.raw("VERSION:2.0")
	lw.prop("PRODID", opts.ProductID)
	lw.raw("CALSCALE:GREGORIAN")
	lw.raw("METHOD:PUBLISH")
	if opts.Name != "" {
		lw.prop("X-WR-CALNAME", EscapeText(opts.Name))
	}

	count := 0
	for _, c := range s.Classes {
		if len(c.Days) == 0 {
			continue
		}
		if err := formatClass(lw, c, opts.UIDDomain, stamp); err != nil {
			appLog.Warn("skipping class in feed", "class_id", c.ID, "err", err)
			continue
		}
		count++
	}
	for _, sess := range s.Sessions {
		if err := formatSession(lw, sess, opts.UIDDomain, stamp); err != nil {
			appLog.Warn("skipping session in feed", "session_id", sess.ID, "err", err)
			continue
		}
		count++
	}
	for _, d := range s.Deadlines {
		if err := formatDeadline(lw, d, opts.UIDDomain, stamp); err != nil {
			appLog.Warn("skipping deadline in feed", "deadline_id", d.ID, "err", err)
			continue
		}
		count++
	}

	lw.raw("END:VCALENDAR")
	return count, lw.err
}

func formatClass(lw *lineWriter, c model.Class, domain, stamp string) error {
	days := byDay(c.Days)
	if days == "" {
		return errors.New("no valid meeting days")
	}
	start, err := atClock(c.SemesterStart, c.StartTime)
	if err != nil {
		return err
	}
	end, err := atClock(c.SemesterStart, c.EndTime)
	if err != nil {
		return err
	}
	if c.SemesterEnd.IsZero() {
		return errors.New("missing semester end")
	}
	y, m, d := c.SemesterEnd.Date()
	until := time.Date(y, m, d, 23, 59, 59, 0, time.UTC)

	lw.raw("BEGIN:VEVENT")
	lw.prop("UID", uid("class", c.ID, domain))
	lw.prop("DTSTAMP", stamp)
	lw.prop("DTSTART", start.Format(utcLayout))
	lw.prop("DTEND", end.Format(utcLayout))
	lw.prop("RRULE", "FREQ=WEEKLY;BYDAY="+days+";UNTIL="+until.Format(utcLayout))
	lw.prop("SUMMARY", EscapeText(c.Title()))
	if c.Location != "" {
		lw.prop("LOCATION", EscapeText(c.Location))
	}
	lw.raw("END:VEVENT")
	return nil
}

func formatSession(lw *lineWriter, s model.Session, domain, stamp string) error {
	if s.Date.IsZero() {
		return errors.New("missing date")
	}

	// Sessions without a start time are all-day.
	dtstart := "DTSTART;VALUE=DATE:" + s.Date.Format(dateLayout)
	dtend := ""
	if s.StartTime != "" {
		start, err := atClock(s.Date, s.StartTime)
		if err != nil {
			return err
		}
		dtstart = "DTSTART:" + start.Format(utcLayout)
		if s.EndTime != "" {
			end, err := atClock(s.Date, s.EndTime)
			if err != nil {
				return err
			}
			dtend = "DTEND:" + end.Format(utcLayout)
		}
	}

	lw.raw("BEGIN:VEVENT")
	lw.prop("UID", uid("session", s.ID, domain))
	lw.prop("DTSTAMP", stamp)
	lw.raw(dtstart)
	if dtend != "" {
		lw.raw(dtend)
	}
	lw.prop("SUMMARY", EscapeText(s.Title))
	if desc := sessionDescription(s); desc != "" {
		lw.prop("DESCRIPTION", EscapeText(desc))
	}
	if s.Location != "" {
		lw.prop("LOCATION", EscapeText(s.Location))
	}
	lw.raw("END:VEVENT")
	return nil
}

func sessionDescription(s model.Session) string {
	var topics []string
	for _, t := range s.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	notes := strings.TrimSpace(s.Notes)
	switch {
	case len(topics) == 0:
		return notes
	case notes == "":
		return "Topics: " + strings.Join(topics, ", ")
	default:
		return notes + "\n\nTopics: " + strings.Join(topics, ", ")
	}
}

func formatDeadline(lw *lineWriter, d model.Deadline, domain, stamp string) error {
	if d.Due.IsZero() {
		return errors.New("missing due date")
	}
	y, m, day := d.Due.Date()
	date := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)

	lw.raw("BEGIN:VEVENT")
	lw.prop("UID", uid("deadline", d.ID, domain))
	lw.prop("DTSTAMP", stamp)
	lw.prop("DTSTART;VALUE=DATE", date.Format(dateLayout))
	lw.prop("DTEND;VALUE=DATE", date.AddDate(0, 0, 1).Format(dateLayout))
	lw.prop("SUMMARY", EscapeText(DueMarker+d.Title))
	lw.prop("DESCRIPTION", EscapeText(d.FallbackDescription()))
	if d.Type != "" {
		lw.prop("CATEGORIES", EscapeText(d.Type))
	}
	lw.raw("BEGIN:VALARM")
	lw.raw("ACTION:DISPLAY")
	lw.raw("TRIGGER:-P1D")
	lw.prop("DESCRIPTION", EscapeText("Reminder: "+d.Title+" is due tomorrow"))
	lw.raw("END:VALARM")
	lw.raw("END:VEVENT")
	return nil
}

// DueMarker prefixes the summary of every deadline event.
const DueMarker = "DUE: "

func uid(kind, id, domain string) string {
	return kind + "-" + id + "@" + domain
}

// byDay renders weekdays as a sorted, de-duplicated BYDAY list.
func byDay(days []time.Weekday) string {
	seen := make(map[time.Weekday]bool, len(days))
	uniq := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		uniq = append(uniq, d)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	codes := make([]string, len(uniq))
	for i, d := range uniq {
		codes[i] = weekdayCodes[d]
	}
	return strings.Join(codes, ",")
}

// atClock combines the calendar date of day with an "HH:MM" or
// "HH:MM:SS" time of day, in UTC.
func atClock(day time.Time, clock string) (time.Time, error) {
	if day.IsZero() {
		return time.Time{}, errors.New("missing date")
	}
	var (
		tod time.Time
		err error
	)
	clock = strings.TrimSpace(clock)
	if strings.Count(clock, ":") == 2 {
		tod, err = time.Parse("15:04:05", clock)
	} else {
		tod, err = time.Parse("15:04", clock)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time of day %q: %w", clock, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC), nil
}

// lineWriter writes content lines with CRLF endings, folding at 75 octets.
// The first write error sticks and later writes are no-ops.
type lineWriter struct {
	w   io.Writer
	err error
}

func (lw *lineWriter) prop(name, value string) {
	lw.raw(name + ":" + value)
}

func (lw *lineWriter) raw(line string) {
	if lw.err != nil {
		return
	}
	_, lw.err = io.WriteString(lw.w, fold(line))
}

// fold splits line into chunks of at most 75 octets, never inside a UTF-8
// sequence. Continuations start with a single space.
func fold(line string) string {
	if len(line) <= maxLineOctets {
		return line + crlf
	}

	var b strings.Builder
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString(crlf)
		b.WriteByte(' ')
		line = line[cut:]
		limit = maxLineOctets - 1
	}
	b.WriteString(line)
	b.WriteString(crlf)
	return b.String()
}
