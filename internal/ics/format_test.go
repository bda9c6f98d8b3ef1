package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"studycal/internal/model"
)

var testStamp = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

func testOptions() FormatOptions {
	return FormatOptions{
		ProductID: "-//studycal//test//EN",
		UIDDomain: "test.local",
		Stamp:     testStamp,
	}
}

func formatString(t *testing.T, s Schedule) (string, int) {
	t.Helper()
	var buf bytes.Buffer
	n, err := Format(&buf, s, testOptions())
	require.NoError(t, err)
	return buf.String(), n
}

func TestFormatWeeklyClass(t *testing.T) {
	class := model.Class{
		ID:            "c42",
		Name:          "Linear Algebra",
		Code:          "MATH201",
		Days:          []time.Weekday{time.Wednesday, time.Monday, time.Wednesday},
		StartTime:     "09:00",
		EndTime:       "10:30",
		Location:      "Hall B, Room 2",
		SemesterStart: time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
		SemesterEnd:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	out, n := formatString(t, Schedule{Classes: []model.Class{class}})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT\r\n"))
	assert.Contains(t, out, "\r\nUID:class-c42@test.local\r\n")
	assert.Contains(t, out, "\r\nDTSTART:20260112T090000Z\r\n")
	assert.Contains(t, out, "\r\nDTEND:20260112T103000Z\r\n")
	assert.Contains(t, out, "\r\nRRULE:FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20260501T235959Z\r\n")
	assert.Contains(t, out, "\r\nSUMMARY:MATH201: Linear Algebra\r\n")
	assert.Contains(t, out, `LOCATION:Hall B\, Room 2`)

	events, err := Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, events, 1)

	r, err := rrule.StrToRRule(events[0].RRule)
	require.NoError(t, err)
	r.DTStart(events[0].Start)
	occ := r.All()
	require.NotEmpty(t, occ)
	assert.Equal(t, time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC), occ[0])
	assert.Equal(t, time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC), occ[1])
	assert.False(t, occ[len(occ)-1].After(time.Date(2026, 5, 1, 23, 59, 59, 0, time.UTC)))
}

func TestFormatSkipsClassWithoutDays(t *testing.T) {
	class := model.Class{
		ID:            "empty",
		Name:          "Self study",
		StartTime:     "09:00",
		EndTime:       "10:00",
		SemesterStart: time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
		SemesterEnd:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	out, n := formatString(t, Schedule{Classes: []model.Class{class}})
	assert.Equal(t, 0, n)
	assert.NotContains(t, out, "BEGIN:VEVENT")
}

func TestFormatSessionWithTopics(t *testing.T) {
	sess := model.Session{
		ID:        "s7",
		Title:     "Exam prep",
		Date:      time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		StartTime: "14:00",
		EndTime:   "16:00:00",
		Location:  "Library",
		Notes:     "Past papers",
		Topics:    []string{"eigenvalues", " ", "SVD"},
	}
	out, n := formatString(t, Schedule{Sessions: []model.Session{sess}})
	assert.Equal(t, 1, n)
	assert.NotContains(t, out, "RRULE")

	events, err := Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "session-s7@test.local", ev.UID)
	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC), ev.Start)
	require.NotNil(t, ev.End)
	assert.Equal(t, time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC), *ev.End)
	assert.Equal(t, "Past papers\n\nTopics: eigenvalues, SVD", ev.Description)
	assert.Equal(t, "Library", ev.Location)
}

func TestFormatDeadlineAlarm(t *testing.T) {
	d := model.Deadline{
		ID:     "d1",
		Title:  "Lab report",
		Type:   "assignment",
		Status: "pending",
		Due:    time.Date(2026, 4, 20, 17, 0, 0, 0, time.UTC),
	}
	out, _ := formatString(t, Schedule{Deadlines: []model.Deadline{d}})

	assert.Contains(t, out, "\r\nDTSTART;VALUE=DATE:20260420\r\n")
	assert.Contains(t, out, "\r\nDTEND;VALUE=DATE:20260421\r\n")
	assert.Contains(t, out, "\r\nSUMMARY:DUE: Lab report\r\n")
	assert.Contains(t, out, "\r\nDESCRIPTION:assignment - pending\r\n")
	assert.Contains(t, out, "BEGIN:VALARM\r\nACTION:DISPLAY\r\nTRIGGER:-P1D\r\n")
	assert.Contains(t, out, "END:VALARM\r\nEND:VEVENT\r\n")
}

func TestDeadlineRoundTrip(t *testing.T) {
	titles := []string{
		"Essay",
		"Essay, draft 2",
		"Part A; Part B",
		`C:\Users\me\report.docx`,
		`ends with backslash \`,
		`literal \n is not a newline`,
		"two\nlines",
		"Übungsblatt 3 — Lösungen",
		"レポート提出（第二回）",
		"emoji 📚 deadline",
		strings.Repeat("a very long deadline title that must fold, ", 4),
		strings.Repeat("長い課題名", 20),
	}
	due := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	for i, title := range titles {
		d := model.Deadline{
			ID:          "d" + string(rune('a'+i)),
			Title:       title,
			Type:        "exam",
			Status:      "todo",
			Due:         due,
			Description: "notes for " + title,
		}
		out, _ := formatString(t, Schedule{Deadlines: []model.Deadline{d}})

		events, err := Parse([]byte(out))
		require.NoError(t, err, title)
		require.Len(t, events, 1, title)
		ev := events[0]
		assert.Equal(t, DueMarker+title, ev.Summary, title)
		assert.Equal(t, "notes for "+title, ev.Description, title)
		assert.Equal(t, due, ev.Start, title)
		assert.True(t, ev.AllDay, title)
	}
}

func TestFormatFoldsLongLines(t *testing.T) {
	d := model.Deadline{
		ID:          "long",
		Title:       strings.Repeat("ä", 60),
		Type:        "quiz",
		Status:      "todo",
		Due:         time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Description: strings.Repeat("x", 200),
	}
	out, _ := formatString(t, Schedule{Deadlines: []model.Deadline{d}})

	for _, line := range strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), maxLineOctets, line)
		assert.True(t, utf8.ValidString(line), line)
	}
}

func TestFormatDocumentEnvelope(t *testing.T) {
	out, n := formatString(t, Schedule{})
	assert.Equal(t, 0, n)
	assert.Equal(t, "BEGIN:VCALENDAR\r\n"+
		"VERSION:2.0\r\n"+
		"PRODID:-//studycal//test//EN\r\n"+
		"CALSCALE:GREGORIAN\r\n"+
		"METHOD:PUBLISH\r\n"+
		"END:VCALENDAR\r\n", out)
}

func TestFormatSkipsBadEntities(t *testing.T) {
	s := Schedule{
		Sessions: []model.Session{
			{ID: "bad", Title: "No date"},
			{ID: "badtime", Title: "Bad time", Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), StartTime: "25:99"},
			{ID: "ok", Title: "All day workshop", Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		},
	}
	out, n := formatString(t, s)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20260302")
}

func TestFormatPassesIndependentParser(t *testing.T) {
	s := Schedule{
		Classes: []model.Class{{
			ID: "c1", Name: "Physics", Days: []time.Weekday{time.Tuesday, time.Thursday},
			StartTime: "11:00", EndTime: "12:00",
			SemesterStart: time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC),
			SemesterEnd:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		}},
		Sessions:  []model.Session{{ID: "s1", Title: "Tutorial; week 3", Date: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), StartTime: "15:00", EndTime: "16:00"}},
		Deadlines: []model.Deadline{{ID: "d1", Title: "Problem set, 1", Type: "homework", Status: "todo", Due: time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)}},
	}
	var buf bytes.Buffer
	n, err := Format(&buf, s, testOptions())
	require.NoError(t, err)

	got, err := Validate(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, n, got)
	assert.Equal(t, 3, got)
}

func TestEscapeUnescape(t *testing.T) {
	tests := []struct {
		plain, escaped string
	}{
		{`a,b`, `a\,b`},
		{`a;b`, `a\;b`},
		{`a\b`, `a\\b`},
		{"a\nb", `a\nb`},
		{"a\r\nb", `a\nb`},
		{`\;`, `\\\;`},
		{`\n`, `\\n`},
	}
	for _, test := range tests {
		assert.Equal(t, test.escaped, EscapeText(test.plain), test.plain)
	}
	for _, test := range tests[:4] {
		assert.Equal(t, test.plain, UnescapeText(test.escaped), test.escaped)
	}
	assert.Equal(t, `\;`, UnescapeText(`\\\;`))
	assert.Equal(t, `\n`, UnescapeText(`\\n`))
	assert.Equal(t, `keep \x`, UnescapeText(`keep \x`))
	assert.Equal(t, `trailing \`, UnescapeText(`trailing \`))
}
