package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCountsEvents(t *testing.T) {
	doc := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:a\r\nDTSTART:20260302T090000Z\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:b\r\nDTSTART;VALUE=DATE:20260304\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	n, err := Validate([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestValidateRejectsMissingUID(t *testing.T) {
	doc := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nDTSTART:20260302T090000Z\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	_, err := Validate([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no UID")
}
