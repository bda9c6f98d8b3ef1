package model

import (
	"strings"
	"time"
)

// Provider tags the service an external feed comes from.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
	ProviderApple   Provider = "apple"
	ProviderOther   Provider = "other"
)

var validProviders = map[Provider]bool{
	ProviderGoogle:  true,
	ProviderOutlook: true,
	ProviderApple:   true,
	ProviderOther:   true,
}

// IsValid reports whether p is a known provider tag.
func (p Provider) IsValid() bool {
	return validProviders[p]
}

// ExternalCalendar is a subscription to a third-party ICS feed.
// (OwnerID, ID) identifies it; URL and Provider never change after creation.
type ExternalCalendar struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Name         string     `json:"name"`
	Provider     Provider   `json:"provider"`
	URL          string     `json:"url"`
	Color        string     `json:"color"`
	Enabled      bool       `json:"enabled"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
}

// ExternalEvent is one stored VEVENT of an ExternalCalendar.
// (CalendarID, UID) is unique.
type ExternalEvent struct {
	CalendarID  string     `json:"calendar_id"`
	OwnerID     string     `json:"owner_id"`
	UID         string     `json:"uid"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end"`
	AllDay      bool       `json:"all_day"`
	RRule       string     `json:"rrule,omitempty"`
}

// Class is a weekly recurring meeting for the length of a semester.
// StartTime and EndTime are "HH:MM" times of day; semester dates are
// calendar dates at UTC midnight.
type Class struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Name          string         `json:"name"`
	Code          string         `json:"code,omitempty"`
	Days          []time.Weekday `json:"days"`
	StartTime     string         `json:"start_time"`
	EndTime       string         `json:"end_time"`
	Location      string         `json:"location,omitempty"`
	SemesterStart time.Time      `json:"semester_start"`
	SemesterEnd   time.Time      `json:"semester_end"`
}

// Title is the display summary for the class.
func (c Class) Title() string {
	if c.Code == "" {
		return c.Name
	}
	return c.Code + ": " + c.Name
}

// Session is one concrete dated study or class session.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ClassID   string    `json:"class_id,omitempty"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Location  string    `json:"location,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Topics    []string  `json:"topics,omitempty"`
}

// Deadline is a due date such as an assignment or exam.
type Deadline struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	ClassID     string    `json:"class_id,omitempty"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Due         time.Time `json:"due"`
	Weight      *float64  `json:"weight,omitempty"`
	Description string    `json:"description,omitempty"`
}

// FallbackDescription is used when a deadline has no free-text description.
func (d Deadline) FallbackDescription() string {
	if strings.TrimSpace(d.Description) != "" {
		return d.Description
	}
	return d.Type + " - " + d.Status
}

// Occurrence represents a single concrete instance of an external event
// after recurrence expansion.
type Occurrence struct {
	CalendarID string `json:"calendar_id"`
	UID        string `json:"uid"`

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from its start time.
	InstanceKey string `json:"instance_key"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	AllDay bool      `json:"all_day"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}
