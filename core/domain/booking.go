package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Calendar is a bookable schedule owned by a tenant.
type Calendar struct {
	ID        uuid.UUID     `json:"id"`
	ClientID  uuid.UUID     `json:"client_id"`
	Name      string        `json:"name"`
	Timezone  string        `json:"timezone"`
	Policy    BookingPolicy `json:"policy"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// BookingPolicy holds the per-calendar booking rules.
type BookingPolicy struct {
	DurationMinutes   int  `json:"duration"`
	BufferMinutes     int  `json:"buffer_time"`
	MinNoticeHours    int  `json:"min_notice_hours"`
	MaxBookingDays    int  `json:"max_booking_days"`
	MaxEventsPerDay   int  `json:"max_events_per_day"` // 0 = unlimited
	AllowRescheduling bool `json:"allow_rescheduling"`
	AllowCancellation bool `json:"allow_cancellation"`
}

func (p BookingPolicy) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

func (p BookingPolicy) Buffer() time.Duration {
	return time.Duration(p.BufferMinutes) * time.Minute
}

func (p BookingPolicy) MinNotice() time.Duration {
	return time.Duration(p.MinNoticeHours) * time.Hour
}

// DefaultBookingPolicy is applied to columns left at zero.
var DefaultBookingPolicy = BookingPolicy{
	DurationMinutes:   30,
	BufferMinutes:     0,
	MinNoticeHours:    2,
	MaxBookingDays:    30,
	MaxEventsPerDay:   0,
	AllowRescheduling: true,
	AllowCancellation: true,
}

// AvailabilityRule is a recurring weekly open period in calendar-local time.
type AvailabilityRule struct {
	ID          uuid.UUID    `json:"id"`
	CalendarID  uuid.UUID    `json:"calendar_id"`
	DayOfWeek   time.Weekday `json:"day_of_week"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
	IsAvailable bool         `json:"is_available"`
}

type EventStatus string

const (
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

// LiveEventStatuses are the statuses that occupy a slot.
var LiveEventStatuses = []EventStatus{EventStatusScheduled, EventStatusConfirmed, EventStatusCompleted}

type Event struct {
	ID          uuid.UUID      `json:"id"`
	CalendarID  uuid.UUID      `json:"calendar_id"`
	ClientID    uuid.UUID      `json:"client_id"`
	ContactID   *uuid.UUID     `json:"contact_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Status      EventStatus    `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (e *Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Overlaps uses half-open intervals, so back-to-back events do not overlap.
func (e *Event) Overlaps(start, end time.Time) bool {
	return start.Before(e.EndTime) && end.After(e.StartTime)
}

func (e *Event) IsCancelled() bool {
	return e.Status == EventStatusCancelled
}

type Booking struct {
	ID          uuid.UUID `json:"id"`
	EventID     uuid.UUID `json:"event_id"`
	BookerName  string    `json:"booker_name"`
	BookerPhone string    `json:"booker_phone"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Contact struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventFilter selects events of one calendar overlapping [From, To). Nil bounds are open.
type EventFilter struct {
	ClientID   uuid.UUID
	CalendarID uuid.UUID
	ContactID  *uuid.UUID
	From       *time.Time
	To         *time.Time
	Statuses   []EventStatus
	ExcludeID  *uuid.UUID
	Limit      int
}

// NormalizePhone keeps only digits.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
