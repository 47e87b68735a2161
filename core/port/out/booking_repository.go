package out

import (
	"context"
	"errors"
	"time"

	"agent_server/core/domain"

	"github.com/google/uuid"
)

var (
	// ErrSlotUnavailable is returned when a write would place two live events on the same slot.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrDailyLimitReached is returned when the daily cap re-check inside BookSlot fails.
	ErrDailyLimitReached = errors.New("daily booking limit reached")
)

// SlotBooking is the unit written atomically by BookSlot.
type SlotBooking struct {
	Event   *domain.Event
	Booking *domain.Booking

	// Daily cap re-checked inside the write transaction. MaxPerDay 0 disables it.
	DayStart  time.Time
	DayEnd    time.Time
	MaxPerDay int
}

// BookingRepository is the persistence port of the scheduling engine.
// Every read is scoped by client id. Missing rows return (nil, nil).
type BookingRepository interface {
	GetCalendar(ctx context.Context, clientID, calendarID uuid.UUID) (*domain.Calendar, error)
	ListAvailabilityRules(ctx context.Context, calendarID uuid.UUID, day time.Weekday) ([]*domain.AvailabilityRule, error)

	ListEvents(ctx context.Context, filter *domain.EventFilter) ([]*domain.Event, error)
	// CountEventsStarting counts live events of a calendar whose start lies in [from, to).
	CountEventsStarting(ctx context.Context, calendarID uuid.UUID, from, to time.Time) (int, error)
	GetEvent(ctx context.Context, clientID, eventID uuid.UUID) (*domain.Event, error)

	FindContactByPhone(ctx context.Context, clientID uuid.UUID, phone string) (*domain.Contact, error)
	UpsertContact(ctx context.Context, contact *domain.Contact) (*domain.Contact, error)

	// BookSlot re-checks overlap and the daily cap and inserts event and booking
	// in one transaction. Conflicts return ErrSlotUnavailable.
	BookSlot(ctx context.Context, b *SlotBooking) error
	// RescheduleEvent moves an event, failing with ErrSlotUnavailable on overlap.
	RescheduleEvent(ctx context.Context, event *domain.Event) error
	CancelEvent(ctx context.Context, event *domain.Event) error
}
