package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"

	"github.com/google/uuid"
)

// memRepo is an in-memory out.BookingRepository.
type memRepo struct {
	mu        sync.Mutex
	calendars map[uuid.UUID]*domain.Calendar
	rules     []*domain.AvailabilityRule
	events    map[uuid.UUID]*domain.Event
	contacts  map[string]*domain.Contact
	bookings  map[uuid.UUID]*domain.Booking
}

func newMemRepo() *memRepo {
	return &memRepo{
		calendars: make(map[uuid.UUID]*domain.Calendar),
		events:    make(map[uuid.UUID]*domain.Event),
		contacts:  make(map[string]*domain.Contact),
		bookings:  make(map[uuid.UUID]*domain.Booking),
	}
}

func cloneEvent(ev *domain.Event) *domain.Event {
	cp := *ev
	if ev.Metadata != nil {
		cp.Metadata = make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *memRepo) GetCalendar(_ context.Context, clientID, calendarID uuid.UUID) (*domain.Calendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cal, ok := r.calendars[calendarID]
	if !ok || cal.ClientID != clientID {
		return nil, nil
	}
	cp := *cal
	return &cp, nil
}

func (r *memRepo) ListAvailabilityRules(_ context.Context, calendarID uuid.UUID, day time.Weekday) ([]*domain.AvailabilityRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.AvailabilityRule
	for _, rule := range r.rules {
		if rule.CalendarID == calendarID && rule.DayOfWeek == day && rule.IsAvailable {
			res = append(res, rule)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime < res[j].StartTime })
	return res, nil
}

func statusIn(s domain.EventStatus, list []domain.EventStatus) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *memRepo) ListEvents(_ context.Context, f *domain.EventFilter) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Event
	for _, ev := range r.events {
		if ev.ClientID != f.ClientID || ev.CalendarID != f.CalendarID {
			continue
		}
		if f.ContactID != nil && (ev.ContactID == nil || *ev.ContactID != *f.ContactID) {
			continue
		}
		if !statusIn(ev.Status, f.Statuses) {
			continue
		}
		if f.From != nil && !ev.EndTime.After(*f.From) {
			continue
		}
		if f.To != nil && !ev.StartTime.Before(*f.To) {
			continue
		}
		if f.ExcludeID != nil && ev.ID == *f.ExcludeID {
			continue
		}
		res = append(res, cloneEvent(ev))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.Before(res[j].StartTime) })
	return res, nil
}

func (r *memRepo) countStarting(calendarID uuid.UUID, from, to time.Time) int {
	n := 0
	for _, ev := range r.events {
		if ev.CalendarID == calendarID && !ev.IsCancelled() &&
			!ev.StartTime.Before(from) && ev.StartTime.Before(to) {
			n++
		}
	}
	return n
}

func (r *memRepo) CountEventsStarting(_ context.Context, calendarID uuid.UUID, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countStarting(calendarID, from, to), nil
}

func (r *memRepo) GetEvent(_ context.Context, clientID, eventID uuid.UUID) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok || ev.ClientID != clientID {
		return nil, nil
	}
	return cloneEvent(ev), nil
}

func (r *memRepo) FindContactByPhone(_ context.Context, clientID uuid.UUID, phone string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[clientID.String()+"|"+phone]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) UpsertContact(_ context.Context, c *domain.Contact) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := c.ClientID.String() + "|" + c.Phone
	if existing, ok := r.contacts[key]; ok {
		if c.Name != "" {
			existing.Name = c.Name
		}
		cp := *existing
		return &cp, nil
	}
	cp := *c
	r.contacts[key] = &cp
	ret := cp
	return &ret, nil
}

func (r *memRepo) overlapsLive(ev *domain.Event) bool {
	for _, other := range r.events {
		if other.ID == ev.ID || other.CalendarID != ev.CalendarID || other.IsCancelled() {
			continue
		}
		if other.Overlaps(ev.StartTime, ev.EndTime) {
			return true
		}
	}
	return false
}

func (r *memRepo) BookSlot(_ context.Context, b *out.SlotBooking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlapsLive(b.Event) {
		return out.ErrSlotUnavailable
	}
	if b.MaxPerDay > 0 && r.countStarting(b.Event.CalendarID, b.DayStart, b.DayEnd) >= b.MaxPerDay {
		return out.ErrDailyLimitReached
	}
	r.events[b.Event.ID] = cloneEvent(b.Event)
	bk := *b.Booking
	r.bookings[bk.EventID] = &bk
	return nil
}

func (r *memRepo) RescheduleEvent(_ context.Context, ev *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlapsLive(ev) {
		return out.ErrSlotUnavailable
	}
	r.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (r *memRepo) CancelEvent(_ context.Context, ev *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[ev.ID] = cloneEvent(ev)
	return nil
}

var _ out.BookingRepository = (*memRepo)(nil)
