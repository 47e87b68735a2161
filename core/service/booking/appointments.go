package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"
	"agent_server/pkg/logger"
	"agent_server/pkg/timezone"

	"github.com/google/uuid"
)

// Date ranges accepted by QueryAppointments.
const (
	RangeToday    = "today"
	RangeTomorrow = "tomorrow"
	RangeWeek     = "week"
	RangeMonth    = "month"
	RangeAll      = "all"
)

type QueryInput struct {
	Phone     string
	DateRange string
}

type QueryData struct {
	Count        int               `json:"count"`
	DateRange    string            `json:"date_range"`
	Appointments []AppointmentView `json:"appointments"`
}

// QueryAppointments lists a contact's live appointments in a date range, ordered by start.
func (s *Service) QueryAppointments(ctx context.Context, scope Scope, input QueryInput) (*Result, error) {
	cal, rej, err := s.loadCalendar(ctx, scope)
	if err != nil || rej != nil {
		return rej, err
	}

	phone := domain.NormalizePhone(input.Phone)
	if phone == "" {
		return reject(CodeInvalidInput, "Informe o telefone do contato."), nil
	}
	dateRange := strings.ToLower(strings.TrimSpace(input.DateRange))
	if dateRange == "" {
		dateRange = RangeAll
	}

	from, to, err := s.rangeWindow(dateRange, cal.Timezone)
	if err != nil {
		return reject(CodeInvalidInput, "Período inválido. Use today, tomorrow, week, month ou all."), nil
	}

	contact, err := s.repo.FindContactByPhone(ctx, cal.ClientID, phone)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	data := QueryData{DateRange: dateRange, Appointments: []AppointmentView{}}
	if contact == nil {
		return ok("Nenhum agendamento encontrado.", data), nil
	}

	events, err := s.repo.ListEvents(ctx, &domain.EventFilter{
		ClientID:   cal.ClientID,
		CalendarID: cal.ID,
		ContactID:  &contact.ID,
		From:       &from,
		To:         to,
		Statuses:   domain.LiveEventStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	loc, err := timezone.LoadLocation(cal.Timezone)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		data.Appointments = append(data.Appointments,
			viewOf(ev.ID.String(), ev.Title, string(ev.Status), ev.StartTime, ev.EndTime, loc))
	}
	data.Count = len(data.Appointments)

	if data.Count == 0 {
		return ok("Nenhum agendamento encontrado.", data), nil
	}
	return ok(fmt.Sprintf("%d agendamento(s) encontrado(s).", data.Count), data), nil
}

// rangeWindow maps a named range to a UTC window starting at local midnight today.
// A nil upper bound means unbounded.
func (s *Service) rangeWindow(dateRange, zone string) (time.Time, *time.Time, error) {
	today, err := timezone.Today(s.now(), zone)
	if err != nil {
		return time.Time{}, nil, err
	}
	start, endToday, err := timezone.DayBounds(today, zone)
	if err != nil {
		return time.Time{}, nil, err
	}

	boundAfter := func(days int) (*time.Time, error) {
		d, err := timezone.AddDays(today, days)
		if err != nil {
			return nil, err
		}
		t, _, err := timezone.DayBounds(d, zone)
		return &t, err
	}

	switch dateRange {
	case RangeToday:
		return start, &endToday, nil
	case RangeTomorrow:
		tomorrow, _ := timezone.AddDays(today, 1)
		from, to, err := timezone.DayBounds(tomorrow, zone)
		return from, &to, err
	case RangeWeek:
		to, err := boundAfter(7)
		return start, to, err
	case RangeMonth:
		to, err := boundAfter(30)
		return start, to, err
	case RangeAll:
		return start, nil, nil
	default:
		return time.Time{}, nil, fmt.Errorf("unknown date range %q", dateRange)
	}
}

type CreateInput struct {
	Phone           string
	Name            string
	Date            string // YYYY-MM-DD, calendar-local
	Time            string // HH:MM, calendar-local
	DurationMinutes int    // 0 = calendar default
	Notes           string
}

type CreateData struct {
	AppointmentView
	ContactID string `json:"contact_id"`
}

// CreateAppointment books a slot after validating notice, horizon and daily cap.
func (s *Service) CreateAppointment(ctx context.Context, scope Scope, input CreateInput) (*Result, error) {
	cal, rej, err := s.loadCalendar(ctx, scope)
	if err != nil || rej != nil {
		return rej, err
	}

	phone := domain.NormalizePhone(input.Phone)
	name := strings.TrimSpace(input.Name)
	if phone == "" || name == "" {
		return reject(CodeInvalidInput, "Nome e telefone são obrigatórios para agendar."), nil
	}

	start, err := timezone.ToUTC(input.Date, input.Time, cal.Timezone)
	if err != nil {
		return reject(CodeInvalidInput, "Data ou horário inválido. Use AAAA-MM-DD e HH:MM."), nil
	}

	policy := cal.Policy
	if rej := s.checkWindow(policy, start); rej != nil {
		return rej, nil
	}

	dayStart, dayEnd, err := timezone.DayBounds(input.Date, cal.Timezone)
	if err != nil {
		return reject(CodeInvalidInput, "Data inválida. Use o formato AAAA-MM-DD."), nil
	}
	if policy.MaxEventsPerDay > 0 {
		count, err := s.repo.CountEventsStarting(ctx, cal.ID, dayStart, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
		if count >= policy.MaxEventsPerDay {
			return dailyLimit(), nil
		}
	}

	contact, err := s.repo.UpsertContact(ctx, &domain.Contact{
		ID:       uuid.New(),
		ClientID: cal.ClientID,
		Phone:    phone,
		Name:     name,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}

	duration := policy.Duration()
	if input.DurationMinutes > 0 {
		duration = time.Duration(input.DurationMinutes) * time.Minute
	}

	now := s.now().UTC()
	event := &domain.Event{
		ID:          uuid.New(),
		CalendarID:  cal.ID,
		ClientID:    cal.ClientID,
		ContactID:   &contact.ID,
		Title:       "Agendamento - " + name,
		Description: strings.TrimSpace(input.Notes),
		StartTime:   start,
		EndTime:     start.Add(duration),
		Status:      domain.EventStatusScheduled,
		Metadata: map[string]any{
			"source":       "ai_agent",
			"booker_phone": phone,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	booking := &domain.Booking{
		ID:          uuid.New(),
		EventID:     event.ID,
		BookerName:  name,
		BookerPhone: phone,
		Notes:       strings.TrimSpace(input.Notes),
		CreatedAt:   now,
	}

	err = s.repo.BookSlot(ctx, &out.SlotBooking{
		Event:     event,
		Booking:   booking,
		DayStart:  dayStart,
		DayEnd:    dayEnd,
		MaxPerDay: policy.MaxEventsPerDay,
	})
	switch {
	case errors.Is(err, out.ErrSlotUnavailable):
		return slotUnavailable(), nil
	case errors.Is(err, out.ErrDailyLimitReached):
		return dailyLimit(), nil
	case err != nil:
		return nil, fmt.Errorf("book slot: %w", err)
	}

	loc, _ := timezone.LoadLocation(cal.Timezone)
	view := viewOf(event.ID.String(), event.Title, string(event.Status), event.StartTime, event.EndTime, loc)
	logger.Info("[BookingService.CreateAppointment] event %s booked on calendar %s at %s", event.ID, cal.ID, start.Format(time.RFC3339))

	return ok(
		fmt.Sprintf("Agendamento confirmado para %s, %s às %s.", view.Weekday, view.Date, view.StartTime),
		CreateData{AppointmentView: view, ContactID: contact.ID.String()},
	), nil
}

type RescheduleInput struct {
	EventID string
	NewDate string
	NewTime string
}

// RescheduleAppointment moves an event keeping its duration.
func (s *Service) RescheduleAppointment(ctx context.Context, scope Scope, input RescheduleInput) (*Result, error) {
	cal, rej, err := s.loadCalendar(ctx, scope)
	if err != nil || rej != nil {
		return rej, err
	}
	if !cal.Policy.AllowRescheduling {
		return reject(CodeRescheduleDisabled, "Esta agenda não permite reagendamentos."), nil
	}

	ev, rej, err := s.loadOwnedEvent(ctx, cal, input.EventID)
	if err != nil || rej != nil {
		return rej, err
	}
	if ev.Status == domain.EventStatusCancelled || ev.Status == domain.EventStatusCompleted {
		return reject(CodeInvalidState, "Este agendamento não pode mais ser alterado."), nil
	}

	newStart, err := timezone.ToUTC(input.NewDate, input.NewTime, cal.Timezone)
	if err != nil {
		return reject(CodeInvalidInput, "Data ou horário inválido. Use AAAA-MM-DD e HH:MM."), nil
	}
	if rej := s.checkWindow(cal.Policy, newStart); rej != nil {
		return rej, nil
	}

	duration := ev.Duration()
	previous := ev.StartTime
	ev.StartTime = newStart
	ev.EndTime = newStart.Add(duration)
	ev.UpdatedAt = s.now().UTC()
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	ev.Metadata["rescheduled_at"] = ev.UpdatedAt.Format(time.RFC3339)
	ev.Metadata["previous_start"] = previous.UTC().Format(time.RFC3339)

	err = s.repo.RescheduleEvent(ctx, ev)
	if errors.Is(err, out.ErrSlotUnavailable) {
		return slotUnavailable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reschedule event: %w", err)
	}

	loc, _ := timezone.LoadLocation(cal.Timezone)
	view := viewOf(ev.ID.String(), ev.Title, string(ev.Status), ev.StartTime, ev.EndTime, loc)
	return ok(fmt.Sprintf("Agendamento remarcado para %s, %s às %s.", view.Weekday, view.Date, view.StartTime), view), nil
}

type CancelInput struct {
	EventID string
	Reason  string
}

// CancelAppointment soft-cancels an event. The row is kept.
func (s *Service) CancelAppointment(ctx context.Context, scope Scope, input CancelInput) (*Result, error) {
	cal, rej, err := s.loadCalendar(ctx, scope)
	if err != nil || rej != nil {
		return rej, err
	}
	if !cal.Policy.AllowCancellation {
		return reject(CodeCancellationDisabled, "Esta agenda não permite cancelamentos pelo atendimento."), nil
	}

	ev, rej, err := s.loadOwnedEvent(ctx, cal, input.EventID)
	if err != nil || rej != nil {
		return rej, err
	}
	if ev.IsCancelled() {
		return reject(CodeAlreadyCancelled, "Este agendamento já está cancelado."), nil
	}

	now := s.now().UTC()
	ev.Status = domain.EventStatusCancelled
	ev.UpdatedAt = now
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	ev.Metadata["cancelled_at"] = now.Format(time.RFC3339)
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		ev.Metadata["cancellation_reason"] = reason
	}

	if err := s.repo.CancelEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("cancel event: %w", err)
	}

	loc, _ := timezone.LoadLocation(cal.Timezone)
	view := viewOf(ev.ID.String(), ev.Title, string(ev.Status), ev.StartTime, ev.EndTime, loc)
	return ok(fmt.Sprintf("Agendamento de %s às %s cancelado.", view.Date, view.StartTime), view), nil
}

func slotUnavailable() *Result {
	return reject(CodeSlotUnavailable, "Este horário não está mais disponível. Consulte outro horário.")
}

func dailyLimit() *Result {
	return reject(CodeDailyLimit, "O limite de agendamentos para este dia foi atingido.")
}
