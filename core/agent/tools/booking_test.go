package tools

import (
	"context"
	"testing"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"
	"agent_server/core/service/booking"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// stubBookingRepo serves one calendar with a Monday 09:00-12:00 rule and records bookings.
type stubBookingRepo struct {
	cal    *domain.Calendar
	booked []*out.SlotBooking
}

func (s *stubBookingRepo) GetCalendar(_ context.Context, clientID, calendarID uuid.UUID) (*domain.Calendar, error) {
	if s.cal == nil || s.cal.ID != calendarID || s.cal.ClientID != clientID {
		return nil, nil
	}
	cp := *s.cal
	return &cp, nil
}

func (s *stubBookingRepo) ListAvailabilityRules(_ context.Context, calendarID uuid.UUID, day time.Weekday) ([]*domain.AvailabilityRule, error) {
	if day != time.Monday {
		return nil, nil
	}
	return []*domain.AvailabilityRule{{ID: uuid.New(), CalendarID: calendarID, DayOfWeek: day, StartTime: "09:00", EndTime: "12:00", IsAvailable: true}}, nil
}

func (s *stubBookingRepo) ListEvents(context.Context, *domain.EventFilter) ([]*domain.Event, error) {
	var events []*domain.Event
	for _, b := range s.booked {
		events = append(events, b.Event)
	}
	return events, nil
}

func (s *stubBookingRepo) CountEventsStarting(context.Context, uuid.UUID, time.Time, time.Time) (int, error) {
	return len(s.booked), nil
}

func (s *stubBookingRepo) GetEvent(context.Context, uuid.UUID, uuid.UUID) (*domain.Event, error) {
	return nil, nil
}

func (s *stubBookingRepo) FindContactByPhone(context.Context, uuid.UUID, string) (*domain.Contact, error) {
	return nil, nil
}

func (s *stubBookingRepo) UpsertContact(_ context.Context, c *domain.Contact) (*domain.Contact, error) {
	return c, nil
}

func (s *stubBookingRepo) BookSlot(_ context.Context, b *out.SlotBooking) error {
	s.booked = append(s.booked, b)
	return nil
}

func (s *stubBookingRepo) RescheduleEvent(context.Context, *domain.Event) error { return nil }
func (s *stubBookingRepo) CancelEvent(context.Context, *domain.Event) error     { return nil }

func newBookingToolset(t *testing.T) (*Toolset, *ExecContext, *stubBookingRepo) {
	t.Helper()
	cal := &domain.Calendar{
		ID:       uuid.New(),
		ClientID: uuid.New(),
		Timezone: "America/Sao_Paulo",
		Policy:   domain.BookingPolicy{DurationMinutes: 30, MinNoticeHours: 2, MaxBookingDays: 30, AllowCancellation: true, AllowRescheduling: true},
	}
	repo := &stubBookingRepo{cal: cal}
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	svc := booking.NewService(repo).WithClock(func() time.Time { return now })

	r := NewRegistry()
	r.RegisterAll(BookingTools(svc)...)

	calID := cal.ID
	cfg := domain.ToolsConfig{
		EnabledTools: []string{"booking"},
		Booking:      &domain.BookingToolConfig{CalendarID: &calID},
	}
	ec := &ExecContext{ClientID: cal.ClientID, AgentID: uuid.New(), ContactPhone: "5511988887777", Config: cfg}
	return r.ForAgent(cfg), ec, repo
}

func TestBookingTools_Catalogue(t *testing.T) {
	ts, _, _ := newBookingToolset(t)

	want := []string{
		"consultar_agendamentos",
		"verificar_disponibilidade",
		"criar_agendamento",
		"reagendar_agendamento",
		"cancelar_agendamento",
	}
	defs := ts.EnabledDefinitions()
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("tool %d: got %s, want %s", i, def.Name, want[i])
		}
		if def.Category != CategoryBooking {
			t.Errorf("tool %s: wrong category %s", def.Name, def.Category)
		}
	}

	create := defs[2]
	required := map[string]bool{}
	for _, r := range create.Parameters.Required {
		required[r] = true
	}
	for _, p := range []string{"phone_number", "name", "date", "time"} {
		if !required[p] {
			t.Errorf("criar_agendamento must require %s", p)
		}
	}
	if required["notes"] || required["duration_minutes"] {
		t.Error("optional parameters marked required")
	}
}

func TestBookingTools_CheckThenCreate(t *testing.T) {
	ts, ec, repo := newBookingToolset(t)
	ex := NewExecutor(nil, zerolog.Nop())
	ctx := context.Background()

	results := ex.ExecuteToolCalls(ctx, ts, ec, []ToolCall{
		{ID: "a", Name: "verificar_disponibilidade", Arguments: `{"date":"2025-03-10"}`},
	})
	res := decode(t, results[0])
	if !res.Success {
		t.Fatalf("availability failed: %s", res.Error)
	}
	slots := res.Data.(map[string]any)["slots"].([]any)
	if len(slots) != 6 || slots[0] != "09:00" || slots[5] != "11:30" {
		t.Errorf("unexpected slots: %v", slots)
	}

	results = ex.ExecuteToolCalls(ctx, ts, ec, []ToolCall{
		{ID: "b", Name: "criar_agendamento", Arguments: `{"phone_number":"(11) 98888-7777","name":"Ana","date":"2025-03-10","time":"10:00","duration_minutes":"45"}`},
	})
	res = decode(t, results[0])
	if !res.Success {
		t.Fatalf("create failed: %s", res.Error)
	}
	if len(repo.booked) != 1 {
		t.Fatalf("expected one booking, got %d", len(repo.booked))
	}
	ev := repo.booked[0].Event
	if ev.Duration() != 45*time.Minute {
		t.Errorf("duration: got %s", ev.Duration())
	}
	if ev.StartTime != time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC) {
		t.Errorf("start: got %s", ev.StartTime)
	}
	if repo.booked[0].Booking.BookerPhone != "11988887777" {
		t.Errorf("phone not normalized: %s", repo.booked[0].Booking.BookerPhone)
	}
}

func TestBookingTools_NotConfigured(t *testing.T) {
	r := NewRegistry()
	r.RegisterAll(BookingTools(booking.NewService(nil))...)
	cfg := domain.ToolsConfig{EnabledTools: []string{"booking"}}

	ex := NewExecutor(nil, zerolog.Nop())
	results := ex.ExecuteToolCalls(context.Background(), r.ForAgent(cfg), &ExecContext{ClientID: uuid.New(), Config: cfg}, []ToolCall{
		{ID: "x", Name: "cancelar_agendamento", Arguments: `{"event_id":"` + uuid.NewString() + `"}`},
	})

	res := decode(t, results[0])
	if res.Success || res.Code != booking.CodeNotConfigured {
		t.Errorf("expected NOT_CONFIGURED, got success=%v code=%s", res.Success, res.Code)
	}
	if res.Error == "" {
		t.Error("rejections must carry a human readable error")
	}
}
