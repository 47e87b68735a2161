// Package booking implements calendar scheduling rules: slot generation,
// overlap detection and the notice, horizon and daily-cap policies.
package booking

import (
	"context"
	"fmt"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"
	"agent_server/pkg/logger"
	"agent_server/pkg/timezone"

	"github.com/google/uuid"
)

// Rejection codes returned in Result.Code.
const (
	CodeNotConfigured        = "NOT_CONFIGURED"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeNoticeWindow         = "NOTICE_WINDOW"
	CodeHorizonExceeded      = "HORIZON_EXCEEDED"
	CodeDailyLimit           = "DAILY_LIMIT"
	CodeSlotUnavailable      = "SLOT_UNAVAILABLE"
	CodeRescheduleDisabled   = "RESCHEDULE_DISABLED"
	CodeCancellationDisabled = "CANCELLATION_DISABLED"
	CodeNotFound             = "NOT_FOUND"
	CodeAlreadyCancelled     = "ALREADY_CANCELLED"
	CodeInvalidState         = "INVALID_STATE"
)

// Scope identifies the tenant and the calendar an operation acts on.
type Scope struct {
	ClientID   uuid.UUID
	CalendarID *uuid.UUID
}

// Result is the structured outcome of a booking operation.
// Business rule failures are Results with Success=false, never errors.
type Result struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(message string, data any) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

func reject(code, message string) *Result {
	return &Result{Success: false, Code: code, Message: message}
}

type Service struct {
	repo out.BookingRepository
	now  func() time.Time
}

func NewService(repo out.BookingRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// loadCalendar resolves the scoped calendar. A nil Result with nil error means proceed.
func (s *Service) loadCalendar(ctx context.Context, scope Scope) (*domain.Calendar, *Result, error) {
	if scope.CalendarID == nil || *scope.CalendarID == uuid.Nil {
		return nil, reject(CodeNotConfigured, "Nenhuma agenda está configurada para este atendimento."), nil
	}
	cal, err := s.repo.GetCalendar(ctx, scope.ClientID, *scope.CalendarID)
	if err != nil {
		return nil, nil, fmt.Errorf("get calendar: %w", err)
	}
	if cal == nil {
		logger.Warn("[BookingService.loadCalendar] calendar %s not found for client %s", scope.CalendarID, scope.ClientID)
		return nil, reject(CodeNotConfigured, "A agenda configurada não foi encontrada."), nil
	}
	if _, err := timezone.LoadLocation(cal.Timezone); err != nil {
		return nil, nil, fmt.Errorf("calendar %s: %w", cal.ID, err)
	}
	if cal.Policy.DurationMinutes <= 0 {
		cal.Policy.DurationMinutes = domain.DefaultBookingPolicy.DurationMinutes
	}
	return cal, nil, nil
}

// checkWindow applies the minimum notice and booking horizon to a start instant.
// Both bounds are inclusive.
func (s *Service) checkWindow(policy domain.BookingPolicy, start time.Time) *Result {
	lead := start.Sub(s.now())
	if lead < policy.MinNotice() {
		return reject(CodeNoticeWindow, fmt.Sprintf(
			"Agendamentos precisam ser feitos com pelo menos %d hora(s) de antecedência.", policy.MinNoticeHours))
	}
	if policy.MaxBookingDays > 0 && lead > time.Duration(policy.MaxBookingDays)*24*time.Hour {
		return reject(CodeHorizonExceeded, fmt.Sprintf(
			"Só é possível agendar com até %d dia(s) de antecedência.", policy.MaxBookingDays))
	}
	return nil
}

func parseEventID(raw string) (uuid.UUID, *Result) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, reject(CodeInvalidInput, "O identificador do agendamento é inválido.")
	}
	return id, nil
}

// loadOwnedEvent fetches an event belonging to the tenant and to the scoped calendar.
func (s *Service) loadOwnedEvent(ctx context.Context, cal *domain.Calendar, rawID string) (*domain.Event, *Result, error) {
	id, rej := parseEventID(rawID)
	if rej != nil {
		return nil, rej, nil
	}
	ev, err := s.repo.GetEvent(ctx, cal.ClientID, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get event: %w", err)
	}
	if ev == nil || ev.CalendarID != cal.ID {
		return nil, reject(CodeNotFound, "Agendamento não encontrado."), nil
	}
	return ev, nil, nil
}
