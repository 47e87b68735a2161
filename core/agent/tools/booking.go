package tools

import (
	"context"

	"agent_server/core/service/booking"
)

// BookingTools returns the booking capability functions backed by svc.
func BookingTools(svc *booking.Service) []Tool {
	return []Tool{
		&QueryAppointmentsTool{svc: svc},
		&CheckAvailabilityTool{svc: svc},
		&CreateAppointmentTool{svc: svc},
		&RescheduleAppointmentTool{svc: svc},
		&CancelAppointmentTool{svc: svc},
	}
}

func bookingScope(ec *ExecContext) booking.Scope {
	return booking.Scope{
		ClientID:   ec.ClientID,
		CalendarID: ec.Config.BookingCalendarID(),
	}
}

func fromBookingResult(res *booking.Result) *ToolResult {
	out := &ToolResult{
		Success: res.Success,
		Code:    res.Code,
		Data:    res.Data,
		Message: res.Message,
	}
	if !res.Success {
		out.Error = res.Message
	}
	return out
}

func wrapBooking(res *booking.Result, err error) (*ToolResult, error) {
	if err != nil {
		return nil, err
	}
	return fromBookingResult(res), nil
}

// =============================================================================
// consultar_agendamentos
// =============================================================================

type QueryAppointmentsTool struct {
	svc *booking.Service
}

func (t *QueryAppointmentsTool) Name() string           { return "consultar_agendamentos" }
func (t *QueryAppointmentsTool) Category() ToolCategory { return CategoryBooking }

func (t *QueryAppointmentsTool) Description() string {
	return "Consulta os agendamentos existentes de um contato pelo telefone. Use antes de reagendar ou cancelar para obter o event_id."
}

func (t *QueryAppointmentsTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "phone_number", Type: "string", Description: "Telefone do contato, com DDD", Required: true},
		{
			Name:        "date_range",
			Type:        "string",
			Description: "Período a consultar. Padrão: all (a partir de hoje)",
			Enum:        []string{booking.RangeToday, booking.RangeTomorrow, booking.RangeWeek, booking.RangeMonth, booking.RangeAll},
			Default:     booking.RangeAll,
		},
	}
}

func (t *QueryAppointmentsTool) Execute(ctx context.Context, ec *ExecContext, args map[string]any) (*ToolResult, error) {
	return wrapBooking(t.svc.QueryAppointments(ctx, bookingScope(ec), booking.QueryInput{
		Phone:     getStringArg(args, "phone_number", ""),
		DateRange: getStringArg(args, "date_range", booking.RangeAll),
	}))
}

// =============================================================================
// verificar_disponibilidade
// =============================================================================

type CheckAvailabilityTool struct {
	svc *booking.Service
}

func (t *CheckAvailabilityTool) Name() string           { return "verificar_disponibilidade" }
func (t *CheckAvailabilityTool) Category() ToolCategory { return CategoryBooking }

func (t *CheckAvailabilityTool) Description() string {
	return "Lista os horários livres da agenda em uma data. Sempre verifique a disponibilidade antes de criar um agendamento."
}

func (t *CheckAvailabilityTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "date", Type: "string", Description: "Data no formato AAAA-MM-DD", Required: true},
		{Name: "duration_minutes", Type: "integer", Description: "Duração desejada em minutos. Padrão: duração da agenda"},
	}
}

func (t *CheckAvailabilityTool) Execute(ctx context.Context, ec *ExecContext, args map[string]any) (*ToolResult, error) {
	return wrapBooking(t.svc.CheckAvailability(ctx, bookingScope(ec), booking.AvailabilityInput{
		Date:            getStringArg(args, "date", ""),
		DurationMinutes: getIntArg(args, "duration_minutes", 0),
	}))
}

// =============================================================================
// criar_agendamento
// =============================================================================

type CreateAppointmentTool struct {
	svc *booking.Service
}

func (t *CreateAppointmentTool) Name() string           { return "criar_agendamento" }
func (t *CreateAppointmentTool) Category() ToolCategory { return CategoryBooking }

func (t *CreateAppointmentTool) Description() string {
	return "Cria um agendamento para o contato na data e horário informados. Confirme nome, data e horário com o cliente antes de chamar."
}

func (t *CreateAppointmentTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "phone_number", Type: "string", Description: "Telefone do contato, com DDD", Required: true},
		{Name: "name", Type: "string", Description: "Nome de quem será atendido", Required: true},
		{Name: "date", Type: "string", Description: "Data no formato AAAA-MM-DD", Required: true},
		{Name: "time", Type: "string", Description: "Horário de início no formato HH:MM", Required: true},
		{Name: "duration_minutes", Type: "integer", Description: "Duração em minutos. Padrão: duração da agenda"},
		{Name: "notes", Type: "string", Description: "Observações do agendamento"},
	}
}

func (t *CreateAppointmentTool) Execute(ctx context.Context, ec *ExecContext, args map[string]any) (*ToolResult, error) {
	return wrapBooking(t.svc.CreateAppointment(ctx, bookingScope(ec), booking.CreateInput{
		Phone:           getStringArg(args, "phone_number", ec.ContactPhone),
		Name:            getStringArg(args, "name", ""),
		Date:            getStringArg(args, "date", ""),
		Time:            getStringArg(args, "time", ""),
		DurationMinutes: getIntArg(args, "duration_minutes", 0),
		Notes:           getStringArg(args, "notes", ""),
	}))
}

// =============================================================================
// reagendar_agendamento
// =============================================================================

type RescheduleAppointmentTool struct {
	svc *booking.Service
}

func (t *RescheduleAppointmentTool) Name() string           { return "reagendar_agendamento" }
func (t *RescheduleAppointmentTool) Category() ToolCategory { return CategoryBooking }

func (t *RescheduleAppointmentTool) Description() string {
	return "Remarca um agendamento existente para nova data e horário, mantendo a duração."
}

func (t *RescheduleAppointmentTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "event_id", Type: "string", Description: "ID do agendamento (de consultar_agendamentos)", Required: true},
		{Name: "new_date", Type: "string", Description: "Nova data no formato AAAA-MM-DD", Required: true},
		{Name: "new_time", Type: "string", Description: "Novo horário no formato HH:MM", Required: true},
	}
}

func (t *RescheduleAppointmentTool) Execute(ctx context.Context, ec *ExecContext, args map[string]any) (*ToolResult, error) {
	return wrapBooking(t.svc.RescheduleAppointment(ctx, bookingScope(ec), booking.RescheduleInput{
		EventID: getStringArg(args, "event_id", ""),
		NewDate: getStringArg(args, "new_date", ""),
		NewTime: getStringArg(args, "new_time", ""),
	}))
}

// =============================================================================
// cancelar_agendamento
// =============================================================================

type CancelAppointmentTool struct {
	svc *booking.Service
}

func (t *CancelAppointmentTool) Name() string           { return "cancelar_agendamento" }
func (t *CancelAppointmentTool) Category() ToolCategory { return CategoryBooking }

func (t *CancelAppointmentTool) Description() string {
	return "Cancela um agendamento existente. O registro é mantido com status cancelado."
}

func (t *CancelAppointmentTool) Parameters() []ParameterSpec {
	return []ParameterSpec{
		{Name: "event_id", Type: "string", Description: "ID do agendamento (de consultar_agendamentos)", Required: true},
		{Name: "reason", Type: "string", Description: "Motivo do cancelamento"},
	}
}

func (t *CancelAppointmentTool) Execute(ctx context.Context, ec *ExecContext, args map[string]any) (*ToolResult, error) {
	return wrapBooking(t.svc.CancelAppointment(ctx, bookingScope(ec), booking.CancelInput{
		EventID: getStringArg(args, "event_id", ""),
		Reason:  getStringArg(args, "reason", ""),
	}))
}
