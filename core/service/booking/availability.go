package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"agent_server/core/domain"
	"agent_server/pkg/logger"
	"agent_server/pkg/timezone"
)

type AvailabilityInput struct {
	Date            string // YYYY-MM-DD, calendar-local
	DurationMinutes int    // 0 = calendar default
}

type AvailabilityData struct {
	Date            string   `json:"date"`
	Weekday         string   `json:"weekday"`
	Available       bool     `json:"available"`
	Slots           []string `json:"slots"`
	DurationMinutes int      `json:"duration_minutes"`
}

// CheckAvailability lists the free slot starts ("HH:MM", calendar-local) on a date.
func (s *Service) CheckAvailability(ctx context.Context, scope Scope, input AvailabilityInput) (*Result, error) {
	cal, rej, err := s.loadCalendar(ctx, scope)
	if err != nil || rej != nil {
		return rej, err
	}

	loc, err := timezone.LoadLocation(cal.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone: %w", err)
	}
	dayStart, dayEnd, err := timezone.DayBounds(input.Date, cal.Timezone)
	if err != nil {
		return reject(CodeInvalidInput, "Data inválida. Use o formato AAAA-MM-DD."), nil
	}

	today, err := timezone.Today(s.now(), cal.Timezone)
	if err != nil {
		return nil, err
	}
	if input.Date < today {
		return reject(CodeInvalidInput, "Não é possível consultar datas no passado."), nil
	}

	policy := cal.Policy
	if policy.MaxBookingDays > 0 {
		days := dayStart.Sub(s.now()).Hours() / 24
		if days > float64(policy.MaxBookingDays) {
			return reject(CodeHorizonExceeded, fmt.Sprintf(
				"Só é possível agendar com até %d dia(s) de antecedência.", policy.MaxBookingDays)), nil
		}
	}

	duration := policy.Duration()
	if input.DurationMinutes > 0 {
		duration = time.Duration(input.DurationMinutes) * time.Minute
	}

	weekday, _ := timezone.Weekday(input.Date)
	rules, err := s.repo.ListAvailabilityRules(ctx, cal.ID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}

	events, err := s.repo.ListEvents(ctx, &domain.EventFilter{
		ClientID:   cal.ClientID,
		CalendarID: cal.ID,
		From:       &dayStart,
		To:         &dayEnd,
		Statuses:   domain.LiveEventStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	notBefore := s.now().Add(policy.MinNotice())
	slots := computeSlots(input.Date, loc, rules, events, duration, policy.Buffer(), notBefore)

	data := AvailabilityData{
		Date:            input.Date,
		Weekday:         WeekdayName(weekday),
		Available:       len(slots) > 0,
		Slots:           slots,
		DurationMinutes: int(duration / time.Minute),
	}
	display := dayStart.In(loc).Format(displayDate)
	if !data.Available {
		return ok(fmt.Sprintf("Não há horários disponíveis em %s (%s).", display, data.Weekday), data), nil
	}
	return ok(fmt.Sprintf("Horários disponíveis em %s (%s): %s.", display, data.Weekday, strings.Join(slots, ", ")), data), nil
}

// computeSlots walks each rule period in steps of duration+buffer. A candidate s
// is kept while s+duration+buffer fits in the period, s is not before notBefore
// and [s, s+duration) overlaps no event. Results are unique and sorted.
func computeSlots(date string, loc *time.Location, rules []*domain.AvailabilityRule, events []*domain.Event, duration, buffer time.Duration, notBefore time.Time) []string {
	step := duration + buffer
	if duration <= 0 || step <= 0 {
		return []string{}
	}
	y, m, d, err := timezone.ParseDate(date)
	if err != nil {
		return []string{}
	}

	seen := make(map[string]struct{})
	slots := []string{}
	for _, rule := range rules {
		if !rule.IsAvailable {
			continue
		}
		periodStart, err := wallInstant(y, m, d, rule.StartTime, loc)
		if err != nil {
			logger.Warn("[computeSlots] skip rule %s: %v", rule.ID, err)
			continue
		}
		periodEnd, err := wallInstant(y, m, d, rule.EndTime, loc)
		if err != nil {
			logger.Warn("[computeSlots] skip rule %s: %v", rule.ID, err)
			continue
		}

		for s := periodStart; !s.Add(step).After(periodEnd); s = s.Add(step) {
			if s.Before(notBefore) || conflicts(events, s, s.Add(duration)) {
				continue
			}
			label := s.In(loc).Format(displayClock)
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			slots = append(slots, label)
		}
	}
	sort.Strings(slots)
	return slots
}

// wallInstant resolves a rule clock on a date. "24:00" means the following midnight.
func wallInstant(y int, m time.Month, d int, clock string, loc *time.Location) (time.Time, error) {
	if c := strings.TrimSpace(clock); c == "24:00" || c == "24:00:00" {
		next := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
		return timezone.WallToUTC(next.Year(), next.Month(), next.Day(), 0, 0, loc), nil
	}
	h, mi, err := timezone.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return timezone.WallToUTC(y, m, d, h, mi, loc), nil
}

func conflicts(events []*domain.Event, start, end time.Time) bool {
	for _, ev := range events {
		if ev.IsCancelled() {
			continue
		}
		if ev.Overlaps(start, end) {
			return true
		}
	}
	return false
}
