package booking

import (
	"time"
)

var weekdayNames = [...]string{
	"domingo", "segunda-feira", "terça-feira", "quarta-feira",
	"quinta-feira", "sexta-feira", "sábado",
}

// WeekdayName is the Portuguese name of d.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// Display layouts.
const (
	displayDate  = "02/01/2006"
	displayClock = "15:04"
)

// AppointmentView is an event rendered in calendar-local terms.
type AppointmentView struct {
	EventID   string `json:"event_id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	Weekday   string `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

func viewOf(evID, title, status string, start, end time.Time, loc *time.Location) AppointmentView {
	ls, le := start.In(loc), end.In(loc)
	return AppointmentView{
		EventID:   evID,
		Title:     title,
		Date:      ls.Format(displayDate),
		Weekday:   WeekdayName(ls.Weekday()),
		StartTime: ls.Format(displayClock),
		EndTime:   le.Format(displayClock),
		Status:    status,
	}
}
