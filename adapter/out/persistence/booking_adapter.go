package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent_server/core/domain"
	"agent_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// BookingRepository implements out.BookingRepository on Postgres.
type BookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

var _ out.BookingRepository = (*BookingRepository)(nil)

type calendarRow struct {
	ID                uuid.UUID `db:"id"`
	ClientID          uuid.UUID `db:"client_id"`
	Name              string    `db:"name"`
	Timezone          string    `db:"timezone"`
	Duration          int       `db:"duration"`
	BufferTime        int       `db:"buffer_time"`
	MinNoticeHours    int       `db:"min_notice_hours"`
	MaxBookingDays    int       `db:"max_booking_days"`
	MaxEventsPerDay   int       `db:"max_events_per_day"`
	AllowRescheduling bool      `db:"allow_rescheduling"`
	AllowCancellation bool      `db:"allow_cancellation"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r *calendarRow) toDomain() *domain.Calendar {
	return &domain.Calendar{
		ID:       r.ID,
		ClientID: r.ClientID,
		Name:     r.Name,
		Timezone: r.Timezone,
		Policy: domain.BookingPolicy{
			DurationMinutes:   r.Duration,
			BufferMinutes:     r.BufferTime,
			MinNoticeHours:    r.MinNoticeHours,
			MaxBookingDays:    r.MaxBookingDays,
			MaxEventsPerDay:   r.MaxEventsPerDay,
			AllowRescheduling: r.AllowRescheduling,
			AllowCancellation: r.AllowCancellation,
		},
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type availabilityRow struct {
	ID          uuid.UUID `db:"id"`
	CalendarID  uuid.UUID `db:"calendar_id"`
	DayOfWeek   int       `db:"day_of_week"`
	StartTime   string    `db:"start_time"`
	EndTime     string    `db:"end_time"`
	IsAvailable bool      `db:"is_available"`
}

type eventRow struct {
	ID          uuid.UUID     `db:"id"`
	CalendarID  uuid.UUID     `db:"calendar_id"`
	ClientID    uuid.UUID     `db:"client_id"`
	ContactID   uuid.NullUUID `db:"contact_id"`
	Title       string        `db:"title"`
	Description string        `db:"description"`
	StartTime   time.Time     `db:"start_time"`
	EndTime     time.Time     `db:"end_time"`
	Status      string        `db:"status"`
	Metadata    []byte        `db:"metadata"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

func (r *eventRow) toDomain() (*domain.Event, error) {
	ev := &domain.Event{
		ID:          r.ID,
		CalendarID:  r.CalendarID,
		ClientID:    r.ClientID,
		Title:       r.Title,
		Description: r.Description,
		StartTime:   r.StartTime.UTC(),
		EndTime:     r.EndTime.UTC(),
		Status:      domain.EventStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.ContactID.Valid {
		id := r.ContactID.UUID
		ev.ContactID = &id
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of event %s: %w", r.ID, err)
		}
	}
	return ev, nil
}

type contactRow struct {
	ID        uuid.UUID `db:"id"`
	ClientID  uuid.UUID `db:"client_id"`
	Phone     string    `db:"phone"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *contactRow) toDomain() *domain.Contact {
	return &domain.Contact{
		ID:        r.ID,
		ClientID:  r.ClientID,
		Phone:     r.Phone,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const eventColumns = `id, calendar_id, client_id, contact_id, title, description,
		       start_time, end_time, status, metadata, created_at, updated_at`

// =============================================================================
// Reads
// =============================================================================

func (r *BookingRepository) GetCalendar(ctx context.Context, clientID, calendarID uuid.UUID) (*domain.Calendar, error) {
	query := `
		SELECT id, client_id, name, timezone, duration, buffer_time, min_notice_hours,
		       max_booking_days, max_events_per_day, allow_rescheduling, allow_cancellation,
		       is_active, created_at, updated_at
		FROM calendars
		WHERE id = $1 AND client_id = $2 AND is_active`

	var row calendarRow
	if err := r.db.GetContext(ctx, &row, query, calendarID, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	return row.toDomain(), nil
}

func (r *BookingRepository) ListAvailabilityRules(ctx context.Context, calendarID uuid.UUID, day time.Weekday) ([]*domain.AvailabilityRule, error) {
	query := `
		SELECT id, calendar_id, day_of_week,
		       to_char(start_time, 'HH24:MI:SS') AS start_time,
		       to_char(end_time, 'HH24:MI:SS') AS end_time,
		       is_available
		FROM availability_rules
		WHERE calendar_id = $1 AND day_of_week = $2
		ORDER BY start_time`

	var rows []availabilityRow
	if err := r.db.SelectContext(ctx, &rows, query, calendarID, int(day)); err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}

	rules := make([]*domain.AvailabilityRule, len(rows))
	for i, row := range rows {
		rules[i] = &domain.AvailabilityRule{
			ID:          row.ID,
			CalendarID:  row.CalendarID,
			DayOfWeek:   time.Weekday(row.DayOfWeek),
			StartTime:   row.StartTime,
			EndTime:     row.EndTime,
			IsAvailable: row.IsAvailable,
		}
	}
	return rules, nil
}

func (r *BookingRepository) ListEvents(ctx context.Context, filter *domain.EventFilter) ([]*domain.Event, error) {
	var conditions []string
	var args []interface{}
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("client_id = $%d", argIdx))
	args = append(args, filter.ClientID)
	argIdx++

	if filter.CalendarID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("calendar_id = $%d", argIdx))
		args = append(args, filter.CalendarID)
		argIdx++
	}

	if filter.ContactID != nil {
		conditions = append(conditions, fmt.Sprintf("contact_id = $%d", argIdx))
		args = append(args, *filter.ContactID)
		argIdx++
	}

	// Overlap with [From, To).
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("start_time < $%d", argIdx))
		args = append(args, filter.To.UTC())
		argIdx++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("end_time > $%d", argIdx))
		args = append(args, filter.From.UTC())
		argIdx++
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, pq.Array(statuses))
		argIdx++
	}

	if filter.ExcludeID != nil {
		conditions = append(conditions, fmt.Sprintf("id <> $%d", argIdx))
		args = append(args, *filter.ExcludeID)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE %s
		ORDER BY start_time`, eventColumns, strings.Join(conditions, " AND "))

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]*domain.Event, len(rows))
	for i := range rows {
		ev, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		events[i] = ev
	}
	return events, nil
}

func (r *BookingRepository) CountEventsStarting(ctx context.Context, calendarID uuid.UUID, from, to time.Time) (int, error) {
	return countEventsStarting(ctx, r.db, calendarID, from, to)
}

func countEventsStarting(ctx context.Context, q sqlx.QueryerContext, calendarID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM events
		WHERE calendar_id = $1 AND status <> 'cancelled'
		  AND start_time >= $2 AND start_time < $3`

	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, calendarID, from.UTC(), to.UTC()); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (r *BookingRepository) GetEvent(ctx context.Context, clientID, eventID uuid.UUID) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 AND client_id = $2`

	var row eventRow
	if err := r.db.GetContext(ctx, &row, query, eventID, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return row.toDomain()
}

func (r *BookingRepository) FindContactByPhone(ctx context.Context, clientID uuid.UUID, phone string) (*domain.Contact, error) {
	query := `
		SELECT id, client_id, phone, name, created_at, updated_at
		FROM contacts
		WHERE client_id = $1 AND phone = $2`

	var row contactRow
	if err := r.db.GetContext(ctx, &row, query, clientID, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact: %w", err)
	}
	return row.toDomain(), nil
}

// UpsertContact keeps the existing id on conflict and only fills a blank name.
func (r *BookingRepository) UpsertContact(ctx context.Context, contact *domain.Contact) (*domain.Contact, error) {
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	query := `
		INSERT INTO contacts (id, client_id, phone, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (client_id, phone) DO UPDATE SET
			name = CASE WHEN contacts.name = '' THEN EXCLUDED.name ELSE contacts.name END,
			updated_at = now()
		RETURNING id, client_id, phone, name, created_at, updated_at`

	var row contactRow
	if err := r.db.GetContext(ctx, &row, query, contact.ID, contact.ClientID, contact.Phone, contact.Name); err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	return row.toDomain(), nil
}

// =============================================================================
// Writes
// =============================================================================

func (r *BookingRepository) BookSlot(ctx context.Context, b *out.SlotBooking) error {
	ev := b.Event
	metadata, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	return r.serializable(ctx, func(tx *sqlx.Tx) error {
		if err := checkOverlap(ctx, tx, ev.CalendarID, ev.StartTime, ev.EndTime, nil); err != nil {
			return err
		}

		if b.MaxPerDay > 0 {
			count, err := countEventsStarting(ctx, tx, ev.CalendarID, b.DayStart, b.DayEnd)
			if err != nil {
				return err
			}
			if count >= b.MaxPerDay {
				return out.ErrDailyLimitReached
			}
		}

		var contactID interface{}
		if ev.ContactID != nil {
			contactID = *ev.ContactID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, calendar_id, client_id, contact_id, title, description,
			                    start_time, end_time, status, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)`,
			ev.ID, ev.CalendarID, ev.ClientID, contactID, ev.Title, ev.Description,
			ev.StartTime.UTC(), ev.EndTime.UTC(), string(ev.Status), metadata, ev.CreatedAt, ev.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		if bk := b.Booking; bk != nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO bookings (id, event_id, booker_name, booker_phone, notes, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				bk.ID, ev.ID, bk.BookerName, bk.BookerPhone, bk.Notes, bk.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert booking: %w", err)
			}
		}
		return nil
	})
}

func (r *BookingRepository) RescheduleEvent(ctx context.Context, ev *domain.Event) error {
	metadata, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	return r.serializable(ctx, func(tx *sqlx.Tx) error {
		if err := checkOverlap(ctx, tx, ev.CalendarID, ev.StartTime, ev.EndTime, &ev.ID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE events
			SET start_time = $1, end_time = $2, metadata = $3::jsonb, updated_at = $4
			WHERE id = $5 AND client_id = $6 AND status <> 'cancelled'`,
			ev.StartTime.UTC(), ev.EndTime.UTC(), metadata, ev.UpdatedAt, ev.ID, ev.ClientID)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *BookingRepository) CancelEvent(ctx context.Context, ev *domain.Event) error {
	metadata, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET status = 'cancelled', metadata = $1::jsonb, updated_at = $2
		WHERE id = $3 AND client_id = $4`,
		metadata, ev.UpdatedAt, ev.ID, ev.ClientID)
	if err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// serializable runs fn in a SERIALIZABLE transaction and maps slot races to out.ErrSlotUnavailable.
func (r *BookingRepository) serializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return mapSlotError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapSlotError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func checkOverlap(ctx context.Context, tx *sqlx.Tx, calendarID uuid.UUID, start, end time.Time, exclude *uuid.UUID) error {
	query := `
		SELECT COUNT(*)
		FROM events
		WHERE calendar_id = $1 AND status <> 'cancelled'
		  AND start_time < $3 AND end_time > $2`
	args := []interface{}{calendarID, start.UTC(), end.UTC()}
	if exclude != nil {
		query += ` AND id <> $4`
		args = append(args, *exclude)
	}

	var conflicts int
	if err := tx.GetContext(ctx, &conflicts, query, args...); err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if conflicts > 0 {
		return out.ErrSlotUnavailable
	}
	return nil
}

// encodeMetadata returns JSON text. The connection runs in simple protocol mode,
// where []byte parameters would be sent as bytea.
func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}
