package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/provider-availability/internal/availability"
)

const (
	pgUniqueViolation    = "23505"
	activeSlotConstraint = "bookings_active_slot_uidx"

	bookingColumns = `id, provider_id, patient_id, booking_date, slot_time, status, reason, created_at, updated_at`
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func pgDate(d availability.Date) pgtype.Date {
	return pgtype.Date{Time: d.Midnight(time.UTC), Valid: true}
}

func pgTime(t availability.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgDate(d pgtype.Date) availability.Date {
	return availability.DateOf(d.Time)
}

func fromPgTime(t pgtype.Time) availability.TimeOfDay {
	return availability.TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

type breakRecord struct {
	Start availability.TimeOfDay `json:"start"`
	End   availability.TimeOfDay `json:"end"`
}

func encodeBreaks(breaks []availability.Break) ([]byte, error) {
	records := make([]breakRecord, 0, len(breaks))
	for _, b := range breaks {
		records = append(records, breakRecord{Start: b.Start, End: b.End})
	}
	return json.Marshal(records)
}

func decodeBreaks(raw []byte) ([]availability.Break, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []breakRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]availability.Break, 0, len(records))
	for _, rec := range records {
		out = append(out, availability.Break{Start: rec.Start, End: rec.End})
	}
	return out, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func scanRule(row pgx.Row) (*availability.ScheduleRule, error) {
	var (
		rule       availability.ScheduleRule
		weekday    int16
		start, end pgtype.Time
		breaks     []byte
	)

	err := row.Scan(&weekday, &rule.IsAvailable, &start, &end, &rule.SlotDurationMinutes, &breaks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	rule.Weekday = time.Weekday(weekday)
	rule.StartTime = fromPgTime(start)
	rule.EndTime = fromPgTime(end)
	if rule.Breaks, err = decodeBreaks(breaks); err != nil {
		return nil, fmt.Errorf("decode breaks: %w", err)
	}
	return &rule, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b    Booking
		date pgtype.Date
		at   pgtype.Time
	)

	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.PatientID,
		&date,
		&at,
		&b.Status,
		&b.Reason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.Date = fromPgDate(date)
	b.Time = fromPgTime(at)
	return &b, nil
}

func scanBlock(row pgx.Row) (*SlotBlock, error) {
	var (
		blk  SlotBlock
		date pgtype.Date
		at   pgtype.Time
	)
	if err := row.Scan(&blk.ProviderID, &date, &at, &blk.Reason, &blk.CreatedAt); err != nil {
		return nil, err
	}
	blk.Date = fromPgDate(date)
	blk.Time = fromPgTime(at)
	return &blk, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) queryBookings(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Rules

func (r *PgRepository) GetRule(ctx context.Context, providerID uuid.UUID, day time.Weekday) (*availability.ScheduleRule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT weekday, is_available, start_time, end_time, slot_duration_minutes, breaks
		FROM schedule_rules
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, int16(day))
	return scanRule(row)
}

func (r *PgRepository) GetWeek(ctx context.Context, providerID uuid.UUID) (availability.Week, error) {
	week := availability.RestWeek()

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, is_available, start_time, end_time, slot_duration_minutes, breaks
		FROM schedule_rules
		WHERE provider_id = $1
		ORDER BY weekday
	`, providerID)
	if err != nil {
		return week, fmt.Errorf("query schedule rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return week, err
		}
		week[rule.Weekday] = *rule
	}
	return week, rows.Err()
}

// ReplaceWeek swaps all seven rules in one transaction.
func (r *PgRepository) ReplaceWeek(ctx context.Context, providerID uuid.UUID, week availability.Week) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_rules WHERE provider_id = $1`, providerID); err != nil {
		return fmt.Errorf("delete schedule rules: %w", err)
	}

	for i, rule := range week {
		breaks, err := encodeBreaks(rule.Breaks)
		if err != nil {
			return fmt.Errorf("encode breaks: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO schedule_rules
				(provider_id, weekday, is_available, start_time, end_time, slot_duration_minutes, breaks, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		`, providerID, int16(i), rule.IsAvailable, pgTime(rule.StartTime), pgTime(rule.EndTime), rule.SlotDurationMinutes, breaks)
		if err != nil {
			return fmt.Errorf("insert schedule rule %s: %w", time.Weekday(i), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Leaves

func (r *PgRepository) HasLeave(ctx context.Context, providerID uuid.UUID, date availability.Date) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM leaves WHERE provider_id = $1 AND leave_date = $2)
	`, providerID, pgDate(date)).Scan(&exists)
	return exists, err
}

func (r *PgRepository) InsertLeave(ctx context.Context, leave Leave) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO leaves (provider_id, leave_date, reason, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT ON CONSTRAINT leaves_provider_date_key DO NOTHING
	`, leave.ProviderID, pgDate(leave.Date), leave.Reason)
	if err != nil {
		return false, fmt.Errorf("insert leave: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) DeleteLeave(ctx context.Context, providerID uuid.UUID, date availability.Date) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM leaves WHERE provider_id = $1 AND leave_date = $2
	`, providerID, pgDate(date))
	if err != nil {
		return false, fmt.Errorf("delete leave: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) ListLeaves(ctx context.Context, providerID uuid.UUID, from, to availability.Date) ([]Leave, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, leave_date, reason, created_at
		FROM leaves
		WHERE provider_id = $1 AND leave_date BETWEEN $2 AND $3
		ORDER BY leave_date
	`, providerID, pgDate(from), pgDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Leave{}
	for rows.Next() {
		var (
			l    Leave
			date pgtype.Date
		)
		if err := rows.Scan(&l.ProviderID, &date, &l.Reason, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Date = fromPgDate(date)
		result = append(result, l)
	}
	return result, rows.Err()
}

// Blocks

func (r *PgRepository) IsBlocked(ctx context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slot_blocks
			WHERE provider_id = $1 AND block_date = $2 AND slot_time = $3
		)
	`, providerID, pgDate(date), pgTime(t)).Scan(&exists)
	return exists, err
}

func (r *PgRepository) ListBlocks(ctx context.Context, providerID uuid.UUID, from, to availability.Date) ([]SlotBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, block_date, slot_time, reason, created_at
		FROM slot_blocks
		WHERE provider_id = $1 AND block_date BETWEEN $2 AND $3
		ORDER BY block_date, slot_time
	`, providerID, pgDate(from), pgDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []SlotBlock{}
	for rows.Next() {
		blk, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *blk)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpsertBlock(ctx context.Context, block SlotBlock) (*SlotBlock, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO slot_blocks (provider_id, block_date, slot_time, reason, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT ON CONSTRAINT slot_blocks_provider_slot_key
		DO UPDATE SET reason = EXCLUDED.reason
		RETURNING provider_id, block_date, slot_time, reason, created_at
	`, block.ProviderID, pgDate(block.Date), pgTime(block.Time), block.Reason)

	blk, err := scanBlock(row)
	if err != nil {
		return nil, fmt.Errorf("upsert slot block: %w", err)
	}
	return blk, nil
}

func (r *PgRepository) DeleteBlock(ctx context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slot_blocks WHERE provider_id = $1 AND block_date = $2 AND slot_time = $3
	`, providerID, pgDate(date), pgTime(t))
	if err != nil {
		return false, fmt.Errorf("delete slot block: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Bookings

func (r *PgRepository) InsertBooking(ctx context.Context, b Booking) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, provider_id, patient_id, booking_date, slot_time, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+bookingColumns,
		b.ID, b.ProviderID, b.PatientID, pgDate(b.Date), pgTime(b.Time), b.Status, b.Reason)

	created, err := scanBooking(row)
	if err != nil {
		if isUniqueViolation(err, activeSlotConstraint) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) GetActiveBooking(ctx context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1 AND booking_date = $2 AND slot_time = $3
		  AND status IN ('PENDING', 'APPROVED')
	`, providerID, pgDate(date), pgTime(t))
	return scanBooking(row)
}

func (r *PgRepository) ListActiveBookings(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1 AND booking_date = $2
		  AND status IN ('PENDING', 'APPROVED')
		ORDER BY slot_time
	`, providerID, pgDate(date))
}

func (r *PgRepository) ListProviderBookings(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1 AND booking_date = $2
		ORDER BY slot_time, created_at
	`, providerID, pgDate(date))
}

func (r *PgRepository) ListPatientBookings(ctx context.Context, patientID uuid.UUID) ([]Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY booking_date, slot_time
	`, patientID)
}

func (r *PgRepository) FindApprovedBefore(ctx context.Context, date availability.Date) ([]Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'APPROVED' AND booking_date < $1
		ORDER BY booking_date, slot_time
	`, pgDate(date))
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, to, from)

	b, err := scanBooking(row)
	if err != nil && isUniqueViolation(err, activeSlotConstraint) {
		return nil, ErrSlotConflict
	}
	return b, err
}

// Providers

func (r *PgRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) UpsertProvider(ctx context.Context, p Provider) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialty = EXCLUDED.specialty,
		    updated_at = now()
	`, p.ID, p.Name, p.Specialty)
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, provider_id, booking_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.ProviderID, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
