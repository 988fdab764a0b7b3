package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/apperror"
	"github.com/clinicore/clinicore/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// conn resolves the statement target: an open serializable transaction wins,
// then the tenant-scoped connection, then the shared pool.
func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Model Repository ===========

type modelRepoPG struct{ pool *pgxpool.Pool }

func NewModelRepoPG(pool *pgxpool.Pool) ModelRepository { return &modelRepoPG{pool: pool} }

func (r *modelRepoPG) GetModel(ctx context.Context, doctorID string) (*AvailabilityModel, error) {
	q := conn(ctx, r.pool)

	var m AvailabilityModel
	err := q.QueryRow(ctx,
		`SELECT slot_duration_min FROM doctor_schedule_config WHERE doctor_id = $1`,
		doctorID).Scan(&m.SlotDurationMin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT day_of_week, shift_type, enabled
		FROM weekly_availability WHERE doctor_id = $1
		ORDER BY day_of_week, shift_type`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var w WeeklyAvailability
		if err := rows.Scan(&w.DayOfWeek, &w.ShiftType, &w.Enabled); err != nil {
			return nil, err
		}
		m.Weekly = append(m.Weekly, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := q.Query(ctx, `
		SELECT shift_type, start_min, end_min
		FROM shift_template WHERE doctor_id = $1
		ORDER BY start_min`, doctorID)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var t ShiftTemplate
		var start, end int
		if err := trows.Scan(&t.ShiftType, &start, &end); err != nil {
			return nil, err
		}
		t.Start, t.End = MinuteOfDay(start), MinuteOfDay(end)
		m.Templates = append(m.Templates, t)
	}
	if err := trows.Err(); err != nil {
		return nil, err
	}

	erows, err := q.Query(ctx, `
		SELECT id, start_date, end_date, exception_type, COALESCE(reason, '')
		FROM time_off_exception WHERE doctor_id = $1
		ORDER BY start_date`, doctorID)
	if err != nil {
		return nil, err
	}
	defer erows.Close()
	for erows.Next() {
		var e TimeOffException
		var start, end time.Time
		if err := erows.Scan(&e.ID, &start, &end, &e.ExceptionType, &e.Reason); err != nil {
			return nil, err
		}
		e.StartDate, e.EndDate = DateFrom(start), DateFrom(end)
		m.Exceptions = append(m.Exceptions, e)
	}
	if err := erows.Err(); err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *modelRepoPG) SaveModel(ctx context.Context, doctorID string, m *AvailabilityModel) error {
	q := conn(ctx, r.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO doctor_schedule_config (doctor_id, slot_duration_min)
		VALUES ($1, $2)
		ON CONFLICT (doctor_id) DO UPDATE
			SET slot_duration_min = EXCLUDED.slot_duration_min, updated_at = NOW()`,
		doctorID, m.SlotDurationMin)
	if err != nil {
		return err
	}

	// The snapshot fully replaces the previous grid, templates, and
	// exceptions.
	for _, table := range []string{"weekly_availability", "shift_template", "time_off_exception"} {
		if _, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE doctor_id = $1`, doctorID); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, w := range m.Weekly {
		batch.Queue(`
			INSERT INTO weekly_availability (doctor_id, day_of_week, shift_type, enabled)
			VALUES ($1, $2, $3, $4)`,
			doctorID, w.DayOfWeek, w.ShiftType, w.Enabled)
	}
	for _, t := range m.Templates {
		batch.Queue(`
			INSERT INTO shift_template (doctor_id, shift_type, start_min, end_min)
			VALUES ($1, $2, $3, $4)`,
			doctorID, t.ShiftType, int(t.Start), int(t.End))
	}
	for _, e := range m.Exceptions {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(`
			INSERT INTO time_off_exception (id, doctor_id, start_date, end_date, exception_type, reason)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
			id, doctorID, e.StartDate.Time, e.EndDate.Time, e.ExceptionType, e.Reason)
	}
	if batch.Len() == 0 {
		return nil
	}
	return q.SendBatch(ctx, batch).Close()
}

func (r *modelRepoPG) GetConfig(ctx context.Context, doctorID string) (*ScheduleConfig, error) {
	var cfg ScheduleConfig
	var from, to *time.Time
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT doctor_id, slot_duration_min, generated_from, generated_to
		FROM doctor_schedule_config WHERE doctor_id = $1`,
		doctorID).Scan(&cfg.DoctorID, &cfg.SlotDurationMin, &from, &to)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	if err != nil {
		return nil, err
	}
	if from != nil {
		cfg.GeneratedFrom = DateFrom(*from)
	}
	if to != nil {
		cfg.GeneratedTo = DateFrom(*to)
	}
	return &cfg, nil
}

func (r *modelRepoPG) SetGeneratedRange(ctx context.Context, doctorID string, from, to Date) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE doctor_schedule_config
		SET generated_from = $2, generated_to = $3, updated_at = NOW()
		WHERE doctor_id = $1`,
		doctorID, from.Time, to.Time)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	return nil
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

const slotCols = `id, doctor_id, visit_date, start_min, end_min, shift_type, status, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date time.Time
	var start, end int
	err := row.Scan(&s.ID, &s.DoctorID, &date, &start, &end, &s.ShiftType, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Date = DateFrom(date)
	s.Start, s.End = MinuteOfDay(start), MinuteOfDay(end)
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var slots []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *slotRepoPG) InsertSlots(ctx context.Context, slots []*Slot) error {
	if len(slots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO slot (id, doctor_id, visit_date, start_min, end_min, shift_type, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.ID, s.DoctorID, s.Date.Time, int(s.Start), int(s.End), s.ShiftType, s.Status)
	}
	return conn(ctx, r.pool).SendBatch(ctx, batch).Close()
}

func (r *slotRepoPG) DeleteAvailableInRange(ctx context.Context, doctorID string, from, to Date) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM slot
		WHERE doctor_id = $1 AND status = 'AVAILABLE' AND visit_date BETWEEN $2 AND $3`,
		doctorID, from.Time, to.Time)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *slotRepoPG) DeleteAvailableFrom(ctx context.Context, doctorID string, from Date) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM slot
		WHERE doctor_id = $1 AND status = 'AVAILABLE' AND visit_date >= $2`,
		doctorID, from.Time)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *slotRepoPG) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM slot WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+` FROM slot WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("slot not found")
	}
	return s, err
}

func (r *slotRepoPG) ListByDoctorDate(ctx context.Context, doctorID string, date Date, status SlotStatus) ([]*Slot, error) {
	query := `SELECT ` + slotCols + ` FROM slot WHERE doctor_id = $1 AND visit_date = $2`
	args := []interface{}{doctorID, date.Time}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY start_min`
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) ListBookedInRange(ctx context.Context, doctorID string, from, to Date) ([]*Slot, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+slotCols+` FROM slot
		WHERE doctor_id = $1 AND status = 'BOOKED' AND visit_date BETWEEN $2 AND $3
		ORDER BY visit_date, start_min`,
		doctorID, from.Time, to.Time)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) ListBookedFrom(ctx context.Context, doctorID string, from Date) ([]*Slot, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+slotCols+` FROM slot
		WHERE doctor_id = $1 AND status = 'BOOKED' AND visit_date >= $2
		ORDER BY visit_date, start_min`,
		doctorID, from.Time)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) Reserve(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE slot SET status = 'BOOKED', updated_at = NOW()
		WHERE id = $1 AND status = 'AVAILABLE'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE slot SET status = 'AVAILABLE', updated_at = NOW()
		WHERE id = $1 AND status = 'BOOKED'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Summary(ctx context.Context, doctorID string) (*SlotSummary, error) {
	var sum SlotSummary
	var from, to *time.Time
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM slot WHERE doctor_id = $1),
			(SELECT COUNT(*) FROM slot WHERE doctor_id = $1 AND status = 'AVAILABLE'),
			(SELECT COUNT(*) FROM slot WHERE doctor_id = $1 AND status = 'BOOKED'),
			c.generated_from, c.generated_to
		FROM doctor_schedule_config c WHERE c.doctor_id = $1`,
		doctorID).Scan(&sum.Total, &sum.Available, &sum.Booked, &from, &to)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	if err != nil {
		return nil, err
	}
	if from != nil {
		sum.GeneratedFrom = DateFrom(*from)
	}
	if to != nil {
		sum.GeneratedTo = DateFrom(*to)
	}
	return &sum, nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, doctor_id, slot_id, patient_ref, status, cancellation_reason, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.SlotID, &a.PatientRef, &a.Status,
		&a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AppointmentBooked
	}
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, doctor_id, slot_id, patient_ref, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.SlotID, a.PatientRef, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("appointment not found")
	}
	return a, err
}

func (r *appointmentRepoPG) GetBySlotID(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE slot_id = $1 AND status = 'BOOKED'`, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("no active appointment for slot")
	}
	return a, err
}

func (r *appointmentRepoPG) ListBySlotIDs(ctx context.Context, slotIDs []uuid.UUID) ([]*Appointment, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE slot_id = ANY($1) AND status = 'BOOKED'`, slotIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var appts []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID string, from Date, limit, offset int) ([]*Appointment, int, error) {
	q := conn(ctx, r.pool)
	var total int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment a JOIN slot s ON s.id = a.slot_id
		WHERE a.doctor_id = $1 AND s.visit_date >= $2`,
		doctorID, from.Time).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT a.id, a.doctor_id, a.slot_id, a.patient_ref, a.status, a.cancellation_reason,
			a.created_at, a.updated_at
		FROM appointment a JOIN slot s ON s.id = a.slot_id
		WHERE a.doctor_id = $1 AND s.visit_date >= $2
		ORDER BY s.visit_date, s.start_min
		LIMIT $3 OFFSET $4`,
		doctorID, from.Time, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var appts []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		appts = append(appts, a)
	}
	return appts, total, rows.Err()
}

func (r *appointmentRepoPG) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointment SET status = 'CANCELLED', cancellation_reason = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $1 AND status = 'BOOKED'`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.State("appointment is not active")
	}
	return nil
}
