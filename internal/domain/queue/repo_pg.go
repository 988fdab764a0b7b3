package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore/internal/apperror"
	"github.com/clinicore/clinicore/internal/domain/scheduling"
	"github.com/clinicore/clinicore/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Entry Repository ===========

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewEntryRepoPG(pool *pgxpool.Pool) EntryRepository { return &entryRepoPG{pool: pool} }

const entryCols = `id, doctor_id, visit_date, token, patient_ref, source, slot_id,
	priority, status, checked_in_at, called_at, completed_at`

func scanEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	var date time.Time
	err := row.Scan(&e.ID, &e.DoctorID, &date, &e.Token, &e.PatientRef, &e.Source,
		&e.SlotID, &e.Priority, &e.Status, &e.CheckedInAt, &e.CalledAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	e.VisitDate = scheduling.DateFrom(date)
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*QueueEntry, error) {
	defer rows.Close()
	var entries []*QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *entryRepoPG) MaxToken(ctx context.Context, doctorID string, date scheduling.Date) (int, error) {
	var max int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(MAX(token), 0) FROM queue_entry
		WHERE doctor_id = $1 AND visit_date = $2`,
		doctorID, date.Time).Scan(&max)
	return max, err
}

func (r *entryRepoPG) Insert(ctx context.Context, e *QueueEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO queue_entry (id, doctor_id, visit_date, token, patient_ref, source,
			slot_id, priority, status, checked_in_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.DoctorID, e.VisitDate.Time, e.Token, e.PatientRef, e.Source,
		e.SlotID, e.Priority, e.Status, e.CheckedInAt)
	return err
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	e, err := scanEntry(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+entryCols+` FROM queue_entry WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("queue entry not found")
	}
	return e, err
}

func (r *entryRepoPG) GetByToken(ctx context.Context, doctorID string, date scheduling.Date, token int) (*QueueEntry, error) {
	e, err := scanEntry(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE doctor_id = $1 AND visit_date = $2 AND token = $3`,
		doctorID, date.Time, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("no token %d for doctor %s on %s", token, doctorID, date)
	}
	return e, err
}

func (r *entryRepoPG) ListByDate(ctx context.Context, doctorID string, date scheduling.Date) ([]*QueueEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE doctor_id = $1 AND visit_date = $2
		ORDER BY token`,
		doctorID, date.Time)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *entryRepoPG) ListActive(ctx context.Context, doctorID string, date scheduling.Date) ([]*QueueEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE doctor_id = $1 AND visit_date = $2
			AND status IN ('QUEUED', 'WAITING', 'WITH_DOCTOR')
		ORDER BY priority DESC, token`,
		doctorID, date.Time)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *entryRepoPG) CurrentWithDoctor(ctx context.Context, doctorID string) (*QueueEntry, error) {
	e, err := scanEntry(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE doctor_id = $1 AND status = 'WITH_DOCTOR'`,
		doctorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *entryRepoPG) Update(ctx context.Context, e *QueueEntry) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE queue_entry SET status = $2, called_at = $3, completed_at = $4
		WHERE id = $1`,
		e.ID, e.Status, e.CalledAt, e.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("queue entry not found")
	}
	return nil
}

// =========== Doctor Check-In Repository ===========

type checkInRepoPG struct{ pool *pgxpool.Pool }

func NewCheckInRepoPG(pool *pgxpool.Pool) CheckInRepository { return &checkInRepoPG{pool: pool} }

func (r *checkInRepoPG) Upsert(ctx context.Context, c *DoctorCheckIn) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO doctor_checkin (doctor_id, visit_date, checked_in_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, visit_date) DO UPDATE SET checked_in_at = EXCLUDED.checked_in_at`,
		c.DoctorID, c.VisitDate.Time, c.CheckedInAt)
	return err
}

func (r *checkInRepoPG) Get(ctx context.Context, doctorID string, date scheduling.Date) (*DoctorCheckIn, error) {
	var c DoctorCheckIn
	var d time.Time
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT doctor_id, visit_date, checked_in_at FROM doctor_checkin
		WHERE doctor_id = $1 AND visit_date = $2`,
		doctorID, date.Time).Scan(&c.DoctorID, &d, &c.CheckedInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.VisitDate = scheduling.DateFrom(d)
	return &c, nil
}

func (r *checkInRepoPG) Delete(ctx context.Context, doctorID string, date scheduling.Date) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM doctor_checkin WHERE doctor_id = $1 AND visit_date = $2`,
		doctorID, date.Time)
	return err
}
