package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// queryable is satisfied by both *pgxpool.Pool and pgx.Tx so repository
// methods run against the pool or join a transaction transparently.
type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

// NewAppointmentRepoPG returns the PostgreSQL-backed repository.
func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *appointmentRepoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, r.pool, fn)
}

const apptCols = `id, patient_id, doctor_id, start_time, duration_minutes, status, reason, notes, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.DurationMinutes,
		&a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// translateConstraint maps exclusion-constraint violations (SQLSTATE
// 23P01) onto ErrConflict. The two gist constraints on (doctor_id,
// interval) and (patient_id, interval) are the backstop that closes the
// check-then-act window against racing writers.
func translateConstraint(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return fmt.Errorf("%w: overlapping booking rejected by %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (`+apptCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.PatientID, a.DoctorID, a.StartTime, a.DurationMinutes,
		a.Status, a.Reason, a.Notes, a.CreatedAt, a.UpdatedAt)
	return translateConstraint(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	a.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment
		SET patient_id = $2, doctor_id = $3, start_time = $4, duration_minutes = $5,
		    status = $6, reason = $7, notes = $8, updated_at = $9
		WHERE id = $1`,
		a.ID, a.PatientID, a.DoctorID, a.StartTime, a.DurationMinutes,
		a.Status, a.Reason, a.Notes, a.UpdatedAt)
	if err != nil {
		return translateConstraint(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.listActive(ctx, "doctor_id", doctorID, from, to)
}

func (r *appointmentRepoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.listActive(ctx, "patient_id", patientID, from, to)
}

func (r *appointmentRepoPG) listActive(ctx context.Context, ownerCol string, ownerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+`
		FROM appointment
		WHERE `+ownerCol+` = $1
		  AND status <> 'CANCELLED'
		  AND start_time < $3
		  AND start_time + make_interval(mins => duration_minutes) > $2
		ORDER BY start_time`,
		ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if v := params["doctor_id"]; v != "" {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v := params["patient_id"]; v != "" {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v := params["status"]; v != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v := params["date"]; v != "" {
		where += fmt.Sprintf(` AND start_time >= $%d::date AND start_time < $%d::date + INTERVAL '1 day'`, idx, idx)
		args = append(args, v)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	appts, err := collectAppts(rows)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func collectAppts(rows pgx.Rows) ([]*Appointment, error) {
	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.DurationMinutes,
			&a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		appts = append(appts, &a)
	}
	return appts, rows.Err()
}
