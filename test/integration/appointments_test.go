package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// ===== Repository CRUD =====

func TestAppointmentCRUD(t *testing.T) {
	ctx := context.Background()
	clearAppointments(t, ctx)
	repo := newRepo()

	doctor := uuid.New()
	patient := uuid.New()

	t.Run("Create", func(t *testing.T) {
		a := newAppt(doctor, patient, futureSlot(7, 9, 0), 30)
		a.Reason = ptrStr("annual checkup")
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if a.ID == uuid.Nil {
			t.Fatal("expected the store to assign an ID")
		}
		if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
			t.Fatal("expected created_at and updated_at to be set")
		}
	})

	t.Run("GetByID", func(t *testing.T) {
		a := mustCreate(t, ctx, repo, newAppt(doctor, uuid.New(), futureSlot(7, 10, 0), 45))
		a.Reason = ptrStr("follow-up")
		if err := repo.Update(ctx, a); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.GetByID(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.DoctorID != doctor {
			t.Errorf("doctor ID = %s, want %s", got.DoctorID, doctor)
		}
		if got.DurationMinutes != 45 {
			t.Errorf("duration = %d, want 45", got.DurationMinutes)
		}
		if got.Status != scheduling.StatusConfirmed {
			t.Errorf("status = %s, want CONFIRMED", got.Status)
		}
		if got.Reason == nil || *got.Reason != "follow-up" {
			t.Errorf("reason = %v, want follow-up", got.Reason)
		}
		// The start_time column has no timezone, so compare wall-clock
		// values rather than instants.
		if got.StartTime.Format("2006-01-02 15:04") != a.StartTime.Format("2006-01-02 15:04") {
			t.Errorf("start = %s, want %s", got.StartTime, a.StartTime)
		}
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		if !errors.Is(err, scheduling.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		a := mustCreate(t, ctx, repo, newAppt(doctor, uuid.New(), futureSlot(7, 11, 0), 30))

		a.Status = scheduling.StatusCompleted
		a.Notes = ptrStr("blood pressure normal")
		if err := repo.Update(ctx, a); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.GetByID(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetByID after update: %v", err)
		}
		if got.Status != scheduling.StatusCompleted {
			t.Errorf("status = %s, want COMPLETED", got.Status)
		}
		if got.Notes == nil || *got.Notes != "blood pressure normal" {
			t.Errorf("notes = %v, want blood pressure normal", got.Notes)
		}
		if !got.UpdatedAt.After(got.CreatedAt) {
			t.Errorf("updated_at %s should trail created_at %s", got.UpdatedAt, got.CreatedAt)
		}
	})

	t.Run("Update_NotFound", func(t *testing.T) {
		ghost := newAppt(doctor, uuid.New(), futureSlot(7, 12, 0), 30)
		ghost.ID = uuid.New()
		if err := repo.Update(ctx, ghost); !errors.Is(err, scheduling.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		a := mustCreate(t, ctx, repo, newAppt(doctor, uuid.New(), futureSlot(7, 13, 0), 30))
		if err := repo.Delete(ctx, a.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := repo.GetByID(ctx, a.ID); !errors.Is(err, scheduling.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("Delete_NotFound", func(t *testing.T) {
		if err := repo.Delete(ctx, uuid.New()); !errors.Is(err, scheduling.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// ===== Exclusion Constraints =====

// The schema enforces no-overlap per doctor and per patient with GiST
// exclusion constraints, so double bookings lose even when they race past
// the application-level conflict check.
func TestOverlapExclusionConstraints(t *testing.T) {
	ctx := context.Background()
	clearAppointments(t, ctx)
	repo := newRepo()

	doctor := uuid.New()
	patient := uuid.New()
	start := futureSlot(8, 9, 0)

	mustCreate(t, ctx, repo, newAppt(doctor, patient, start, 30))

	t.Run("DoctorOverlapRejected", func(t *testing.T) {
		err := repo.Create(ctx, newAppt(doctor, uuid.New(), start.Add(15*time.Minute), 30))
		if !errors.Is(err, scheduling.ErrConflict) {
			t.Fatalf("expected ErrConflict for doctor overlap, got %v", err)
		}
	})

	t.Run("PatientOverlapRejected", func(t *testing.T) {
		err := repo.Create(ctx, newAppt(uuid.New(), patient, start.Add(15*time.Minute), 30))
		if !errors.Is(err, scheduling.ErrConflict) {
			t.Fatalf("expected ErrConflict for patient overlap, got %v", err)
		}
	})

	t.Run("BackToBackAllowed", func(t *testing.T) {
		// Intervals are half-open, so one appointment may start exactly
		// where the previous one ends.
		a := newAppt(doctor, uuid.New(), start.Add(30*time.Minute), 30)
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("adjacent booking should be allowed: %v", err)
		}
	})

	t.Run("UnrelatedPartiesAllowed", func(t *testing.T) {
		a := newAppt(uuid.New(), uuid.New(), start, 30)
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("unrelated doctor and patient should book freely: %v", err)
		}
	})

	t.Run("CancelledDoesNotBlock", func(t *testing.T) {
		windowStart := futureSlot(8, 14, 0)
		cancelled := newAppt(doctor, uuid.New(), windowStart, 30)
		cancelled.Status = scheduling.StatusCancelled
		mustCreate(t, ctx, repo, cancelled)

		if err := repo.Create(ctx, newAppt(doctor, uuid.New(), windowStart, 30)); err != nil {
			t.Fatalf("cancelled appointment should not hold the slot: %v", err)
		}
	})

	t.Run("CancellingFreesSlot", func(t *testing.T) {
		windowStart := futureSlot(8, 16, 0)
		holder := mustCreate(t, ctx, repo, newAppt(doctor, uuid.New(), windowStart, 30))

		rival := newAppt(doctor, uuid.New(), windowStart, 30)
		if err := repo.Create(ctx, rival); !errors.Is(err, scheduling.ErrConflict) {
			t.Fatalf("expected ErrConflict while slot is held, got %v", err)
		}

		holder.Status = scheduling.StatusCancelled
		if err := repo.Update(ctx, holder); err != nil {
			t.Fatalf("cancel holder: %v", err)
		}
		if err := repo.Create(ctx, rival); err != nil {
			t.Fatalf("slot should be free after cancellation: %v", err)
		}
	})
}

// TestConcurrentBookingRace fires two inserts for the same slot at once.
// The database, not the application check, must pick the single winner.
func TestConcurrentBookingRace(t *testing.T) {
	ctx := context.Background()
	clearAppointments(t, ctx)
	repo := newRepo()

	doctor := uuid.New()
	start := futureSlot(9, 10, 0)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.Create(ctx, newAppt(doctor, uuid.New(), start, 30))
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, scheduling.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("want exactly one winner and one conflict, got %d winners, %d conflicts", ok, conflicts)
	}
}

// ===== Search =====

func TestSearch(t *testing.T) {
	ctx := context.Background()
	clearAppointments(t, ctx)
	repo := newRepo()

	doctor1 := uuid.New()
	doctor2 := uuid.New()
	day := futureSlot(10, 0, 0)

	confirmed := mustCreate(t, ctx, repo, newAppt(doctor1, uuid.New(), day.Add(9*time.Hour), 30))

	completed := newAppt(doctor1, uuid.New(), day.Add(10*time.Hour), 30)
	completed.Status = scheduling.StatusCompleted
	mustCreate(t, ctx, repo, completed)

	cancelled := newAppt(doctor1, uuid.New(), day.Add(11*time.Hour), 30)
	cancelled.Status = scheduling.StatusCancelled
	mustCreate(t, ctx, repo, cancelled)

	otherDay := mustCreate(t, ctx, repo, newAppt(doctor2, uuid.New(), day.AddDate(0, 0, 1).Add(9*time.Hour), 30))

	t.Run("ByDoctor", func(t *testing.T) {
		rows, total, err := repo.Search(ctx, map[string]string{"doctor_id": doctor1.String()}, 20, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if total != 3 || len(rows) != 3 {
			t.Fatalf("want 3 appointments for doctor1, got total=%d len=%d", total, len(rows))
		}
	})

	t.Run("ByStatus", func(t *testing.T) {
		rows, total, err := repo.Search(ctx, map[string]string{
			"doctor_id": doctor1.String(),
			"status":    string(scheduling.StatusCompleted),
		}, 20, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if total != 1 || len(rows) != 1 {
			t.Fatalf("want 1 completed appointment, got total=%d len=%d", total, len(rows))
		}
		if rows[0].ID != completed.ID {
			t.Errorf("got %s, want %s", rows[0].ID, completed.ID)
		}
	})

	t.Run("ByDate", func(t *testing.T) {
		rows, total, err := repo.Search(ctx, map[string]string{"date": day.Format("2006-01-02")}, 20, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if total != 3 {
			t.Fatalf("want 3 appointments on %s, got %d", day.Format("2006-01-02"), total)
		}
		for _, r := range rows {
			if r.ID == otherDay.ID {
				t.Error("date filter leaked an appointment from the next day")
			}
		}
	})

	t.Run("ByPatient", func(t *testing.T) {
		rows, total, err := repo.Search(ctx, map[string]string{"patient_id": confirmed.PatientID.String()}, 20, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if total != 1 || len(rows) != 1 || rows[0].ID != confirmed.ID {
			t.Fatalf("patient filter returned total=%d len=%d", total, len(rows))
		}
	})

	t.Run("Pagination", func(t *testing.T) {
		page1, total, err := repo.Search(ctx, map[string]string{"doctor_id": doctor1.String()}, 2, 0)
		if err != nil {
			t.Fatalf("Search page 1: %v", err)
		}
		if total != 3 || len(page1) != 2 {
			t.Fatalf("page 1: want total=3 len=2, got total=%d len=%d", total, len(page1))
		}

		page2, _, err := repo.Search(ctx, map[string]string{"doctor_id": doctor1.String()}, 2, 2)
		if err != nil {
			t.Fatalf("Search page 2: %v", err)
		}
		if len(page2) != 1 {
			t.Fatalf("page 2: want 1 row, got %d", len(page2))
		}

		// Ascending by start time across pages.
		if !page1[0].StartTime.Before(page1[1].StartTime) {
			t.Error("page 1 out of order")
		}
		if !page1[1].StartTime.Before(page2[0].StartTime) {
			t.Error("page 2 should continue after page 1")
		}
	})

	t.Run("NoFilters", func(t *testing.T) {
		_, total, err := repo.Search(ctx, nil, 20, 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if total != 4 {
			t.Fatalf("want all 4 appointments, got %d", total)
		}
	})
}

// ===== Active Windows =====

func TestListActiveWindows(t *testing.T) {
	ctx := context.Background()
	clearAppointments(t, ctx)
	repo := newRepo()

	doctor := uuid.New()
	patient := uuid.New()
	day := futureSlot(11, 0, 0)

	nine := mustCreate(t, ctx, repo, newAppt(doctor, patient, day.Add(9*time.Hour), 30))
	ten := mustCreate(t, ctx, repo, newAppt(doctor, uuid.New(), day.Add(10*time.Hour), 60))

	cancelled := newAppt(doctor, uuid.New(), day.Add(12*time.Hour), 30)
	cancelled.Status = scheduling.StatusCancelled
	mustCreate(t, ctx, repo, cancelled)

	t.Run("DoctorWindow", func(t *testing.T) {
		rows, err := repo.ListActiveByDoctor(ctx, doctor, day, day.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("ListActiveByDoctor: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("want 2 active appointments, got %d", len(rows))
		}
		if rows[0].ID != nine.ID || rows[1].ID != ten.ID {
			t.Errorf("rows out of order: %s, %s", rows[0].ID, rows[1].ID)
		}
	})

	t.Run("WindowClipsToOverlap", func(t *testing.T) {
		// 10:30 falls inside the 10:00-11:00 appointment but past the
		// 9:00-9:30 one, so only the former overlaps the window.
		rows, err := repo.ListActiveByDoctor(ctx, doctor, day.Add(10*time.Hour+30*time.Minute), day.Add(11*time.Hour))
		if err != nil {
			t.Fatalf("ListActiveByDoctor: %v", err)
		}
		if len(rows) != 1 || rows[0].ID != ten.ID {
			t.Fatalf("want only the 10:00 appointment, got %d rows", len(rows))
		}
	})

	t.Run("EmptyWindow", func(t *testing.T) {
		rows, err := repo.ListActiveByDoctor(ctx, doctor, day.Add(20*time.Hour), day.Add(21*time.Hour))
		if err != nil {
			t.Fatalf("ListActiveByDoctor: %v", err)
		}
		if len(rows) != 0 {
			t.Fatalf("want empty window, got %d rows", len(rows))
		}
	})

	t.Run("PatientWindow", func(t *testing.T) {
		rows, err := repo.ListActiveByPatient(ctx, patient, day, day.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("ListActiveByPatient: %v", err)
		}
		if len(rows) != 1 || rows[0].ID != nine.ID {
			t.Fatalf("want the patient's single booking, got %d rows", len(rows))
		}
	})
}

// ===== Transactions =====

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	clearAppointments(t, ctx)
	repo := newRepo()

	doctor := uuid.New()

	t.Run("CommitVisible", func(t *testing.T) {
		a := mustCreate(t, ctx, repo, newAppt(doctor, uuid.New(), futureSlot(12, 9, 0), 30))

		err := repo.InTx(ctx, func(txCtx context.Context) error {
			locked, err := repo.GetByIDForUpdate(txCtx, a.ID)
			if err != nil {
				return err
			}
			locked.Notes = ptrStr("seen under lock")
			return repo.Update(txCtx, locked)
		})
		if err != nil {
			t.Fatalf("InTx: %v", err)
		}

		got, err := repo.GetByID(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Notes == nil || *got.Notes != "seen under lock" {
			t.Fatalf("committed update not visible: %v", got.Notes)
		}
	})

	t.Run("ErrorRollsBack", func(t *testing.T) {
		a := mustCreate(t, ctx, repo, newAppt(doctor, uuid.New(), futureSlot(12, 10, 0), 30))

		boom := errors.New("boom")
		err := repo.InTx(ctx, func(txCtx context.Context) error {
			locked, err := repo.GetByIDForUpdate(txCtx, a.ID)
			if err != nil {
				return err
			}
			locked.Notes = ptrStr("should not persist")
			if err := repo.Update(txCtx, locked); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom to propagate, got %v", err)
		}

		got, err := repo.GetByID(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Notes != nil {
			t.Fatalf("rolled-back update leaked: %v", *got.Notes)
		}
	})

	t.Run("LockedRowNotFound", func(t *testing.T) {
		err := repo.InTx(ctx, func(txCtx context.Context) error {
			_, err := repo.GetByIDForUpdate(txCtx, uuid.New())
			return err
		})
		if !errors.Is(err, scheduling.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// ===== Service Against Postgres =====

// The unit tests cover the scheduler against an in-memory repository; this
// exercises the same flows end to end against the real schema.
func TestServiceWithPostgres(t *testing.T) {
	ctx := context.Background()
	clearAppointments(t, ctx)
	svc := newSchedulerService()

	doctor := uuid.New()
	patient := uuid.New()
	admin := scheduling.Actor{UserID: uuid.New(), Role: scheduling.RoleAdmin}

	start := futureSlot(14, 9, 0)
	appt, err := svc.Create(ctx, scheduling.CreateInput{
		PatientID:       patient,
		DoctorID:        doctor,
		StartTime:       start,
		DurationMinutes: 30,
		Reason:          ptrStr("annual checkup"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("DoubleBookingRejected", func(t *testing.T) {
		_, err := svc.Create(ctx, scheduling.CreateInput{
			PatientID: uuid.New(),
			DoctorID:  doctor,
			StartTime: start.Add(10 * time.Minute),
		})
		if !errors.Is(err, scheduling.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("CheckConflicts", func(t *testing.T) {
		report, err := svc.CheckConflicts(ctx, scheduling.CreateInput{
			PatientID: uuid.New(),
			DoctorID:  doctor,
			StartTime: start.Add(15 * time.Minute),
		})
		if err != nil {
			t.Fatalf("CheckConflicts: %v", err)
		}
		if !report.HasConflict {
			t.Fatal("expected a doctor-side conflict")
		}
		if len(report.DoctorConflictIDs) != 1 || report.DoctorConflictIDs[0] != appt.ID {
			t.Errorf("doctor conflicts = %v, want [%s]", report.DoctorConflictIDs, appt.ID)
		}
	})

	t.Run("SlotsSkipBookedTime", func(t *testing.T) {
		day := futureSlot(14, 0, 0)
		slots, err := svc.FindAvailableSlots(ctx, doctor, day, 30)
		if err != nil {
			t.Fatalf("FindAvailableSlots: %v", err)
		}
		if len(slots) == 0 {
			t.Fatal("expected open slots on a mostly free day")
		}
		for _, s := range slots {
			if s.Format("15:04") == "09:00" {
				t.Error("9:00 is booked and should not be offered")
			}
		}
	})

	t.Run("RescheduleIntoConflict", func(t *testing.T) {
		other, err := svc.Create(ctx, scheduling.CreateInput{
			PatientID: uuid.New(),
			DoctorID:  doctor,
			StartTime: start.Add(2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("Create second appointment: %v", err)
		}

		_, err = svc.Reschedule(ctx, other.ID, start.Add(10*time.Minute), nil, admin)
		if !errors.Is(err, scheduling.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		moved, err := svc.Reschedule(ctx, other.ID, start.Add(4*time.Hour), nil, admin)
		if err != nil {
			t.Fatalf("Reschedule to free slot: %v", err)
		}
		if moved.Status != scheduling.StatusRescheduled {
			t.Errorf("status = %s, want RESCHEDULED", moved.Status)
		}
	})

	t.Run("LifecycleToCompletion", func(t *testing.T) {
		docActor := scheduling.Actor{UserID: doctor, Role: scheduling.RoleDoctor}

		if _, err := svc.Start(ctx, appt.ID, docActor); err != nil {
			t.Fatalf("Start: %v", err)
		}
		done, err := svc.Complete(ctx, appt.ID, ptrStr("all clear"), docActor)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if done.Status != scheduling.StatusCompleted {
			t.Errorf("status = %s, want COMPLETED", done.Status)
		}
		if done.Notes == nil || *done.Notes != "all clear" {
			t.Errorf("notes = %v, want all clear", done.Notes)
		}

		// Terminal states reject further transitions.
		if _, err := svc.Cancel(ctx, appt.ID, docActor); !errors.Is(err, scheduling.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("CompletedStillHoldsSlot", func(t *testing.T) {
		// Only CANCELLED releases an interval. The completed 9:00
		// appointment keeps blocking both the application check and the
		// database constraint.
		_, err := svc.Create(ctx, scheduling.CreateInput{
			PatientID: uuid.New(),
			DoctorID:  doctor,
			StartTime: start,
		})
		if !errors.Is(err, scheduling.ErrConflict) {
			t.Fatalf("expected the 9:00 slot to remain blocked, got %v", err)
		}
	})
}

// ===== Migrations =====

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()

	// TestMain already applied everything; a second run must be a no-op.
	n, err := db.NewMigrator(globalDB.Pool, findMigrationsDir()).Up(ctx)
	if err != nil {
		t.Fatalf("re-running migrations: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no pending migrations, applied %d", n)
	}
}

// ===== Connection Pool =====

func TestPoolConnectivity(t *testing.T) {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, globalDB.ConnStr, 4, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		t.Fatalf("query: %v", err)
	}
	if one != 1 {
		t.Fatalf("SELECT 1 returned %d", one)
	}
}
