package scheduling

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/apperror"
)

type passthroughTx struct{}

func (passthroughTx) Serializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memStore is a map-backed implementation of all three repositories.
type memStore struct {
	models map[string]*AvailabilityModel
	cfgs   map[string]*ScheduleConfig
	slots  map[uuid.UUID]*Slot
	appts  map[uuid.UUID]*Appointment
}

func newMemStore() *memStore {
	return &memStore{
		models: make(map[string]*AvailabilityModel),
		cfgs:   make(map[string]*ScheduleConfig),
		slots:  make(map[uuid.UUID]*Slot),
		appts:  make(map[uuid.UUID]*Appointment),
	}
}

func (s *memStore) GetModel(ctx context.Context, doctorID string) (*AvailabilityModel, error) {
	m, ok := s.models[doctorID]
	if !ok {
		return nil, apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	return m, nil
}

func (s *memStore) SaveModel(ctx context.Context, doctorID string, m *AvailabilityModel) error {
	s.models[doctorID] = m
	cfg, ok := s.cfgs[doctorID]
	if !ok {
		cfg = &ScheduleConfig{DoctorID: doctorID}
		s.cfgs[doctorID] = cfg
	}
	cfg.SlotDurationMin = m.SlotDurationMin
	return nil
}

func (s *memStore) GetConfig(ctx context.Context, doctorID string) (*ScheduleConfig, error) {
	cfg, ok := s.cfgs[doctorID]
	if !ok {
		return nil, apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	cp := *cfg
	return &cp, nil
}

func (s *memStore) SetGeneratedRange(ctx context.Context, doctorID string, from, to Date) error {
	cfg, ok := s.cfgs[doctorID]
	if !ok {
		return apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	cfg.GeneratedFrom, cfg.GeneratedTo = from, to
	return nil
}

func (s *memStore) InsertSlots(ctx context.Context, slots []*Slot) error {
	for _, sl := range slots {
		if sl.ID == uuid.Nil {
			sl.ID = uuid.New()
		}
		s.slots[sl.ID] = sl
	}
	return nil
}

func (s *memStore) DeleteAvailableInRange(ctx context.Context, doctorID string, from, to Date) (int64, error) {
	var n int64
	for id, sl := range s.slots {
		if sl.DoctorID == doctorID && sl.Status == SlotAvailable &&
			!sl.Date.Before(from) && !sl.Date.After(to) {
			delete(s.slots, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteAvailableFrom(ctx context.Context, doctorID string, from Date) (int64, error) {
	var n int64
	for id, sl := range s.slots {
		if sl.DoctorID == doctorID && sl.Status == SlotAvailable && !sl.Date.Before(from) {
			delete(s.slots, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := s.slots[id]; ok {
			delete(s.slots, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, apperror.NotFound("slot not found")
	}
	return sl, nil
}

func sortSlots(slots []*Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Date.Equal(slots[j].Date) {
			return slots[i].Date.Before(slots[j].Date)
		}
		return slots[i].Start < slots[j].Start
	})
}

func (s *memStore) ListByDoctorDate(ctx context.Context, doctorID string, date Date, status SlotStatus) ([]*Slot, error) {
	var out []*Slot
	for _, sl := range s.slots {
		if sl.DoctorID == doctorID && sl.Date.Equal(date) && (status == "" || sl.Status == status) {
			out = append(out, sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (s *memStore) ListBookedInRange(ctx context.Context, doctorID string, from, to Date) ([]*Slot, error) {
	var out []*Slot
	for _, sl := range s.slots {
		if sl.DoctorID == doctorID && sl.Status == SlotBooked &&
			!sl.Date.Before(from) && !sl.Date.After(to) {
			out = append(out, sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (s *memStore) ListBookedFrom(ctx context.Context, doctorID string, from Date) ([]*Slot, error) {
	var out []*Slot
	for _, sl := range s.slots {
		if sl.DoctorID == doctorID && sl.Status == SlotBooked && !sl.Date.Before(from) {
			out = append(out, sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (s *memStore) Reserve(ctx context.Context, id uuid.UUID) (bool, error) {
	sl, ok := s.slots[id]
	if !ok || sl.Status != SlotAvailable {
		return false, nil
	}
	sl.Status = SlotBooked
	return true, nil
}

func (s *memStore) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	sl, ok := s.slots[id]
	if !ok || sl.Status != SlotBooked {
		return false, nil
	}
	sl.Status = SlotAvailable
	return true, nil
}

func (s *memStore) Summary(ctx context.Context, doctorID string) (*SlotSummary, error) {
	cfg, ok := s.cfgs[doctorID]
	if !ok {
		return nil, apperror.NotFound("no schedule configured for doctor %s", doctorID)
	}
	sum := &SlotSummary{GeneratedFrom: cfg.GeneratedFrom, GeneratedTo: cfg.GeneratedTo}
	for _, sl := range s.slots {
		if sl.DoctorID != doctorID {
			continue
		}
		sum.Total++
		if sl.Status == SlotBooked {
			sum.Booked++
		} else {
			sum.Available++
		}
	}
	return sum, nil
}

func (s *memStore) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AppointmentBooked
	}
	s.appts[a.ID] = a
	return nil
}

func (s *memStore) GetAppointmentByID(id uuid.UUID) (*Appointment, bool) {
	a, ok := s.appts[id]
	return a, ok
}

func (s *memStore) GetByIDAppt(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := s.appts[id]
	if !ok {
		return nil, apperror.NotFound("appointment not found")
	}
	return a, nil
}

func (s *memStore) GetBySlotID(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	for _, a := range s.appts {
		if a.SlotID == slotID && a.Status == AppointmentBooked {
			return a, nil
		}
	}
	return nil, apperror.NotFound("no active appointment for slot")
}

func (s *memStore) ListBySlotIDs(ctx context.Context, slotIDs []uuid.UUID) ([]*Appointment, error) {
	want := make(map[uuid.UUID]bool, len(slotIDs))
	for _, id := range slotIDs {
		want[id] = true
	}
	var out []*Appointment
	for _, a := range s.appts {
		if want[a.SlotID] && a.Status == AppointmentBooked {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListByDoctor(ctx context.Context, doctorID string, from Date, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range s.appts {
		sl, ok := s.slots[a.SlotID]
		if a.DoctorID == doctorID && ok && !sl.Date.Before(from) {
			out = append(out, a)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *memStore) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	a, ok := s.appts[id]
	if !ok || a.Status != AppointmentBooked {
		return apperror.State("appointment is not active")
	}
	a.Status = AppointmentCancelled
	if reason != "" {
		a.CancellationReason = &reason
	}
	return nil
}

// apptRepoShim renames GetByIDAppt to the interface method, since memStore
// already has a GetByID for slots.
type apptRepoShim struct{ *memStore }

func (s apptRepoShim) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.memStore.GetByIDAppt(ctx, id)
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	st := newMemStore()
	svc := NewService(st, st, apptRepoShim{st}, passthroughTx{}, time.UTC, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC) }
	return svc, st
}

func seedDoctor(t *testing.T, st *memStore, doctorID string, m *AvailabilityModel) {
	t.Helper()
	st.models[doctorID] = m
	st.cfgs[doctorID] = &ScheduleConfig{DoctorID: doctorID, SlotDurationMin: m.SlotDurationMin}
}

func TestGenerateSlotsWeek(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())

	n, err := svc.GenerateSlots(context.Background(), "doc-1",
		mustDate(t, "2026-09-01"), mustDate(t, "2026-09-07"))
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}
	// 7 mornings of 12 slots plus 5 weekday evenings of 12.
	if n != 144 {
		t.Errorf("generated = %d, want 144", n)
	}
	if len(st.slots) != 144 {
		t.Errorf("stored = %d, want 144", len(st.slots))
	}

	cfg := st.cfgs["doc-1"]
	if cfg.GeneratedFrom.String() != "2026-09-01" || cfg.GeneratedTo.String() != "2026-09-07" {
		t.Errorf("recorded range %s..%s", cfg.GeneratedFrom, cfg.GeneratedTo)
	}
}

func TestGenerateSlotsIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	from, to := mustDate(t, "2026-09-01"), mustDate(t, "2026-09-07")

	if _, err := svc.GenerateSlots(context.Background(), "doc-1", from, to); err != nil {
		t.Fatal(err)
	}
	n, err := svc.GenerateSlots(context.Background(), "doc-1", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if n != 144 || len(st.slots) != 144 {
		t.Errorf("second run generated %d, stored %d, want 144/144", n, len(st.slots))
	}
}

func TestGenerateSlotsRangeOnlyWidens(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()

	if _, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, "2026-09-01"), mustDate(t, "2026-09-07")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, "2026-09-03"), mustDate(t, "2026-09-05")); err != nil {
		t.Fatal(err)
	}
	cfg := st.cfgs["doc-1"]
	if cfg.GeneratedFrom.String() != "2026-09-01" || cfg.GeneratedTo.String() != "2026-09-07" {
		t.Errorf("inner regeneration shrank range to %s..%s", cfg.GeneratedFrom, cfg.GeneratedTo)
	}

	if _, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, "2026-09-05"), mustDate(t, "2026-09-10")); err != nil {
		t.Fatal(err)
	}
	if cfg.GeneratedTo.String() != "2026-09-10" {
		t.Errorf("range did not widen, to = %s", cfg.GeneratedTo)
	}
}

func TestGenerateSlotsValidation(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()

	cases := []struct {
		name     string
		from, to string
	}{
		{"inverted", "2026-09-07", "2026-09-01"},
		{"past", "2026-08-25", "2026-09-01"},
		{"oversized", "2026-09-01", "2027-09-10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, tc.from), mustDate(t, tc.to))
			if !apperror.Is(err, apperror.KindValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}

	t.Run("unknown doctor", func(t *testing.T) {
		_, err := svc.GenerateSlots(ctx, "ghost", mustDate(t, "2026-09-01"), mustDate(t, "2026-09-02"))
		if !apperror.Is(err, apperror.KindNotFound) {
			t.Errorf("err = %v, want not found", err)
		}
	})
}

func TestRegenerationPreservesBookedSlots(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()
	from, to := mustDate(t, "2026-09-01"), mustDate(t, "2026-09-02")

	if _, err := svc.GenerateSlots(ctx, "doc-1", from, to); err != nil {
		t.Fatal(err)
	}
	slots, _ := svc.ListSlots(ctx, "doc-1", from, SlotAvailable)
	appt, err := svc.BookSlot(ctx, slots[0].ID, "patient/7")
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}

	n, err := svc.GenerateSlots(ctx, "doc-1", from, to)
	if err != nil {
		t.Fatal(err)
	}
	// The booked tile is skipped on regeneration.
	if n != 47 {
		t.Errorf("regenerated = %d, want 47", n)
	}
	kept, err := st.GetByID(ctx, appt.SlotID)
	if err != nil || kept.Status != SlotBooked {
		t.Fatalf("booked slot lost on regeneration: %v", err)
	}
	sum, _ := svc.SlotSummary(ctx, "doc-1")
	if sum.Total != 48 || sum.Booked != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestBookSlot(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()
	day := mustDate(t, "2026-09-01")

	if _, err := svc.GenerateSlots(ctx, "doc-1", day, day); err != nil {
		t.Fatal(err)
	}
	slots, _ := svc.ListSlots(ctx, "doc-1", day, SlotAvailable)

	appt, err := svc.BookSlot(ctx, slots[0].ID, "patient/1")
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if appt.DoctorID != "doc-1" || appt.Status != AppointmentBooked {
		t.Errorf("appointment = %+v", appt)
	}

	// Losing the race surfaces as already-booked, not a silent double book.
	if _, err := svc.BookSlot(ctx, slots[0].ID, "patient/2"); !apperror.Is(err, apperror.KindAlreadyBooked) {
		t.Errorf("double booking err = %v, want already booked", err)
	}

	if _, err := svc.BookSlot(ctx, uuid.New(), "patient/3"); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("missing slot err = %v, want not found", err)
	}

	if _, err := svc.BookSlot(ctx, slots[1].ID, ""); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("empty patient err = %v, want validation", err)
	}
}

func TestBookPastSlotRejected(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())

	past := &Slot{DoctorID: "doc-1", Date: mustDate(t, "2026-08-25"),
		Start: 540, End: 555, ShiftType: ShiftMorning, Status: SlotAvailable}
	if err := st.InsertSlots(context.Background(), []*Slot{past}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.BookSlot(context.Background(), past.ID, "patient/1")
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestCancelAppointmentReleasesSlot(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()
	day := mustDate(t, "2026-09-01")

	if _, err := svc.GenerateSlots(ctx, "doc-1", day, day); err != nil {
		t.Fatal(err)
	}
	slots, _ := svc.ListSlots(ctx, "doc-1", day, SlotAvailable)
	appt, err := svc.BookSlot(ctx, slots[0].ID, "patient/1")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.CancelAppointment(ctx, appt.ID, "patient request"); err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	sl, _ := st.GetByID(ctx, appt.SlotID)
	if sl.Status != SlotAvailable {
		t.Errorf("slot status = %s after cancel", sl.Status)
	}
	if st.appts[appt.ID].Status != AppointmentCancelled {
		t.Errorf("appointment status = %s", st.appts[appt.ID].Status)
	}

	// Cancelling again is a no-op.
	if err := svc.CancelAppointment(ctx, appt.ID, "again"); err != nil {
		t.Errorf("second cancel: %v", err)
	}
}

func TestClearAvailableSlotsKeepsBooked(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()

	if _, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, "2026-09-01"), mustDate(t, "2026-09-03")); err != nil {
		t.Fatal(err)
	}
	slots, _ := svc.ListSlots(ctx, "doc-1", mustDate(t, "2026-09-02"), SlotAvailable)
	appt, err := svc.BookSlot(ctx, slots[0].ID, "patient/1")
	if err != nil {
		t.Fatal(err)
	}

	n, err := svc.ClearAvailableSlots(ctx, "doc-1", mustDate(t, "2026-09-02"))
	if err != nil {
		t.Fatalf("ClearAvailableSlots: %v", err)
	}
	// Two 24-slot days minus the booked slot.
	if n != 47 {
		t.Errorf("deleted = %d, want 47", n)
	}
	if sl, err := st.GetByID(ctx, appt.SlotID); err != nil || sl.Status != SlotBooked {
		t.Errorf("booked slot disturbed: %v", err)
	}
	if remaining, _ := svc.ListSlots(ctx, "doc-1", mustDate(t, "2026-09-01"), ""); len(remaining) != 24 {
		t.Errorf("slots before from were deleted, remaining = %d", len(remaining))
	}
}

func TestGenerateSlotsMissingDuration(t *testing.T) {
	svc, st := newTestService(t)
	m := weekdayModel()
	seedDoctor(t, st, "doc-1", m)
	m.SlotDurationMin = 0

	_, err := svc.GenerateSlots(context.Background(), "doc-1", mustDate(t, "2026-09-01"), mustDate(t, "2026-09-02"))
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestCheckConflictsIsReadOnly(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()
	day := mustDate(t, "2026-09-01")

	if _, err := svc.GenerateSlots(ctx, "doc-1", day, day); err != nil {
		t.Fatal(err)
	}
	slots, _ := svc.ListSlots(ctx, "doc-1", day, SlotAvailable)
	if _, err := svc.BookSlot(ctx, slots[0].ID, "patient/1"); err != nil {
		t.Fatal(err)
	}
	before := len(st.slots)

	candidate := weekdayModel()
	candidate.SlotDurationMin = 20
	conflicts, err := svc.CheckConflicts(ctx, "doc-1", candidate)
	if err != nil {
		t.Fatalf("CheckConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Reason != ReasonDurationMismatch {
		t.Errorf("conflicts = %+v", conflicts)
	}
	if len(st.slots) != before {
		t.Error("dry run mutated slot store")
	}
	if st.models["doc-1"].SlotDurationMin != 15 {
		t.Error("dry run mutated model")
	}
}

func TestUpdateModelRejectsConflictsWithoutForce(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()

	if _, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, "2026-09-01"), mustDate(t, "2026-09-07")); err != nil {
		t.Fatal(err)
	}
	// Book a Wednesday evening slot, then try to disable Wednesday evenings.
	wed := mustDate(t, "2026-09-02")
	slots, _ := svc.ListSlots(ctx, "doc-1", wed, SlotAvailable)
	var evening *Slot
	for _, sl := range slots {
		if sl.ShiftType == ShiftEvening {
			evening = sl
			break
		}
	}
	appt, err := svc.BookSlot(ctx, evening.ID, "patient/9")
	if err != nil {
		t.Fatal(err)
	}

	candidate := weekdayModel()
	for i := range candidate.Weekly {
		if candidate.Weekly[i].DayOfWeek == 3 && candidate.Weekly[i].ShiftType == ShiftEvening {
			candidate.Weekly[i].Enabled = false
		}
	}

	_, err = svc.UpdateModel(ctx, "doc-1", candidate, false)
	ce, ok := AsConflictError(err)
	if !ok {
		t.Fatalf("err = %v, want conflict error", err)
	}
	if len(ce.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(ce.Conflicts))
	}
	c := ce.Conflicts[0]
	if c.Reason != ReasonShiftDisabled || c.AppointmentID != appt.ID || c.PatientRef != "patient/9" {
		t.Errorf("conflict = %+v", c)
	}

	// Rejection left everything in place.
	if st.models["doc-1"].ShiftEnabled(3, ShiftEvening) != true {
		t.Error("model changed despite rejection")
	}
	if st.slots[evening.ID].Status != SlotBooked {
		t.Error("booked slot changed despite rejection")
	}
}

func TestUpdateModelForceCancelsAndRegenerates(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()

	if _, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, "2026-09-01"), mustDate(t, "2026-09-07")); err != nil {
		t.Fatal(err)
	}
	wed := mustDate(t, "2026-09-02")
	slots, _ := svc.ListSlots(ctx, "doc-1", wed, SlotAvailable)
	var evening, morning *Slot
	for _, sl := range slots {
		if sl.ShiftType == ShiftEvening && evening == nil {
			evening = sl
		}
		if sl.ShiftType == ShiftMorning && morning == nil {
			morning = sl
		}
	}
	evAppt, err := svc.BookSlot(ctx, evening.ID, "patient/9")
	if err != nil {
		t.Fatal(err)
	}
	moAppt, err := svc.BookSlot(ctx, morning.ID, "patient/10")
	if err != nil {
		t.Fatal(err)
	}

	candidate := weekdayModel()
	for i := range candidate.Weekly {
		if candidate.Weekly[i].DayOfWeek == 3 && candidate.Weekly[i].ShiftType == ShiftEvening {
			candidate.Weekly[i].Enabled = false
		}
	}

	res, err := svc.UpdateModel(ctx, "doc-1", candidate, true)
	if err != nil {
		t.Fatalf("UpdateModel force: %v", err)
	}
	if len(res.CancelledAppointments) != 1 || res.RemovedSlots != 1 {
		t.Fatalf("result = %+v", res)
	}
	cancelled := res.CancelledAppointments[0]
	if cancelled.ID != evAppt.ID || cancelled.PatientRef != "patient/9" {
		t.Errorf("cancelled appointment = %+v, want %s for patient/9", cancelled, evAppt.ID)
	}
	if cancelled.Status != AppointmentCancelled {
		t.Errorf("cancelled appointment status = %s", cancelled.Status)
	}

	if st.appts[evAppt.ID].Status != AppointmentCancelled {
		t.Errorf("evening appointment status = %s", st.appts[evAppt.ID].Status)
	}
	if st.appts[moAppt.ID].Status != AppointmentBooked {
		t.Errorf("unrelated morning appointment status = %s", st.appts[moAppt.ID].Status)
	}
	if st.slots[morning.ID] == nil || st.slots[morning.ID].Status != SlotBooked {
		t.Error("unrelated booked slot disturbed")
	}

	// Wednesday evening is gone under the new model.
	wedSlots, _ := svc.ListSlots(ctx, "doc-1", wed, "")
	for _, sl := range wedSlots {
		if sl.ShiftType == ShiftEvening {
			t.Fatalf("evening slot survived force update: %+v", sl)
		}
	}
	// Other weekday evenings are untouched.
	thuSlots, _ := svc.ListSlots(ctx, "doc-1", mustDate(t, "2026-09-03"), "")
	var thuEvenings int
	for _, sl := range thuSlots {
		if sl.ShiftType == ShiftEvening {
			thuEvenings++
		}
	}
	if thuEvenings != 12 {
		t.Errorf("Thursday evenings = %d, want 12", thuEvenings)
	}
}

func TestUpdateModelDurationChange(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())
	ctx := context.Background()
	day := mustDate(t, "2026-09-06") // Sunday, morning only

	if _, err := svc.GenerateSlots(ctx, "doc-1", day, day); err != nil {
		t.Fatal(err)
	}
	slots, _ := svc.ListSlots(ctx, "doc-1", day, "")
	if len(slots) != 12 {
		t.Fatalf("15-minute slots = %d, want 12", len(slots))
	}

	candidate := weekdayModel()
	candidate.SlotDurationMin = 20
	if _, err := svc.UpdateModel(ctx, "doc-1", candidate, false); err != nil {
		t.Fatalf("UpdateModel with no bookings: %v", err)
	}

	slots, _ = svc.ListSlots(ctx, "doc-1", day, "")
	if len(slots) != 9 {
		t.Errorf("20-minute slots = %d, want 9", len(slots))
	}
	for _, sl := range slots {
		if sl.End-sl.Start != 20 {
			t.Errorf("slot %s-%s is not 20 minutes", sl.Start, sl.End)
		}
	}
}

func TestUpdateModelInvalidCandidate(t *testing.T) {
	svc, st := newTestService(t)
	seedDoctor(t, st, "doc-1", weekdayModel())

	bad := weekdayModel()
	bad.SlotDurationMin = 0
	_, err := svc.UpdateModel(context.Background(), "doc-1", bad, false)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestExceptionSuppressesGeneration(t *testing.T) {
	svc, st := newTestService(t)
	m := weekdayModel()
	m.Exceptions = []TimeOffException{{
		ID:            uuid.New(),
		StartDate:     mustDate(t, "2026-09-02"),
		EndDate:       mustDate(t, "2026-09-02"),
		ExceptionType: "BREAK",
	}}
	seedDoctor(t, st, "doc-1", m)
	ctx := context.Background()

	if _, err := svc.GenerateSlots(ctx, "doc-1", mustDate(t, "2026-09-01"), mustDate(t, "2026-09-03")); err != nil {
		t.Fatal(err)
	}
	if slots, _ := svc.ListSlots(ctx, "doc-1", mustDate(t, "2026-09-02"), ""); len(slots) != 0 {
		t.Errorf("excepted day has %d slots, want 0", len(slots))
	}
	if slots, _ := svc.ListSlots(ctx, "doc-1", mustDate(t, "2026-09-01"), ""); len(slots) != 24 {
		t.Errorf("day before exception has %d slots, want 24", len(slots))
	}
}
