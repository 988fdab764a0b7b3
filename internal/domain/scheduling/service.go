package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/apperror"
	"github.com/clinicore/clinicore/internal/platform/db"
)

// maxGenerateSpanDays caps a single materialization request.
const maxGenerateSpanDays = 366

type Service struct {
	models ModelRepository
	slots  SlotRepository
	appts  AppointmentRepository
	tx     db.TxRunner
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(models ModelRepository, slots SlotRepository, appts AppointmentRepository, tx db.TxRunner, loc *time.Location, log zerolog.Logger) *Service {
	return &Service{
		models: models,
		slots:  slots,
		appts:  appts,
		tx:     tx,
		loc:    loc,
		log:    log,
		now:    time.Now,
	}
}

// today is the current calendar day in the clinic's timezone. All "past"
// checks key off it, never off UTC.
func (s *Service) today() Date {
	return DateFrom(s.now().In(s.loc))
}

// run executes fn in one serializable transaction and maps exhausted
// serialization retries to a retryable error kind.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.tx.Serializable(ctx, fn)
	if err != nil && db.IsSerializationFailure(err) {
		return apperror.Concurrency(op+" lost a write race, retry", err)
	}
	return err
}

func (s *Service) GetModel(ctx context.Context, doctorID string) (*AvailabilityModel, error) {
	return s.models.GetModel(ctx, doctorID)
}

func (s *Service) GetConfig(ctx context.Context, doctorID string) (*ScheduleConfig, error) {
	return s.models.GetConfig(ctx, doctorID)
}

// CheckConflicts is the read-only dry run: it reports what a candidate model
// would break without touching any state.
func (s *Service) CheckConflicts(ctx context.Context, doctorID string, candidate *AvailabilityModel) ([]Conflict, error) {
	if err := candidate.Validate(); err != nil {
		return nil, apperror.Validation("invalid availability model: %v", err)
	}
	booked, err := s.slots.ListBookedFrom(ctx, doctorID, s.today())
	if err != nil {
		return nil, err
	}
	appts, err := s.apptsBySlot(ctx, booked)
	if err != nil {
		return nil, err
	}
	return DetectConflicts(candidate, booked, appts), nil
}

// UpdateResult reports what an availability update did. Cancelled
// appointments are returned in full so callers can notify the affected
// patients.
type UpdateResult struct {
	CancelledAppointments []*Appointment `json:"cancelled_appointments"`
	RemovedSlots          int            `json:"removed_slots"`
	RegeneratedSlots      int            `json:"regenerated_slots"`
}

// UpdateModel replaces a doctor's availability model. Inside a single
// serializable transaction it detects every future booked slot the candidate
// would invalidate; without force the whole change is rejected and the
// conflict list returned, with force the conflicting appointments are
// cancelled and their slots removed before the new model is persisted.
// Already-materialized days are regenerated under the new model either way.
func (s *Service) UpdateModel(ctx context.Context, doctorID string, candidate *AvailabilityModel, force bool) (*UpdateResult, error) {
	if err := candidate.Validate(); err != nil {
		return nil, apperror.Validation("invalid availability model: %v", err)
	}

	res := UpdateResult{CancelledAppointments: []*Appointment{}}
	err := s.run(ctx, "availability update", func(ctx context.Context) error {
		today := s.today()
		booked, err := s.slots.ListBookedFrom(ctx, doctorID, today)
		if err != nil {
			return err
		}
		appts, err := s.apptsBySlot(ctx, booked)
		if err != nil {
			return err
		}
		conflicts := DetectConflicts(candidate, booked, appts)
		if len(conflicts) > 0 && !force {
			return &ConflictError{Conflicts: conflicts}
		}

		removed := make([]uuid.UUID, 0, len(conflicts))
		res.CancelledAppointments = make([]*Appointment, 0, len(conflicts))
		for _, c := range conflicts {
			if c.AppointmentID != uuid.Nil {
				if err := s.appts.Cancel(ctx, c.AppointmentID, "schedule change"); err != nil {
					return err
				}
				appt, err := s.appts.GetByID(ctx, c.AppointmentID)
				if err != nil {
					return err
				}
				res.CancelledAppointments = append(res.CancelledAppointments, appt)
			}
			removed = append(removed, c.SlotID)
		}
		n, err := s.slots.DeleteByIDs(ctx, removed)
		if err != nil {
			return err
		}
		res.RemovedSlots = int(n)

		if err := s.models.SaveModel(ctx, doctorID, candidate); err != nil {
			return err
		}

		// Re-tile the already-materialized future under the new model.
		cfg, err := s.models.GetConfig(ctx, doctorID)
		if err != nil {
			return err
		}
		if !cfg.GeneratedTo.IsZero() && !cfg.GeneratedTo.Before(today) {
			from := cfg.GeneratedFrom
			if from.Before(today) {
				from = today
			}
			n, err := s.regenerate(ctx, doctorID, candidate, from, cfg.GeneratedTo)
			if err != nil {
				return err
			}
			res.RegeneratedSlots = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("doctor_id", doctorID).
		Bool("force", force).
		Int("cancelled", len(res.CancelledAppointments)).
		Int("regenerated", res.RegeneratedSlots).
		Msg("availability model updated")
	return &res, nil
}

// GenerateSlots materializes slots over [from, to]. Existing AVAILABLE slots
// in the range are replaced, BOOKED slots are kept and never overlapped.
// The recorded generation range only ever widens.
func (s *Service) GenerateSlots(ctx context.Context, doctorID string, from, to Date) (int, error) {
	today := s.today()
	if from.IsZero() || to.IsZero() {
		return 0, apperror.Validation("from and to are required")
	}
	if to.Before(from) {
		return 0, apperror.Validation("range %s..%s is inverted", from, to)
	}
	if from.Before(today) {
		return 0, apperror.Validation("cannot generate slots in the past (from %s)", from)
	}
	if span := int(to.Sub(from.Time).Hours()/24) + 1; span > maxGenerateSpanDays {
		return 0, apperror.Validation("range spans %d days, max %d", span, maxGenerateSpanDays)
	}

	var inserted int
	err := s.run(ctx, "slot generation", func(ctx context.Context) error {
		model, err := s.models.GetModel(ctx, doctorID)
		if err != nil {
			return err
		}
		if model.SlotDurationMin <= 0 {
			return apperror.Validation("slot duration not configured for doctor %s", doctorID)
		}
		inserted, err = s.regenerate(ctx, doctorID, model, from, to)
		if err != nil {
			return err
		}

		cfg, err := s.models.GetConfig(ctx, doctorID)
		if err != nil {
			return err
		}
		newFrom, newTo := from, to
		if !cfg.GeneratedFrom.IsZero() && cfg.GeneratedFrom.Before(newFrom) {
			newFrom = cfg.GeneratedFrom
		}
		if !cfg.GeneratedTo.IsZero() && cfg.GeneratedTo.After(newTo) {
			newTo = cfg.GeneratedTo
		}
		return s.models.SetGeneratedRange(ctx, doctorID, newFrom, newTo)
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().
		Str("doctor_id", doctorID).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("slots", inserted).
		Msg("slots generated")
	return inserted, nil
}

// regenerate wipes AVAILABLE slots in the range and re-tiles every day from
// the model, skipping candidates that would overlap a surviving BOOKED slot.
func (s *Service) regenerate(ctx context.Context, doctorID string, model *AvailabilityModel, from, to Date) (int, error) {
	if _, err := s.slots.DeleteAvailableInRange(ctx, doctorID, from, to); err != nil {
		return 0, err
	}

	booked, err := s.slots.ListBookedInRange(ctx, doctorID, from, to)
	if err != nil {
		return 0, err
	}
	bookedByDate := make(map[string][]*Slot)
	for _, b := range booked {
		bookedByDate[b.Date.String()] = append(bookedByDate[b.Date.String()], b)
	}

	var fresh []*Slot
	for d := from; !d.After(to); d = d.AddDays(1) {
		for _, cand := range model.SlotsOn(doctorID, d) {
			clear := true
			for _, b := range bookedByDate[d.String()] {
				if b.Overlaps(cand.Start, cand.End) {
					clear = false
					break
				}
			}
			if clear {
				fresh = append(fresh, cand)
			}
		}
	}
	if err := s.slots.InsertSlots(ctx, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// ClearAvailableSlots drops every unbooked slot at or after from. Booked
// slots always survive.
func (s *Service) ClearAvailableSlots(ctx context.Context, doctorID string, from Date) (int64, error) {
	if from.IsZero() {
		return 0, apperror.Validation("from is required")
	}
	n, err := s.slots.DeleteAvailableFrom(ctx, doctorID, from)
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("doctor_id", doctorID).Str("from", from.String()).Int64("deleted", n).Msg("available slots cleared")
	return n, nil
}

func (s *Service) ListSlots(ctx context.Context, doctorID string, date Date, status SlotStatus) ([]*Slot, error) {
	if status != "" && status != SlotAvailable && status != SlotBooked {
		return nil, apperror.Validation("unknown slot status %q", status)
	}
	return s.slots.ListByDoctorDate(ctx, doctorID, date, status)
}

func (s *Service) SlotSummary(ctx context.Context, doctorID string) (*SlotSummary, error) {
	return s.slots.Summary(ctx, doctorID)
}

// BookSlot reserves an AVAILABLE slot and creates its appointment in one
// serializable transaction. Losing the reservation race is a normal outcome
// reported as an already-booked rejection.
func (s *Service) BookSlot(ctx context.Context, slotID uuid.UUID, patientRef string) (*Appointment, error) {
	if patientRef == "" {
		return nil, apperror.Validation("patient_ref is required")
	}

	var appt *Appointment
	err := s.run(ctx, "slot booking", func(ctx context.Context) error {
		sl, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return err
		}
		if sl.Date.Before(s.today()) {
			return apperror.Validation("cannot book a past slot (%s)", sl.Date)
		}
		ok, err := s.slots.Reserve(ctx, slotID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.AlreadyBooked("slot %s is already booked", slotID)
		}
		appt = &Appointment{
			DoctorID:   sl.DoctorID,
			SlotID:     slotID,
			PatientRef: patientRef,
			Status:     AppointmentBooked,
		}
		return s.appts.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error) {
	return s.appts.ListByDoctor(ctx, doctorID, s.today(), limit, offset)
}

// CancelAppointment cancels a booking and frees its slot. Cancelling an
// already-cancelled appointment is a no-op, and the slot release tolerates a
// slot that was already freed.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) error {
	return s.run(ctx, "appointment cancel", func(ctx context.Context) error {
		a, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == AppointmentCancelled {
			return nil
		}
		if a.Status != AppointmentBooked {
			return apperror.State("appointment is %s, not BOOKED", a.Status)
		}
		if err := s.appts.Cancel(ctx, id, reason); err != nil {
			return err
		}
		_, err = s.slots.Release(ctx, a.SlotID)
		return err
	})
}

func (s *Service) apptsBySlot(ctx context.Context, booked []*Slot) (map[uuid.UUID]*Appointment, error) {
	ids := make([]uuid.UUID, 0, len(booked))
	for _, b := range booked {
		ids = append(ids, b.ID)
	}
	appts, err := s.appts.ListBySlotIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	bySlot := make(map[uuid.UUID]*Appointment, len(appts))
	for _, a := range appts {
		bySlot[a.SlotID] = a
	}
	return bySlot, nil
}
