package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/apperror"
	"github.com/clinicore/clinicore/internal/domain/scheduling"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/ws"
)

// Notifier pushes queue-changed events to board watchers.
type Notifier interface {
	Broadcast(event ws.Event)
}

type Service struct {
	entries  EntryRepository
	checkins CheckInRepository
	slots    SlotSource
	configs  ConfigSource
	tx       db.TxRunner
	notify   Notifier
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(entries EntryRepository, checkins CheckInRepository, slots SlotSource, configs ConfigSource, tx db.TxRunner, notify Notifier, loc *time.Location, log zerolog.Logger) *Service {
	return &Service{
		entries:  entries,
		checkins: checkins,
		slots:    slots,
		configs:  configs,
		tx:       tx,
		notify:   notify,
		loc:      loc,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) today() scheduling.Date {
	return scheduling.DateFrom(s.now().In(s.loc))
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.tx.Serializable(ctx, fn)
	if err != nil && db.IsSerializationFailure(err) {
		return apperror.Concurrency(op+" lost a write race, retry", err)
	}
	return err
}

func (s *Service) broadcast(eventType, doctorID string, date scheduling.Date, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("queue event payload marshal failed")
		return
	}
	s.notify.Broadcast(ws.Event{
		Type:      eventType,
		DoctorID:  doctorID,
		Date:      date.String(),
		Timestamp: s.now(),
		Data:      data,
	})
}

// CheckInRequest is the patient-side join request.
type CheckInRequest struct {
	PatientRef string
	Source     EntrySource
	SlotID     *uuid.UUID
	Priority   Priority
}

// CheckIn issues the next token for (doctor, date) and enqueues the patient.
// The max-token read and the insert share one serializable transaction; that
// pairing is what makes tokens exactly-once under concurrent check-ins.
func (s *Service) CheckIn(ctx context.Context, doctorID string, date scheduling.Date, req CheckInRequest) (*QueueEntry, error) {
	if req.PatientRef == "" {
		return nil, apperror.Validation("patient_ref is required")
	}
	if !validSources[req.Source] {
		return nil, apperror.Validation("unknown source %q", req.Source)
	}
	if req.Priority != PriorityNormal && req.Priority != PriorityEmergency {
		return nil, apperror.Validation("unknown priority %d", req.Priority)
	}
	if date.IsZero() {
		date = s.today()
	}
	if date.Before(s.today()) {
		return nil, apperror.Validation("cannot join a past queue (%s)", date)
	}
	switch req.Source {
	case SourceAppointment:
		if req.SlotID == nil {
			return nil, apperror.Validation("slot_id is required for appointment check-in")
		}
	case SourceWalkIn:
		if req.SlotID != nil {
			return nil, apperror.Validation("walk-in check-in cannot carry a slot")
		}
	}

	entry := &QueueEntry{
		DoctorID:    doctorID,
		VisitDate:   date,
		PatientRef:  req.PatientRef,
		Source:      req.Source,
		SlotID:      req.SlotID,
		Priority:    req.Priority,
		Status:      StatusQueued,
		CheckedInAt: s.now(),
	}

	err := s.run(ctx, "queue check-in", func(ctx context.Context) error {
		if req.SlotID != nil {
			sl, err := s.slots.GetByID(ctx, *req.SlotID)
			if err != nil {
				return err
			}
			if sl.Status != scheduling.SlotBooked {
				return apperror.State("slot %s is not booked", sl.ID)
			}
			if sl.DoctorID != doctorID || !sl.Date.Equal(date) {
				return apperror.Validation("slot %s does not belong to doctor %s on %s", sl.ID, doctorID, date)
			}
		}
		max, err := s.entries.MaxToken(ctx, doctorID, date)
		if err != nil {
			return err
		}
		entry.Token = max + 1
		return s.entries.Insert(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("doctor_id", doctorID).
		Str("date", date.String()).
		Int("token", entry.Token).
		Str("source", string(entry.Source)).
		Msg("patient checked in")
	s.broadcast("checked_in", doctorID, date, entry)
	return entry, nil
}

// Transition moves an entry through the state machine. Entering WITH_DOCTOR
// is a check-and-set inside the transaction: if any other entry for the
// doctor, on any date, already holds WITH_DOCTOR the move is rejected, so
// two staff clients can never both claim the current patient.
func (s *Service) Transition(ctx context.Context, entryID uuid.UUID, target EntryStatus) (*QueueEntry, error) {
	var entry *QueueEntry
	err := s.run(ctx, "queue transition", func(ctx context.Context) error {
		var err error
		entry, err = s.entries.GetByID(ctx, entryID)
		if err != nil {
			return err
		}
		if !CanTransition(entry.Status, target) {
			return apperror.State("cannot move entry from %s to %s", entry.Status, target)
		}
		if target == StatusWithDoctor {
			current, err := s.entries.CurrentWithDoctor(ctx, entry.DoctorID)
			if err != nil {
				return err
			}
			if current != nil {
				return apperror.State("token %d is already with the doctor", current.Token)
			}
		}

		now := s.now()
		entry.Status = target
		switch {
		case target == StatusWithDoctor:
			entry.CalledAt = &now
		case target.IsTerminal():
			entry.CompletedAt = &now
		}
		return s.entries.Update(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("doctor_id", entry.DoctorID).
		Int("token", entry.Token).
		Str("status", string(entry.Status)).
		Msg("queue entry transitioned")
	s.broadcast("transitioned", entry.DoctorID, entry.VisitDate, entry)
	return entry, nil
}

// EntryStatus computes the patient-facing poll view for an entry.
func (s *Service) EntryStatus(ctx context.Context, entryID uuid.UUID) (*QueueStatus, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(ctx, entry)
}

// StatusByToken resolves an entry by its daily token, the number patients
// actually hold.
func (s *Service) StatusByToken(ctx context.Context, doctorID string, date scheduling.Date, token int) (*QueueStatus, error) {
	if date.IsZero() {
		date = s.today()
	}
	entry, err := s.entries.GetByToken(ctx, doctorID, date, token)
	if err != nil {
		return nil, err
	}
	return s.statusOf(ctx, entry)
}

func (s *Service) statusOf(ctx context.Context, entry *QueueEntry) (*QueueStatus, error) {
	st := &QueueStatus{
		EntryID: entry.ID,
		Token:   entry.Token,
		Status:  entry.Status,
	}

	checkin, err := s.checkins.Get(ctx, entry.DoctorID, entry.VisitDate)
	if err != nil {
		return nil, err
	}
	current, err := s.entries.CurrentWithDoctor(ctx, entry.DoctorID)
	if err != nil {
		return nil, err
	}
	st.DoctorAvailable = checkin != nil && current == nil

	waitPerPatient := 0
	if cfg, err := s.configs.GetConfig(ctx, entry.DoctorID); err == nil && cfg.SlotDurationMin > 0 {
		waitPerPatient = cfg.SlotDurationMin
	} else if err != nil && !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}

	// Once the entry is with the doctor or done, there is nobody ahead and
	// nothing left to wait for.
	if entry.Status == StatusWithDoctor || entry.Status.IsTerminal() {
		if waitPerPatient > 0 {
			zero := 0
			st.EstimatedWait = &zero
		}
		return st, nil
	}

	active, err := s.entries.ListActive(ctx, entry.DoctorID, entry.VisitDate)
	if err != nil {
		return nil, err
	}
	ahead := 0
	for _, a := range active {
		if a.ID != entry.ID && entry.Ahead(a) {
			ahead++
		}
	}
	st.Position = ahead + 1
	st.PeopleAhead = ahead
	if waitPerPatient > 0 {
		wait := ahead * waitPerPatient
		st.EstimatedWait = &wait
	}
	return st, nil
}

// Board returns every entry for a doctor's day in token order.
func (s *Service) Board(ctx context.Context, doctorID string, date scheduling.Date) ([]*QueueEntry, error) {
	if date.IsZero() {
		date = s.today()
	}
	return s.entries.ListByDate(ctx, doctorID, date)
}

// DoctorArrive marks the doctor present for the day. Repeating it refreshes
// the timestamp.
func (s *Service) DoctorArrive(ctx context.Context, doctorID string, date scheduling.Date) (*DoctorCheckIn, error) {
	if date.IsZero() {
		date = s.today()
	}
	checkin := &DoctorCheckIn{DoctorID: doctorID, VisitDate: date, CheckedInAt: s.now()}
	if err := s.checkins.Upsert(ctx, checkin); err != nil {
		return nil, err
	}
	s.broadcast("doctor_checked_in", doctorID, date, checkin)
	return checkin, nil
}

// DoctorDepart clears the doctor's presence for the day.
func (s *Service) DoctorDepart(ctx context.Context, doctorID string, date scheduling.Date) error {
	if date.IsZero() {
		date = s.today()
	}
	if err := s.checkins.Delete(ctx, doctorID, date); err != nil {
		return err
	}
	s.broadcast("doctor_checked_out", doctorID, date, nil)
	return nil
}
