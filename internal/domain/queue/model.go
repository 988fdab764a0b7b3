package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/scheduling"
)

// EntrySource says how a patient joined the queue.
type EntrySource string

const (
	SourceAppointment EntrySource = "APPOINTMENT"
	SourceWalkIn      EntrySource = "WALKIN"
)

var validSources = map[EntrySource]bool{
	SourceAppointment: true,
	SourceWalkIn:      true,
}

// EntryStatus is a queue entry's lifecycle state.
type EntryStatus string

const (
	StatusQueued     EntryStatus = "QUEUED"
	StatusWaiting    EntryStatus = "WAITING"
	StatusWithDoctor EntryStatus = "WITH_DOCTOR"
	StatusCompleted  EntryStatus = "COMPLETED"
	StatusCancelled  EntryStatus = "CANCELLED"
	StatusNoShow     EntryStatus = "NO_SHOW"
)

// allowedTransitions is the entry state machine. COMPLETED, CANCELLED and
// NO_SHOW are terminal.
var allowedTransitions = map[EntryStatus][]EntryStatus{
	StatusQueued:     {StatusWaiting, StatusCancelled},
	StatusWaiting:    {StatusWithDoctor, StatusCancelled, StatusNoShow},
	StatusWithDoctor: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to EntryStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the entry's lifecycle.
func (s EntryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// IsActive reports whether the entry still occupies a place in the live
// queue. Tokens of inactive entries are kept but no longer counted ahead of
// anyone.
func (s EntryStatus) IsActive() bool {
	return s == StatusQueued || s == StatusWaiting || s == StatusWithDoctor
}

// Priority orders entries within a day's queue. Higher goes first; ties fall
// back to token order, which follows arrival.
type Priority int

const (
	PriorityNormal    Priority = 0
	PriorityEmergency Priority = 1
)

// QueueEntry is one patient's place in a doctor's daily queue. The token is
// assigned once at check-in and never reused or renumbered.
type QueueEntry struct {
	ID          uuid.UUID       `json:"id"`
	DoctorID    string          `json:"doctor_id"`
	VisitDate   scheduling.Date `json:"visit_date"`
	Token       int             `json:"token"`
	PatientRef  string          `json:"patient_ref"`
	Source      EntrySource     `json:"source"`
	SlotID      *uuid.UUID      `json:"slot_id,omitempty"`
	Priority    Priority        `json:"priority"`
	Status      EntryStatus     `json:"status"`
	CheckedInAt time.Time       `json:"checked_in_at"`
	CalledAt    *time.Time      `json:"called_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Ahead reports whether other is served before e under priority-then-token
// ordering.
func (e *QueueEntry) Ahead(other *QueueEntry) bool {
	if other.Priority != e.Priority {
		return other.Priority > e.Priority
	}
	return other.Token < e.Token
}

// DoctorCheckIn records doctor presence for one day, independent of queue
// activity.
type DoctorCheckIn struct {
	DoctorID    string          `json:"doctor_id"`
	VisitDate   scheduling.Date `json:"visit_date"`
	CheckedInAt time.Time       `json:"checked_in_at"`
}

// QueueStatus is the patient-facing poll result for one entry.
type QueueStatus struct {
	EntryID         uuid.UUID   `json:"entry_id"`
	Token           int         `json:"token"`
	Status          EntryStatus `json:"status"`
	Position        int         `json:"position"`
	PeopleAhead     int         `json:"people_ahead"`
	EstimatedWait   *int        `json:"estimated_wait_minutes"`
	DoctorAvailable bool        `json:"doctor_available"`
}
