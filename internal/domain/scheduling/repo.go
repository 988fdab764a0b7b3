package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ModelRepository persists the per-doctor availability snapshot: weekly grid,
// shift templates, exceptions, and generation config.
type ModelRepository interface {
	GetModel(ctx context.Context, doctorID string) (*AvailabilityModel, error)
	SaveModel(ctx context.Context, doctorID string, m *AvailabilityModel) error
	GetConfig(ctx context.Context, doctorID string) (*ScheduleConfig, error)
	SetGeneratedRange(ctx context.Context, doctorID string, from, to Date) error
}

// SlotRepository persists materialized slots.
type SlotRepository interface {
	InsertSlots(ctx context.Context, slots []*Slot) error
	DeleteAvailableInRange(ctx context.Context, doctorID string, from, to Date) (int64, error)
	DeleteAvailableFrom(ctx context.Context, doctorID string, from Date) (int64, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListByDoctorDate(ctx context.Context, doctorID string, date Date, status SlotStatus) ([]*Slot, error)
	ListBookedInRange(ctx context.Context, doctorID string, from, to Date) ([]*Slot, error)
	ListBookedFrom(ctx context.Context, doctorID string, from Date) ([]*Slot, error)
	Reserve(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	Summary(ctx context.Context, doctorID string) (*SlotSummary, error)
}

// AppointmentRepository persists bookings.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetBySlotID(ctx context.Context, slotID uuid.UUID) (*Appointment, error)
	ListBySlotIDs(ctx context.Context, slotIDs []uuid.UUID) ([]*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, from Date, limit, offset int) ([]*Appointment, int, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
}
