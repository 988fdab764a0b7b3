package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/scheduling"
)

// EntryRepository persists queue entries. MaxToken and Insert are always
// called inside the same serializable transaction; splitting them across
// transactions reintroduces the duplicate-token race.
type EntryRepository interface {
	MaxToken(ctx context.Context, doctorID string, date scheduling.Date) (int, error)
	Insert(ctx context.Context, e *QueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	GetByToken(ctx context.Context, doctorID string, date scheduling.Date, token int) (*QueueEntry, error)
	ListByDate(ctx context.Context, doctorID string, date scheduling.Date) ([]*QueueEntry, error)
	ListActive(ctx context.Context, doctorID string, date scheduling.Date) ([]*QueueEntry, error)
	CurrentWithDoctor(ctx context.Context, doctorID string) (*QueueEntry, error)
	Update(ctx context.Context, e *QueueEntry) error
}

// CheckInRepository persists doctor daily presence.
type CheckInRepository interface {
	Upsert(ctx context.Context, c *DoctorCheckIn) error
	Get(ctx context.Context, doctorID string, date scheduling.Date) (*DoctorCheckIn, error)
	Delete(ctx context.Context, doctorID string, date scheduling.Date) error
}

// SlotSource resolves the slot an appointment check-in claims to hold.
type SlotSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Slot, error)
}

// ConfigSource exposes the per-doctor consultation duration for wait
// estimation.
type ConfigSource interface {
	GetConfig(ctx context.Context, doctorID string) (*scheduling.ScheduleConfig, error)
}
