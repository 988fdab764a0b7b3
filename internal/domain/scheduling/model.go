package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ShiftType names a recurring time-of-day window.
type ShiftType string

const (
	ShiftMorning ShiftType = "MORNING"
	ShiftEvening ShiftType = "EVENING"
)

var validShiftTypes = map[ShiftType]bool{
	ShiftMorning: true,
	ShiftEvening: true,
}

// SlotStatus is the booking state of a slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
)

// AppointmentStatus is the lifecycle state of a booking.
type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "BOOKED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentFulfilled AppointmentStatus = "FULFILLED"
)

// Date is a calendar day in the clinic's local calendar, serialized as
// YYYY-MM-DD.
type Date struct {
	time.Time
}

// DateFrom truncates t to its calendar day. The day is taken from t's own
// location, so pass clinic-local time when deriving "today".
func DateFrom(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format("2006-01-02") }

func (d Date) AddDays(n int) Date { return Date{d.Time.AddDate(0, 0, n)} }

// DayOfWeek returns 0 (Sunday) through 6 (Saturday).
func (d Date) DayOfWeek() int { return int(d.Weekday()) }

func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MinuteOfDay is minutes since local midnight, serialized as HH:MM.
type MinuteOfDay int

// ParseMinuteOfDay parses an HH:MM clock time.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return MinuteOfDay(t.Hour()*60 + t.Minute()), nil
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m MinuteOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MinuteOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMinuteOfDay(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// WeeklyAvailability is one row of the fixed per-doctor day/shift grid.
type WeeklyAvailability struct {
	DayOfWeek int       `json:"day_of_week"`
	ShiftType ShiftType `json:"shift_type"`
	Enabled   bool      `json:"enabled"`
}

// ShiftTemplate is the per-doctor window for one shift type, shared by every
// day that shift is enabled on.
type ShiftTemplate struct {
	ShiftType ShiftType   `json:"shift_type"`
	Start     MinuteOfDay `json:"start"`
	End       MinuteOfDay `json:"end"`
}

// TimeOffException removes all availability for a doctor over a date range.
type TimeOffException struct {
	ID            uuid.UUID `json:"id"`
	StartDate     Date      `json:"start_date"`
	EndDate       Date      `json:"end_date"`
	ExceptionType string    `json:"exception_type"`
	Reason        string    `json:"reason,omitempty"`
}

// Covers reports whether the exception covers the given date.
func (e *TimeOffException) Covers(d Date) bool {
	return !d.Before(e.StartDate) && !d.After(e.EndDate)
}

// AvailabilityModel is a full snapshot of one doctor's recurring pattern,
// shift templates, exceptions, and slot duration.
type AvailabilityModel struct {
	Weekly          []WeeklyAvailability `json:"weekly"`
	Templates       []ShiftTemplate      `json:"templates"`
	Exceptions      []TimeOffException   `json:"exceptions"`
	SlotDurationMin int                  `json:"slot_duration_min"`
}

// Validate rejects malformed models: unknown shift types, day-of-week out of
// 0..6, enabled shifts without a template, inverted windows, and shift
// windows that intersect each other.
func (m *AvailabilityModel) Validate() error {
	templates := make(map[ShiftType]ShiftTemplate, len(m.Templates))
	for _, t := range m.Templates {
		if !validShiftTypes[t.ShiftType] {
			return fmt.Errorf("unknown shift type %q", t.ShiftType)
		}
		if t.Start >= t.End {
			return fmt.Errorf("shift %s window %s-%s is empty", t.ShiftType, t.Start, t.End)
		}
		if _, dup := templates[t.ShiftType]; dup {
			return fmt.Errorf("duplicate template for shift %s", t.ShiftType)
		}
		templates[t.ShiftType] = t
	}

	// Windows of distinct shifts must be disjoint so slots generated for one
	// day never overlap.
	sorted := make([]ShiftTemplate, 0, len(templates))
	for _, t := range templates {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return fmt.Errorf("shift windows %s and %s overlap", sorted[i-1].ShiftType, sorted[i].ShiftType)
		}
	}

	for _, w := range m.Weekly {
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return fmt.Errorf("day_of_week %d out of range", w.DayOfWeek)
		}
		if !validShiftTypes[w.ShiftType] {
			return fmt.Errorf("unknown shift type %q", w.ShiftType)
		}
		if w.Enabled {
			if _, ok := templates[w.ShiftType]; !ok {
				return fmt.Errorf("shift %s enabled on day %d without a template", w.ShiftType, w.DayOfWeek)
			}
		}
	}

	for _, e := range m.Exceptions {
		if e.StartDate.IsZero() || e.EndDate.IsZero() {
			return fmt.Errorf("exception requires start and end dates")
		}
		if e.EndDate.Before(e.StartDate) {
			return fmt.Errorf("exception range %s..%s is inverted", e.StartDate, e.EndDate)
		}
	}

	if m.SlotDurationMin <= 0 {
		return fmt.Errorf("slot duration must be positive, got %d", m.SlotDurationMin)
	}

	return nil
}

// Template returns the window template for a shift type.
func (m *AvailabilityModel) Template(s ShiftType) (ShiftTemplate, bool) {
	for _, t := range m.Templates {
		if t.ShiftType == s {
			return t, true
		}
	}
	return ShiftTemplate{}, false
}

// ShiftEnabled reports whether the shift is enabled on the given day of week.
func (m *AvailabilityModel) ShiftEnabled(dayOfWeek int, s ShiftType) bool {
	for _, w := range m.Weekly {
		if w.DayOfWeek == dayOfWeek && w.ShiftType == s {
			return w.Enabled
		}
	}
	return false
}

// ExceptionCovering returns the exception covering the date, if any.
func (m *AvailabilityModel) ExceptionCovering(d Date) (*TimeOffException, bool) {
	for i := range m.Exceptions {
		if m.Exceptions[i].Covers(d) {
			return &m.Exceptions[i], true
		}
	}
	return nil, false
}

// Window is one open interval of a doctor's day.
type Window struct {
	ShiftType ShiftType   `json:"shift_type"`
	Start     MinuteOfDay `json:"start"`
	End       MinuteOfDay `json:"end"`
}

// Slot is a discrete bookable interval for a doctor on a date.
type Slot struct {
	ID        uuid.UUID   `json:"id"`
	DoctorID  string      `json:"doctor_id"`
	Date      Date        `json:"date"`
	Start     MinuteOfDay `json:"start"`
	End       MinuteOfDay `json:"end"`
	ShiftType ShiftType   `json:"shift_type"`
	Status    SlotStatus  `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Overlaps reports whether a same-day interval intersects the slot.
func (s *Slot) Overlaps(start, end MinuteOfDay) bool {
	return s.Start < end && start < s.End
}

// Appointment is the booking bound to a BOOKED slot.
type Appointment struct {
	ID                 uuid.UUID         `json:"id"`
	DoctorID           string            `json:"doctor_id"`
	SlotID             uuid.UUID         `json:"slot_id"`
	PatientRef         string            `json:"patient_ref"`
	Status             AppointmentStatus `json:"status"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// ScheduleConfig carries per-doctor generation settings and the recorded
// materialization range.
type ScheduleConfig struct {
	DoctorID        string `json:"doctor_id"`
	SlotDurationMin int    `json:"slot_duration_min"`
	GeneratedFrom   Date   `json:"generated_from"`
	GeneratedTo     Date   `json:"generated_to"`
}

// SlotSummary is the per-doctor slot census.
type SlotSummary struct {
	Total         int  `json:"total"`
	Available     int  `json:"available"`
	Booked        int  `json:"booked"`
	GeneratedFrom Date `json:"generated_from"`
	GeneratedTo   Date `json:"generated_to"`
}

// ConflictReason classifies why a booked slot no longer fits a candidate
// availability model.
type ConflictReason string

const (
	ReasonShiftDisabled    ConflictReason = "SHIFT_DISABLED"
	ReasonTimeOutsideShift ConflictReason = "TIME_OUTSIDE_SHIFT"
	ReasonDurationMismatch ConflictReason = "DURATION_MISMATCH"
)

// Conflict is one booked slot invalidated by a candidate model.
type Conflict struct {
	SlotID        uuid.UUID      `json:"slot_id"`
	AppointmentID uuid.UUID      `json:"appointment_id,omitempty"`
	PatientRef    string         `json:"patient_ref,omitempty"`
	Date          Date           `json:"date"`
	Start         MinuteOfDay    `json:"start"`
	End           MinuteOfDay    `json:"end"`
	ShiftType     ShiftType      `json:"shift_type"`
	Reason        ConflictReason `json:"reason"`
}

// ConflictError carries the full conflict list back to the caller when a
// schedule change is rejected.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule change conflicts with %d booked slot(s)", len(e.Conflicts))
}

// AsConflictError unwraps err into a *ConflictError when it is one.
func AsConflictError(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
