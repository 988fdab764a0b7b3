package scheduling

import (
	"sort"

	"github.com/google/uuid"
)

// WindowsOn resolves the open windows for one calendar day: the weekly grid
// picks the enabled shifts for the day of week, then any exception covering
// the date removes everything. Windows come back ordered by start time.
func (m *AvailabilityModel) WindowsOn(d Date) []Window {
	if _, off := m.ExceptionCovering(d); off {
		return nil
	}

	dow := d.DayOfWeek()
	var windows []Window
	for _, w := range m.Weekly {
		if w.DayOfWeek != dow || !w.Enabled {
			continue
		}
		tmpl, ok := m.Template(w.ShiftType)
		if !ok {
			continue
		}
		windows = append(windows, Window{ShiftType: tmpl.ShiftType, Start: tmpl.Start, End: tmpl.End})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	return windows
}

// SlotsOn materializes the candidate slots for one day by tiling each open
// window with consecutive slot-duration intervals. A trailing remainder
// shorter than the duration is dropped, never emitted short.
func (m *AvailabilityModel) SlotsOn(doctorID string, d Date) []*Slot {
	if m.SlotDurationMin <= 0 {
		return nil
	}
	var slots []*Slot
	for _, w := range m.WindowsOn(d) {
		dur := MinuteOfDay(m.SlotDurationMin)
		for start := w.Start; start+dur <= w.End; start += dur {
			slots = append(slots, &Slot{
				DoctorID:  doctorID,
				Date:      d,
				Start:     start,
				End:       start + dur,
				ShiftType: w.ShiftType,
				Status:    SlotAvailable,
			})
		}
	}
	return slots
}

// classify decides whether a booked slot survives under a candidate model
// and, when it does not, why. Reasons are checked in severity order: a slot
// whose whole shift is gone reports SHIFT_DISABLED even if its times or
// duration would also mismatch.
func (m *AvailabilityModel) classify(sl *Slot) (ConflictReason, bool) {
	if _, off := m.ExceptionCovering(sl.Date); off {
		return ReasonShiftDisabled, true
	}
	if !m.ShiftEnabled(sl.Date.DayOfWeek(), sl.ShiftType) {
		return ReasonShiftDisabled, true
	}
	tmpl, ok := m.Template(sl.ShiftType)
	if !ok {
		return ReasonShiftDisabled, true
	}
	if sl.Start < tmpl.Start || sl.End > tmpl.End {
		return ReasonTimeOutsideShift, true
	}
	dur := MinuteOfDay(m.SlotDurationMin)
	if sl.End-sl.Start != dur || (sl.Start-tmpl.Start)%dur != 0 {
		return ReasonDurationMismatch, true
	}
	return "", false
}

// DetectConflicts reports every booked slot that a candidate model would
// invalidate. Appointment details are joined in by slot id when available.
func DetectConflicts(candidate *AvailabilityModel, booked []*Slot, appts map[uuid.UUID]*Appointment) []Conflict {
	var conflicts []Conflict
	for _, sl := range booked {
		reason, bad := candidate.classify(sl)
		if !bad {
			continue
		}
		c := Conflict{
			SlotID:    sl.ID,
			Date:      sl.Date,
			Start:     sl.Start,
			End:       sl.End,
			ShiftType: sl.ShiftType,
			Reason:    reason,
		}
		if a, ok := appts[sl.ID]; ok {
			c.AppointmentID = a.ID
			c.PatientRef = a.PatientRef
		}
		conflicts = append(conflicts, c)
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if !conflicts[i].Date.Equal(conflicts[j].Date) {
			return conflicts[i].Date.Before(conflicts[j].Date)
		}
		return conflicts[i].Start < conflicts[j].Start
	})
	return conflicts
}
