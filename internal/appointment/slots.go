package appointment

import (
	"sort"
	"time"
)

// GenerateSlots expands the availability declared for date's weekday into
// consecutive fixed-length slots, ascending by start time. A trailing partial
// slot is dropped. It has no side effects and may be called without locking.
func GenerateSlots(pa *ProviderAvailability, date time.Time) []Slot {
	day := pa.Day(date.Weekday())
	if !day.Enabled || day.StartTime >= day.EndTime {
		return []Slot{}
	}

	step := pa.SlotMinutes
	if step <= 0 {
		step = DefaultSlotMinutes
	}

	d := DateOf(date)
	slots := make([]Slot, 0, int(day.EndTime-day.StartTime)/step)
	for start := day.StartTime; start+ClockTime(step) <= day.EndTime; start += ClockTime(step) {
		slots = append(slots, Slot{Date: d, StartTime: start, DurationMinutes: step})
	}
	return slots
}

// Overlaps reports whether [aStart, aStart+aDur) and [bStart, bStart+bDur) intersect.
// Touching intervals do not overlap.
func Overlaps(aStart ClockTime, aDur int, bStart ClockTime, bDur int) bool {
	return aStart < bStart+ClockTime(bDur) && bStart < aStart+ClockTime(aDur)
}

// occupancy is the conflict set for one provider on one date, built from
// its non-cancelled appointments.
type occupancy []*Appointment

func newOccupancy(appts []*Appointment) occupancy {
	occ := make(occupancy, 0, len(appts))
	for _, a := range appts {
		if a.ClinicalStatus != StatusCancelled {
			occ = append(occ, a)
		}
	}
	sort.Slice(occ, func(i, j int) bool { return occ[i].StartTime < occ[j].StartTime })
	return occ
}

// StartTimes returns the start times currently held.
func (o occupancy) StartTimes() map[ClockTime]struct{} {
	set := make(map[ClockTime]struct{}, len(o))
	for _, a := range o {
		set[a.StartTime] = struct{}{}
	}
	return set
}

// firstOverlap returns the held appointment intersecting [start, start+dur), or nil.
func (o occupancy) firstOverlap(start ClockTime, dur int) *Appointment {
	for _, a := range o {
		if Overlaps(a.StartTime, a.DurationMinutes, start, dur) {
			return a
		}
	}
	return nil
}

// filter drops every candidate slot that intersects a held interval.
func (o occupancy) filter(slots []Slot) []Slot {
	free := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if o.firstOverlap(s.StartTime, s.DurationMinutes) == nil {
			free = append(free, s)
		}
	}
	return free
}
