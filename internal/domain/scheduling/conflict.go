package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ConflictingIDs returns the ids of every active appointment in appts
// whose interval overlaps [start, start+duration). Records matching
// excludeID and cancelled records are skipped. Pure: the candidate set is
// supplied by the caller, and both participants' calendars must be
// checked independently for a booking decision.
func ConflictingIDs(start time.Time, durationMinutes int, appts []*Appointment, excludeID uuid.UUID) []uuid.UUID {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	var ids []uuid.UUID
	for _, a := range appts {
		if a.ID == excludeID || !a.IsActive() {
			continue
		}
		if overlaps(start, end, a.StartTime, a.EndTime()) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
