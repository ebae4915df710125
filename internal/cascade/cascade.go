// Package cascade computes same-day shift propagation when one
// appointment's window changes. Calculate is pure: it proposes changes
// and flags conflicts, and callers decide whether to apply them.
package cascade

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fieldops/internal/model"
	"fieldops/pkg/metrics"
)

type ConflictType string

const (
	ConflictAfterHours  ConflictType = "after_hours"
	ConflictCrewOverlap ConflictType = "crew_overlap"
)

// Change is one proposed shift of a downstream appointment.
type Change struct {
	AppointmentID int64
	ClientName    string
	OldStart      time.Time
	NewStart      time.Time
	OldEnd        time.Time
	NewEnd        time.Time
}

type Conflict struct {
	AppointmentID int64
	ClientName    string
	Type          ConflictType
	SharedCrew    []int64
	Detail        string
}

// Plan is the full outcome of one cascade calculation.
type Plan struct {
	Delta           time.Duration
	Changes         []Change
	Conflicts       []Conflict
	AffectedClients []string
	Summary         string
}

// HasConflicts reports whether the plan cannot be applied as-is.
func (p Plan) HasConflicts() bool {
	return len(p.Conflicts) > 0
}

// Calculate propagates the modified appointment's end-time delta to the
// rest of that day's schedule. Eligible appointments share the modified
// appointment's original calendar day, are not completed or cancelled,
// and originally started at or after the modified appointment's original
// end. Each eligible appointment shifts by exactly the delta.
//
// Conflicts flagged: a shifted appointment ending past the business close
// hour, and any same-day live appointment, at its final position,
// overlapping the modified appointment's new window while sharing crew.
func Calculate(modified model.Appointment, newStart time.Time, newDurationHours float64, all []model.Appointment, closeHour int) Plan {
	newAppt := modified
	newAppt.Start = newStart
	newAppt.DurationHours = newDurationHours

	oldEnd := modified.End()
	delta := newAppt.End().Sub(oldEnd)

	plan := Plan{Delta: delta}
	if delta == 0 {
		plan.Summary = fmt.Sprintf("No schedule change for %s; end time is unchanged.", modified.ClientName)
		return plan
	}

	downstream := eligibleDownstream(modified, oldEnd, all)
	shiftedIDs := make(map[int64]bool, len(downstream))
	for _, appt := range downstream {
		shiftedIDs[appt.ID] = true
	}

	seenClients := make(map[string]bool)
	for _, appt := range downstream {
		change := Change{
			AppointmentID: appt.ID,
			ClientName:    appt.ClientName,
			OldStart:      appt.Start,
			NewStart:      appt.Start.Add(delta),
			OldEnd:        appt.End(),
			NewEnd:        appt.End().Add(delta),
		}
		plan.Changes = append(plan.Changes, change)
		if appt.ClientName != "" && !seenClients[appt.ClientName] {
			seenClients[appt.ClientName] = true
			plan.AffectedClients = append(plan.AffectedClients, appt.ClientName)
		}

		shifted := appt
		shifted.Start = change.NewStart

		if c, ok := afterHoursConflict(shifted, closeHour); ok {
			plan.Conflicts = append(plan.Conflicts, c)
			metrics.IncrementCascadeConflict(string(ConflictAfterHours))
		}
	}

	// Crew overlap is checked at final positions. Shifted appointments
	// keep their distance from the modified end by construction, so this
	// mostly catches the modified window landing on an earlier booking.
	y, m, d := modified.Start.Date()
	for _, appt := range all {
		if appt.ID == modified.ID {
			continue
		}
		if appt.Status == model.AppointmentStatusCompleted || appt.Status == model.AppointmentStatusCancelled {
			continue
		}
		ay, am, ad := appt.Start.Date()
		if ay != y || am != m || ad != d {
			continue
		}
		final := appt
		if shiftedIDs[appt.ID] {
			final.Start = appt.Start.Add(delta)
		}
		if c, ok := crewOverlapConflict(final, newAppt); ok {
			plan.Conflicts = append(plan.Conflicts, c)
			metrics.IncrementCascadeConflict(string(ConflictCrewOverlap))
		}
	}

	plan.Summary = buildSummary(modified, newAppt, plan)
	return plan
}

// eligibleDownstream returns the same-day, still-live appointments that
// originally started at or after the modified appointment's original end,
// sorted by original start ascending.
func eligibleDownstream(modified model.Appointment, oldEnd time.Time, all []model.Appointment) []model.Appointment {
	y, m, d := modified.Start.Date()

	var out []model.Appointment
	for _, appt := range all {
		if appt.ID == modified.ID {
			continue
		}
		if appt.Status == model.AppointmentStatusCompleted || appt.Status == model.AppointmentStatusCancelled {
			continue
		}
		ay, am, ad := appt.Start.Date()
		if ay != y || am != m || ad != d {
			continue
		}
		if appt.Start.Before(oldEnd) {
			continue
		}
		out = append(out, appt)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func afterHoursConflict(shifted model.Appointment, closeHour int) (Conflict, bool) {
	end := shifted.End()
	closeAt := time.Date(end.Year(), end.Month(), end.Day(), closeHour, 0, 0, 0, end.Location())
	if !end.After(closeAt) {
		return Conflict{}, false
	}
	return Conflict{
		AppointmentID: shifted.ID,
		ClientName:    shifted.ClientName,
		Type:          ConflictAfterHours,
		Detail: fmt.Sprintf("%s would now end at %s, past business close (%02d:00)",
			shifted.ClientName, end.Format("15:04"), closeHour),
	}, true
}

func crewOverlapConflict(shifted, modified model.Appointment) (Conflict, bool) {
	shared := shifted.SharesCrewWith(modified)
	if len(shared) == 0 {
		return Conflict{}, false
	}
	if !overlaps(shifted.Start, shifted.End(), modified.Start, modified.End()) {
		return Conflict{}, false
	}

	names := make([]string, len(shared))
	for i, id := range shared {
		names[i] = fmt.Sprintf("worker %d", id)
	}
	return Conflict{
		AppointmentID: shifted.ID,
		ClientName:    shifted.ClientName,
		Type:          ConflictCrewOverlap,
		SharedCrew:    shared,
		Detail: fmt.Sprintf("%s would now overlap %s's new window with shared crew (%s)",
			shifted.ClientName, modified.ClientName, strings.Join(names, ", ")),
	}, true
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func buildSummary(original, modified model.Appointment, plan Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Moving %s to %s-%s shifts %d appointment(s) by %s.",
		original.ClientName,
		modified.Start.Format("15:04"),
		modified.End().Format("15:04"),
		len(plan.Changes),
		formatDelta(plan.Delta),
	)
	for _, ch := range plan.Changes {
		fmt.Fprintf(&b, "\n  - %s: %s -> %s",
			ch.ClientName,
			ch.OldStart.Format("15:04"),
			ch.NewStart.Format("15:04"),
		)
	}
	if len(plan.Conflicts) > 0 {
		b.WriteString("\nConflicts:")
		for _, c := range plan.Conflicts {
			fmt.Fprintf(&b, "\n  - %s", c.Detail)
		}
	}
	return b.String()
}

func formatDelta(delta time.Duration) string {
	if delta < 0 {
		return fmt.Sprintf("-%s", (-delta).Round(time.Minute))
	}
	return fmt.Sprintf("+%s", delta.Round(time.Minute))
}
