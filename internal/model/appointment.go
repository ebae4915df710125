package model

import "time"

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// DefaultAppointmentHours is the nominal duration used for placement when
// an appointment has no explicit duration.
const DefaultAppointmentHours = 3.0

type Appointment struct {
	ID            int64
	TenantID      int64
	ClientID      int64
	ClientName    string
	Start         time.Time
	DurationHours float64
	Status        AppointmentStatus
	CrewMembers   []int64
}

// EffectiveDuration returns the explicit duration, or the nominal default
// when none is set.
func (a Appointment) EffectiveDuration() time.Duration {
	hours := a.DurationHours
	if hours <= 0 {
		hours = DefaultAppointmentHours
	}
	return time.Duration(hours * float64(time.Hour))
}

// End returns the appointment end using the effective duration.
func (a Appointment) End() time.Time {
	return a.Start.Add(a.EffectiveDuration())
}

// SharesCrewWith reports whether both appointments have at least one crew
// member in common, returning the shared worker ids.
func (a Appointment) SharesCrewWith(other Appointment) []int64 {
	var shared []int64
	for _, w := range a.CrewMembers {
		for _, o := range other.CrewMembers {
			if w == o {
				shared = append(shared, w)
				break
			}
		}
	}
	return shared
}
