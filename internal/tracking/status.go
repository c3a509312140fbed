package tracking

import "github.com/example/carpool/internal/models"

// Status is the presentational ride phase shown to a waiting rider.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusDriverOnWay Status = "driver_on_way"
	StatusPickingUp   Status = "picking_up"
	StatusArriving    Status = "arriving"
	StatusInTransit   Status = "in_transit"
	StatusCompleted   Status = "completed"
)

// arrivingThresholdMin: at or under this many minutes to the pickup
// point the status flips to arriving.
const arrivingThresholdMin = 2

// DeriveStatus maps a live tracking state to a presentational status
// for the given rider. It never fails; absent data degrades to the
// earliest plausible phase.
func DeriveStatus(st models.TrackingState, riderID string) Status {
	if st.EndedAt != nil {
		return StatusCompleted
	}
	if st.Current == nil {
		return StatusWaiting
	}
	for _, id := range st.Onboard {
		if id == riderID {
			return StatusInTransit
		}
	}
	if st.StartedAt == nil {
		return StatusDriverOnWay
	}
	if ETAMinutes(*st.Current, st.Pickup, st.SpeedKmh) <= arrivingThresholdMin {
		return StatusArriving
	}
	return StatusPickingUp
}
