package display

import (
	"time"

	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
)

// View is the full dashboard payload served over HTTP and the live feed.
type View struct {
	Device            Device    `json:"device"`
	Sensors           []Sensor  `json:"sensors"`
	NextEvent         *Event    `json:"next_event,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
	LastUpdateSuccess bool      `json:"last_update_success"`
	LastError         string    `json:"last_error,omitempty"`
}

func Build(snap scheduler.Snapshot, loc *time.Location) View {
	return View{
		Device:            DeviceInfo(snap),
		Sensors:           State(snap),
		NextEvent:         NextEvent(snap, loc),
		UpdatedAt:         snap.UpdatedAt,
		LastUpdateSuccess: snap.LastUpdateSuccess,
		LastError:         snap.LastError,
	}
}
