package display

import (
	"fmt"

	"github.com/wolfman30/blood-donor-assistant/internal/blooddonor"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
)

const unknown = "Unknown"

type Device struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

// DeviceInfo describes the donor account as a single device.
func DeviceInfo(snap scheduler.Snapshot) Device {
	procedure, group, serial, since := unknown, unknown, unknown, unknown
	if snap.Account != nil {
		procedure = orUnknown(snap.Account.ProcedureType)
		group = orUnknown(snap.Account.BloodGroup)
		serial = orUnknown(snap.Account.DonorID)
	}
	if snap.Awards != nil && snap.Awards.RegistrationDate != "" {
		if d, err := blooddonor.ParseDate(snap.Awards.RegistrationDate); err == nil {
			since = d.Format("2006-01-02")
		}
	}
	return Device{
		Name:         "Blood Donor",
		Manufacturer: "Blood.co.uk",
		Model:        fmt.Sprintf("%s Donor (%s) since %s", procedure, group, since),
		SerialNumber: serial,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
