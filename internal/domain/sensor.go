package domain

import "context"

// SensorStatus is the operational state of a deployed sensor.
type SensorStatus string

const (
	SensorStatusActive      SensorStatus = "active"
	SensorStatusInactive    SensorStatus = "inactive"
	SensorStatusMaintenance SensorStatus = "maintenance"
)

// Location is a geographic position with an optional human-readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Sensor is a deployed measurement device.
type Sensor struct {
	ID       int64
	Name     string
	Type     string
	Status   SensorStatus
	Location Location
}

// SensorRepository is the persistence boundary for sensors.
type SensorRepository interface {
	GetByID(ctx context.Context, id int64) (*Sensor, error)
	CountByStatus(ctx context.Context) (map[SensorStatus]int, error)
}
