package safety

import (
	"time"
)

// ObjectClass identifies what kind of tracked object produced a detection.
type ObjectClass string

const (
	ClassHuman       ObjectClass = "human"
	ClassVehicle     ObjectClass = "vehicle"
	ClassPalletTruck ObjectClass = "pallet_truck"
	ClassAGV         ObjectClass = "agv"
)

// VehicleClasses returns every class treated as a vehicle for safety purposes.
func VehicleClasses() []ObjectClass {
	return []ObjectClass{ClassVehicle, ClassPalletTruck, ClassAGV}
}

// Valid reports whether c is one of the known object classes.
func (c ObjectClass) Valid() bool {
	switch c {
	case ClassHuman, ClassVehicle, ClassPalletTruck, ClassAGV:
		return true
	}
	return false
}

// IsVehicle reports whether c counts as a vehicle class.
func (c ObjectClass) IsVehicle() bool {
	switch c {
	case ClassVehicle, ClassPalletTruck, ClassAGV:
		return true
	}
	return false
}

// Severity classifies how dangerous a close call was.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Observation is one timestamped position reading for a tracked object.
// Trajectories share a TrackingID; timestamps are not guaranteed monotonic
// within a trajectory by the source.
type Observation struct {
	ID          int64       `json:"id"`
	TrackingID  string      `json:"tracking_id"`
	ObjectClass ObjectClass `json:"object_class"`
	Timestamp   time.Time   `json:"timestamp"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Heading     *float64    `json:"heading,omitempty"`
	Speed       *float64    `json:"speed,omitempty"`
	Vest        *bool       `json:"vest,omitempty"`
	Zone        string      `json:"zone,omitempty"`
}

// CloseCall records a human and a vehicle observation that were close in both
// time and space. Close calls are computed per query and never persisted.
type CloseCall struct {
	Timestamp         time.Time   `json:"timestamp"`
	HumanTrackingID   string      `json:"human_tracking_id"`
	HumanX            float64     `json:"human_x"`
	HumanY            float64     `json:"human_y"`
	HumanZone         string      `json:"human_zone,omitempty"`
	VehicleTrackingID string      `json:"vehicle_tracking_id"`
	VehicleClass      ObjectClass `json:"vehicle_class"`
	VehicleX          float64     `json:"vehicle_x"`
	VehicleY          float64     `json:"vehicle_y"`
	VehicleZone       string      `json:"vehicle_zone,omitempty"`
	Distance          float64     `json:"distance"`
	DistanceThreshold float64     `json:"distance_threshold"`
	TimeWindowMS      int64       `json:"time_window_ms"`
	TimeDifferenceMS  int64       `json:"time_difference_ms"`
	Severity          Severity    `json:"severity"`
}

// Zone returns the zone a close call is attributed to: the vehicle's zone if
// present, else the human's.
func (c CloseCall) Zone() string {
	if c.VehicleZone != "" {
		return c.VehicleZone
	}
	return c.HumanZone
}
