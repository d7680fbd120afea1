// Package position defines the position report consumed by the alert engine.
package position

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// Report is a single fix from a tracked device. EventTime is the time of the
// fix, not of ingestion; reports may arrive out of order. Decoded reports
// carry EventTime in UTC.
type Report struct {
	DeviceID    string
	Coordinate  orb.Point // lon, lat
	Speed       float64
	GPSFixValid bool
	EventTime   time.Time
	SourceID    string
}

// wireReport is the JSON shape published by trackers and gateways.
type wireReport struct {
	DeviceID  string    `json:"device_id"`
	Lon       float64   `json:"lon"`
	Lat       float64   `json:"lat"`
	Speed     float64   `json:"speed"`
	GPSValid  bool      `json:"gps_valid"`
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"source_id,omitempty"`
}

func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireReport{
		DeviceID:  r.DeviceID,
		Lon:       r.Coordinate.Lon(),
		Lat:       r.Coordinate.Lat(),
		Speed:     r.Speed,
		GPSValid:  r.GPSFixValid,
		Timestamp: r.EventTime,
		SourceID:  r.SourceID,
	})
}

func (r *Report) UnmarshalJSON(b []byte) error {
	var w wireReport
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Report{
		DeviceID:    w.DeviceID,
		Coordinate:  orb.Point{w.Lon, w.Lat},
		Speed:       w.Speed,
		GPSFixValid: w.GPSValid,
		EventTime:   w.Timestamp.UTC(),
		SourceID:    w.SourceID,
	}
	return nil
}

// Validate reports structural problems that make a report unusable for
// evaluation. An invalid GPS fix is not a structural problem.
func (r Report) Validate() error {
	switch {
	case r.DeviceID == "":
		return fmt.Errorf("report has no device id")
	case r.EventTime.IsZero():
		return fmt.Errorf("report for %s has no event time", r.DeviceID)
	case math.IsNaN(r.Coordinate[0]) || math.IsNaN(r.Coordinate[1]):
		return fmt.Errorf("report for %s has NaN coordinates", r.DeviceID)
	case r.Coordinate.Lon() < -180 || r.Coordinate.Lon() > 180:
		return fmt.Errorf("report for %s has longitude %f out of range", r.DeviceID, r.Coordinate.Lon())
	case r.Coordinate.Lat() < -90 || r.Coordinate.Lat() > 90:
		return fmt.Errorf("report for %s has latitude %f out of range", r.DeviceID, r.Coordinate.Lat())
	}
	return nil
}
