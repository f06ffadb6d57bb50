package vitalsign

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ilpi/internal/platform/versioning"
)

// VitalSign is one set of measurements taken from a resident.
type VitalSign struct {
	versioning.Meta
	ResidentID             uuid.UUID  `json:"residentId"`
	MeasuredBy             *uuid.UUID `json:"measuredBy,omitempty"`
	Timestamp              time.Time  `json:"timestamp"`
	SystolicBloodPressure  *int       `json:"systolicBloodPressure,omitempty"`
	DiastolicBloodPressure *int       `json:"diastolicBloodPressure,omitempty"`
	Temperature            *float64   `json:"temperature,omitempty"`
	HeartRate              *int       `json:"heartRate,omitempty"`
	OxygenSaturation       *int       `json:"oxygenSaturation,omitempty"`
	BloodGlucose           *int       `json:"bloodGlucose,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
}

type intRange struct{ min, max int }

var limits = map[string]intRange{
	"systolicBloodPressure":  {40, 300},
	"diastolicBloodPressure": {20, 200},
	"heartRate":              {20, 250},
	"oxygenSaturation":       {50, 100},
	"bloodGlucose":           {20, 800},
}

func (v *VitalSign) Validate() error {
	if v.ResidentID == uuid.Nil {
		return fmt.Errorf("residentId is required")
	}
	if v.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if v.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("timestamp is in the future")
	}

	measured := false
	for name, val := range map[string]*int{
		"systolicBloodPressure":  v.SystolicBloodPressure,
		"diastolicBloodPressure": v.DiastolicBloodPressure,
		"heartRate":              v.HeartRate,
		"oxygenSaturation":       v.OxygenSaturation,
		"bloodGlucose":           v.BloodGlucose,
	} {
		if val == nil {
			continue
		}
		measured = true
		if r := limits[name]; *val < r.min || *val > r.max {
			return fmt.Errorf("%s must be between %d and %d", name, r.min, r.max)
		}
	}
	if v.Temperature != nil {
		measured = true
		if *v.Temperature < 30 || *v.Temperature > 45 {
			return fmt.Errorf("temperature must be between 30 and 45")
		}
	}
	if !measured {
		return fmt.Errorf("at least one measurement is required")
	}
	if v.SystolicBloodPressure != nil && v.DiastolicBloodPressure != nil &&
		*v.DiastolicBloodPressure >= *v.SystolicBloodPressure {
		return fmt.Errorf("diastolicBloodPressure must be lower than systolicBloodPressure")
	}
	return nil
}

func Descriptor() *versioning.Descriptor {
	return &versioning.Descriptor{
		EntityType: "vital_sign",
		Fields: map[string]versioning.FieldClass{
			"measuredBy":             versioning.Public,
			"timestamp":              versioning.Public,
			"systolicBloodPressure":  versioning.Public,
			"diastolicBloodPressure": versioning.Public,
			"temperature":            versioning.Public,
			"heartRate":              versioning.Public,
			"oxygenSaturation":       versioning.Public,
			"bloodGlucose":           versioning.Public,
			"notes":                  versioning.Public,
		},
		PatchSchema: `{
			"type": "object",
			"properties": {
				"timestamp": {"type": "string", "format": "date-time"},
				"systolicBloodPressure": {"type": ["integer", "null"]},
				"diastolicBloodPressure": {"type": ["integer", "null"]},
				"temperature": {"type": ["number", "null"]},
				"heartRate": {"type": ["integer", "null"]},
				"oxygenSaturation": {"type": ["integer", "null"]},
				"bloodGlucose": {"type": ["integer", "null"]},
				"notes": {"type": "string", "maxLength": 2000}
			}
		}`,
	}
}
