package prescription

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ilpi/internal/platform/versioning"
)

// Prescription types.
const (
	TypeRoutine    = "ROTINA"
	TypeAdjustment = "ALTERACAO_PONTUAL"
	TypeAntibiotic = "ANTIBIOTICO"
	TypeHighRisk   = "ALTO_RISCO"
	TypeControlled = "CONTROLADO"
	TypeOther      = "OUTRO"
)

const (
	dateLayout     = "2006-01-02"
	maxNotesLength = 4000
)

var (
	types = map[string]bool{
		TypeRoutine: true, TypeAdjustment: true, TypeAntibiotic: true,
		TypeHighRisk: true, TypeControlled: true, TypeOther: true,
	}
	crmPattern   = regexp.MustCompile(`^[0-9]{4,8}$`)
	statePattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Prescription is a physician's order for a resident.
type Prescription struct {
	versioning.Meta
	ResidentID       uuid.UUID `json:"residentId"`
	DoctorName       string    `json:"doctorName"`
	DoctorCRM        string    `json:"doctorCrm"`
	DoctorCRMState   string    `json:"doctorCrmState"`
	PrescriptionType string    `json:"prescriptionType"`
	PrescriptionDate string    `json:"prescriptionDate"`
	ValidUntil       string    `json:"validUntil,omitempty"`
	IsActive         bool      `json:"isActive"`
	Notes            string    `json:"notes,omitempty"`
}

// requiresValidity lists the types that may not be open-ended.
func requiresValidity(t string) bool {
	return t == TypeAntibiotic || t == TypeControlled
}

func (p *Prescription) Validate() error {
	if p.ResidentID == uuid.Nil {
		return fmt.Errorf("residentId is required")
	}
	if strings.TrimSpace(p.DoctorName) == "" {
		return fmt.Errorf("doctorName is required")
	}
	if !crmPattern.MatchString(p.DoctorCRM) {
		return fmt.Errorf("doctorCrm must have 4 to 8 digits")
	}
	if !statePattern.MatchString(p.DoctorCRMState) {
		return fmt.Errorf("doctorCrmState must be a two-letter state code")
	}
	if !types[p.PrescriptionType] {
		return fmt.Errorf("prescriptionType %q is not valid", p.PrescriptionType)
	}
	issued, err := time.Parse(dateLayout, p.PrescriptionDate)
	if err != nil {
		return fmt.Errorf("prescriptionDate must be YYYY-MM-DD")
	}
	if p.ValidUntil == "" {
		if requiresValidity(p.PrescriptionType) {
			return fmt.Errorf("%s prescriptions need validUntil", strings.ToLower(p.PrescriptionType))
		}
	} else {
		until, err := time.Parse(dateLayout, p.ValidUntil)
		if err != nil {
			return fmt.Errorf("validUntil must be YYYY-MM-DD")
		}
		if until.Before(issued) {
			return fmt.Errorf("validUntil precedes prescriptionDate")
		}
	}
	if len(p.Notes) > maxNotesLength {
		return fmt.Errorf("notes exceed %d characters", maxNotesLength)
	}
	return nil
}

// Expired reports whether the prescription's validity ended before day.
func (p *Prescription) Expired(day time.Time) bool {
	if p.ValidUntil == "" {
		return false
	}
	until, err := time.Parse(dateLayout, p.ValidUntil)
	if err != nil {
		return false
	}
	return until.Before(day.UTC().Truncate(24 * time.Hour))
}

func Descriptor() *versioning.Descriptor {
	return &versioning.Descriptor{
		EntityType: "prescription",
		Fields: map[string]versioning.FieldClass{
			"doctorName":       versioning.Public,
			"doctorCrm":        versioning.Public,
			"doctorCrmState":   versioning.Public,
			"prescriptionType": versioning.Public,
			"prescriptionDate": versioning.Public,
			"validUntil":       versioning.Public,
			"isActive":         versioning.Public,
			"notes":            versioning.Public,
		},
		PatchSchema: `{
			"type": "object",
			"properties": {
				"doctorName": {"type": "string", "minLength": 1},
				"doctorCrm": {"type": "string"},
				"doctorCrmState": {"type": "string", "pattern": "^[A-Z]{2}$"},
				"prescriptionType": {"enum": ["ROTINA", "ALTERACAO_PONTUAL", "ANTIBIOTICO", "ALTO_RISCO", "CONTROLADO", "OUTRO"]},
				"prescriptionDate": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
				"validUntil": {"type": ["string", "null"], "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
				"isActive": {"type": "boolean"},
				"notes": {"type": "string"}
			}
		}`,
	}
}
