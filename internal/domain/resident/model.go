package resident

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ehr/ilpi/internal/platform/versioning"
)

// Statuses.
const (
	StatusActive   = "Ativo"
	StatusInactive = "Inativo"
	StatusDeceased = "Falecido"
)

var genders = map[string]bool{
	"MASCULINO":     true,
	"FEMININO":      true,
	"OUTRO":         true,
	"NAO_INFORMADO": true,
}

var cpfPattern = regexp.MustCompile(`^\d{3}\.?\d{3}\.?\d{3}-?\d{2}$`)

const dateLayout = "2006-01-02"

// Resident is a person living in the facility.
type Resident struct {
	versioning.Meta
	FullName      string `json:"fullName"`
	SocialName    string `json:"socialName,omitempty"`
	CPF           string `json:"cpf,omitempty"`
	CNS           string `json:"cns,omitempty"`
	Gender        string `json:"gender"`
	BirthDate     string `json:"birthDate"`
	Status        string `json:"status"`
	RoomNumber    string `json:"roomNumber,omitempty"`
	AdmissionDate string `json:"admissionDate,omitempty"`
}

func (r *Resident) Validate() error {
	if strings.TrimSpace(r.FullName) == "" {
		return fmt.Errorf("fullName is required")
	}
	if !genders[r.Gender] {
		return fmt.Errorf("gender %q is not valid", r.Gender)
	}
	switch r.Status {
	case StatusActive, StatusInactive, StatusDeceased:
	default:
		return fmt.Errorf("status %q is not valid", r.Status)
	}
	if r.CPF != "" && !cpfPattern.MatchString(r.CPF) {
		return fmt.Errorf("cpf must have 11 digits")
	}
	birth, err := time.Parse(dateLayout, r.BirthDate)
	if err != nil {
		return fmt.Errorf("birthDate must be YYYY-MM-DD")
	}
	if birth.After(time.Now()) {
		return fmt.Errorf("birthDate is in the future")
	}
	if r.AdmissionDate != "" {
		admission, err := time.Parse(dateLayout, r.AdmissionDate)
		if err != nil {
			return fmt.Errorf("admissionDate must be YYYY-MM-DD")
		}
		if admission.Before(birth) {
			return fmt.Errorf("admissionDate precedes birthDate")
		}
	}
	return nil
}

const patchSchema = `{
	"type": "object",
	"properties": {
		"fullName": {"type": "string", "minLength": 1},
		"socialName": {"type": "string"},
		"cpf": {"type": "string"},
		"cns": {"type": "string", "pattern": "^[0-9]{15}$"},
		"gender": {"enum": ["MASCULINO", "FEMININO", "OUTRO", "NAO_INFORMADO"]},
		"birthDate": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
		"status": {"enum": ["Ativo", "Inativo", "Falecido"]},
		"roomNumber": {"type": "string", "maxLength": 16},
		"admissionDate": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}
	}
}`

func Descriptor() *versioning.Descriptor {
	return &versioning.Descriptor{
		EntityType: "resident",
		Fields: map[string]versioning.FieldClass{
			"fullName":      versioning.Public,
			"socialName":    versioning.Public,
			"cpf":           versioning.Public,
			"cns":           versioning.Public,
			"gender":        versioning.Public,
			"birthDate":     versioning.Public,
			"status":        versioning.Public,
			"roomNumber":    versioning.Public,
			"admissionDate": versioning.Public,
		},
		PatchSchema: patchSchema,
	}
}
