package user

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/versioning"
)

const minPasswordLength = 8

var roles = map[string]bool{
	auth.RoleAdmin:     true,
	auth.RoleNurse:     true,
	auth.RoleCaregiver: true,
	auth.RolePhysician: true,
}

// User is a staff member of a facility. Users are also the actors recorded in
// every history entry of their namespace.
type User struct {
	versioning.Meta
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	IsActive     bool   `json:"isActive"`
	PasswordHash string `json:"passwordHash,omitempty"`
	// Password is accepted on input only and never persisted.
	Password string `json:"password,omitempty"`
}

func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("name is required")
	}
	addr, err := mail.ParseAddress(u.Email)
	if err != nil || addr.Address != u.Email {
		return fmt.Errorf("email %q is not valid", u.Email)
	}
	if !roles[u.Role] {
		return fmt.Errorf("role %q is not valid", u.Role)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

func Descriptor() *versioning.Descriptor {
	return &versioning.Descriptor{
		EntityType: "user",
		Fields: map[string]versioning.FieldClass{
			"name":         versioning.Public,
			"email":        versioning.Public,
			"role":         versioning.Public,
			"isActive":     versioning.Public,
			"passwordHash": versioning.Sensitive,
		},
		IdentityRecord: true,
		PatchSchema: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"email": {"type": "string", "minLength": 3},
				"role": {"enum": ["admin", "nurse", "caregiver", "physician"]},
				"isActive": {"type": "boolean"}
			}
		}`,
	}
}
