package models

import (
	"fmt"
	"strings"
	"time"
)

// Tenant is an account whose lead consumption is metered against a monthly cap.
type Tenant struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the tenant is valid.
func (t *Tenant) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if t.Email != "" && !strings.Contains(t.Email, "@") {
		return fmt.Errorf("invalid email address: %s", t.Email)
	}
	return nil
}

// HasContact reports whether notifications can be delivered to the tenant.
func (t *Tenant) HasContact() bool {
	return strings.TrimSpace(t.Email) != ""
}

// DisplayName returns the name used in notification greetings.
func (t *Tenant) DisplayName() string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	if at := strings.Index(t.Email, "@"); at > 0 {
		return t.Email[:at]
	}
	return t.ID
}
