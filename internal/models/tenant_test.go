package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantValidate(t *testing.T) {
	tests := []struct {
		name    string
		tenant  Tenant
		wantErr bool
	}{
		{"valid", Tenant{ID: "t1", Email: "a@b.co"}, false},
		{"no email is allowed", Tenant{ID: "t1"}, false},
		{"missing id", Tenant{Email: "a@b.co"}, true},
		{"bad email", Tenant{ID: "t1", Email: "nobody"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tenant.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTenantDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", (&Tenant{ID: "t1", Name: "Ada", Email: "ada@x.io"}).DisplayName())
	assert.Equal(t, "ada", (&Tenant{ID: "t1", Email: "ada@x.io"}).DisplayName())
	assert.Equal(t, "t1", (&Tenant{ID: "t1"}).DisplayName())
	assert.False(t, (&Tenant{ID: "t1", Email: "  "}).HasContact())
}

func TestPassResultAdd(t *testing.T) {
	var r PassResult
	r.Add(TenantOutcome{TenantID: "a", Sent: []NotificationKind{NotificationWarning}})
	r.Add(TenantOutcome{TenantID: "b", Sent: []NotificationKind{NotificationLimit, NotificationReset}})
	r.Add(TenantOutcome{TenantID: "c", Skipped: true})
	r.Add(TenantOutcome{TenantID: "d", Failures: []TenantError{{TenantID: "d", Stage: "usage"}}})

	assert.Equal(t, 4, r.TenantsChecked)
	assert.Equal(t, 1, r.WarningsSent)
	assert.Equal(t, 1, r.LimitsSent)
	assert.Equal(t, 1, r.ResetsSent)
	assert.Equal(t, 0, r.FollowUpsSent)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Errors)
	assert.Equal(t, 3, r.Sent())
}
