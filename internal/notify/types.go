package notify

import (
	"time"

	"github.com/inboxpilot/usagecap/internal/models"
)

// Notification is the payload handed to a tenant sink. HitAt is set on
// limit and follow-up notifications to the moment the cap was reached.
type Notification struct {
	Kind      models.NotificationKind
	TenantID  string
	Address   string
	Name      string
	Usage     models.UsageSnapshot
	Month     models.MonthStamp
	HitAt     *time.Time
	Timestamp time.Time
}

// Decision is the outcome of one sub-machine check. Update holds the
// markers to persist if, and only if, the dispatch succeeds.
type Decision struct {
	Kind   models.NotificationKind
	Send   bool
	Update models.MarkerUpdate
}

// AdminAlert is the operator-facing notice raised when a tenant reaches its cap.
type AdminAlert struct {
	TenantID      string
	TenantName    string
	Email         string
	Plan          string
	Used          int64
	Cap           int64
	RawPercentage int
	EstimatedCost float64
	Month         models.MonthStamp
	Timestamp     time.Time
}
