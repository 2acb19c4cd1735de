// Package notifytest provides a recording notification sink for tests of
// packages that drive the gate.
package notifytest

import (
	"context"
	"sync"

	"github.com/inboxpilot/usagecap/internal/notify"
)

// RecordingSink keeps every notification it receives. Failures can be
// injected per kind, and "admin" fails operator alerts.
type RecordingSink struct {
	mu     sync.Mutex
	sent   []notify.Notification
	admin  []notify.AdminAlert
	FailOn map[string]error
}

// Send records n, or returns the injected error for its kind.
func (s *RecordingSink) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailOn[string(n.Kind)]; err != nil {
		return err
	}
	s.sent = append(s.sent, n)
	return nil
}

// SendAdmin records a.
func (s *RecordingSink) SendAdmin(_ context.Context, a notify.AdminAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailOn["admin"]; err != nil {
		return err
	}
	s.admin = append(s.admin, a)
	return nil
}

// Sent returns a copy of recorded notifications.
func (s *RecordingSink) Sent() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.sent...)
}

// AdminAlerts returns a copy of recorded admin alerts.
func (s *RecordingSink) AdminAlerts() []notify.AdminAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.AdminAlert(nil), s.admin...)
}

var (
	_ notify.Sink      = (*RecordingSink)(nil)
	_ notify.AdminSink = (*RecordingSink)(nil)
)
