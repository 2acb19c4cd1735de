package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/ingest"
	"github.com/inboxpilot/usagecap/internal/models"
)

// TenantRequest is the body of PUT /tenants/:id.
type TenantRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Plan  string `json:"plan"`
}

// UsageResponse is a usage snapshot with the hard-gate verdict.
type UsageResponse struct {
	models.UsageSnapshot
	AtCap bool `json:"at_cap"`
}

// DecisionResponse is one sub-machine verdict in a preview.
type DecisionResponse struct {
	Kind models.NotificationKind `json:"kind"`
	Send bool                    `json:"send"`
}

// PreviewResponse shows what a pass would send for a tenant right now.
type PreviewResponse struct {
	Usage     UsageResponse            `json:"usage"`
	State     models.NotificationState `json:"state"`
	Decisions []DecisionResponse       `json:"decisions"`
}

// IngestRequest is the body of POST /tenants/:id/leads.
type IngestRequest struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CapReachedResponse is the structured denial returned when the hard gate applies.
type CapReachedResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      int               `json:"code"`
	TenantID  string            `json:"tenant_id"`
	Used      int64             `json:"used"`
	Cap       int64             `json:"cap"`
	ResetDate time.Time         `json:"reset_date"`
	Lead      *models.LeadEvent `json:"lead,omitempty"`
}

func (s *Server) handleListTenants(c *gin.Context) {
	tenants, err := s.store.ListTenants(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

func (s *Server) handleGetTenant(c *gin.Context) {
	tenant, err := s.store.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

func (s *Server) handleUpsertTenant(c *gin.Context) {
	var req TenantRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	tenant := &models.Tenant{
		ID:    id,
		Email: strings.TrimSpace(req.Email),
		Name:  strings.TrimSpace(req.Name),
		Plan:  strings.TrimSpace(req.Plan),
	}
	status := http.StatusCreated
	if existing, err := s.store.GetTenant(ctx, id); err == nil {
		tenant.CreatedAt = existing.CreatedAt
		status = http.StatusOK
	}

	if err := tenant.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.store.UpsertTenant(ctx, tenant); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(status, tenant)
}

func (s *Server) handleDeleteTenant(c *gin.Context) {
	id := c.Param("id")
	deleted, err := s.store.DeleteTenant(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !deleted {
		s.writeError(c, &errors.ErrTenantNotFound{TenantID: id})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetUsage(c *gin.Context) {
	ctx := c.Request.Context()
	tenant, err := s.store.GetTenant(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	snap, err := s.acct.Snapshot(ctx, tenant, s.nowFn())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UsageResponse{UsageSnapshot: snap, AtCap: snap.AtCap()})
}

func (s *Server) handlePreviewNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	tenant, err := s.store.GetTenant(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	snap, state, decisions, err := s.gate.Preview(ctx, tenant, s.nowFn())
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := PreviewResponse{
		Usage:     UsageResponse{UsageSnapshot: snap, AtCap: snap.AtCap()},
		State:     state,
		Decisions: make([]DecisionResponse, 0, len(decisions)),
	}
	for _, d := range decisions {
		resp.Decisions = append(resp.Decisions, DecisionResponse{Kind: d.Kind, Send: d.Send})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListLeads(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.store.GetTenant(ctx, id); err != nil {
		s.writeError(c, err)
		return
	}

	from, to := models.MonthWindow(s.nowFn().In(s.acct.Location()))
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			badRequest(c, "from must be an RFC3339 timestamp")
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			badRequest(c, "to must be an RFC3339 timestamp")
			return
		}
	}
	if !from.Before(to) {
		badRequest(c, "from must be before to")
		return
	}

	events, err := s.store.ListEvents(ctx, id, from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": events, "count": len(events), "from": from, "to": to})
}

func (s *Server) handleIngestLead(c *gin.Context) {
	var req IngestRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Sender) == "" && strings.TrimSpace(req.Body) == "" {
		badRequest(c, "sender or body is required")
		return
	}

	event, err := s.ingest.Ingest(c.Request.Context(), c.Param("id"), ingest.Lead{
		Sender:  req.Sender,
		Subject: req.Subject,
		Body:    req.Body,
	}, s.nowFn())
	if err != nil {
		var capped *errors.ErrCapReached
		if errors.As(err, &capped) {
			c.JSON(http.StatusTooManyRequests, CapReachedResponse{
				Error:     "cap_reached",
				Message:   capped.Error(),
				Code:      http.StatusTooManyRequests,
				TenantID:  capped.TenantID,
				Used:      capped.Used,
				Cap:       capped.Cap,
				ResetDate: capped.ResetDate,
				Lead:      event,
			})
			return
		}
		if event != nil {
			// Stored, but the draft could not be produced.
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "generation_failed",
				"message": err.Error(),
				"code":    http.StatusBadGateway,
				"lead":    event,
			})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (s *Server) handleRunPass(c *gin.Context) {
	// A pass started over HTTP finishes even if the caller disconnects.
	ctx := context.WithoutCancel(c.Request.Context())

	result, err := s.gate.RunDailyPass(ctx, s.nowFn())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleLastPass(c *gin.Context) {
	result, ok := s.gate.LastPass()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "no pass has completed yet",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleNotificationState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"paused": s.gate.Paused()})
}

func (s *Server) handlePause(paused bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.gate.SetPaused(paused); err != nil {
			s.writeError(c, err)
			return
		}
		s.logger.InfoWithContext(c.Request.Context(), "notification pause switch changed", "paused", paused)
		c.JSON(http.StatusOK, gin.H{"paused": paused})
	}
}

// writeError maps domain errors onto HTTP responses.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		notFound   *errors.ErrTenantNotFound
		locked     *errors.ErrPassLocked
		invalidCap *errors.ErrInvalidCap
	)

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error(), Code: http.StatusNotFound})
	case errors.As(err, &locked):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "pass_locked", Message: err.Error(), Code: http.StatusConflict})
	case errors.As(err, &invalidCap):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_cap", Message: err.Error(), Code: http.StatusUnprocessableEntity})
	default:
		s.logger.ErrorWithContext(c.Request.Context(), "request failed",
			"path", c.Request.URL.Path,
			"error", err,
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error(), Code: http.StatusInternalServerError})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: message, Code: http.StatusBadRequest})
}
