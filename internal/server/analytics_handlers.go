package server

import (
	"strings"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// RegenerateRequest is the optional body of POST /api/admin/analytics/regenerate.
type RegenerateRequest struct {
	Kind string `json:"kind"`
}

// GetAnalytics handles GET /api/admin/analytics?kind=daily|weekly.
func (s *Server) GetAnalytics(c *fiber.Ctx) error {
	kind := models.SnapshotKind(strings.ToLower(c.Query("kind")))
	view, err := s.analytics.Get(requestContext(c), principal(c), kind)
	return respond(c, fiber.StatusOK, view, err)
}

// RegenerateAnalytics handles POST /api/admin/analytics/regenerate.
func (s *Server) RegenerateAnalytics(c *fiber.Ctx) error {
	var req RegenerateRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondError(c, err)
	}
	if req.Kind == "" {
		req.Kind = c.Query("kind")
	}
	kind := models.SnapshotKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	snap, err := s.analytics.RegenerateNow(requestContext(c), principal(c), kind)
	return respond(c, fiber.StatusCreated, snap, err)
}

// VerifyAccuracy handles GET /api/admin/accuracy/:snapshotId.
func (s *Server) VerifyAccuracy(c *fiber.Ctx) error {
	id, err := parseID(c, "snapshotId")
	if err != nil {
		return models.RespondError(c, err)
	}
	report, err := s.analytics.VerifyAccuracy(c.UserContext(), principal(c), id)
	return respond(c, fiber.StatusOK, report, err)
}

// GetAnomalies handles GET /api/admin/anomalies.
func (s *Server) GetAnomalies(c *fiber.Ctx) error {
	report, err := s.insights.Anomalies(c.UserContext(), principal(c))
	return respond(c, fiber.StatusOK, report, err)
}

// GetRetention handles GET /api/admin/retention?timeframe=7d|30d|90d.
func (s *Server) GetRetention(c *fiber.Ctx) error {
	report, err := s.insights.Retention(c.UserContext(), principal(c), c.Query("timeframe"))
	return respond(c, fiber.StatusOK, report, err)
}

// QueryAudit handles GET /api/admin/audit?actor_id=&action=&target_type=&target_id=&from=&to=.
func (s *Server) QueryAudit(c *fiber.Ctx) error {
	if err := authz.Check(principal(c), authz.ActionViewAudit, authz.Target{}); err != nil {
		return models.RespondError(c, err)
	}
	page := parsePagination(c, 50)

	filter := repository.AuditFilter{
		ActionType: strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
	}
	var err error
	if filter.ActorID, err = parseQueryID(c, "actor_id"); err != nil {
		return models.RespondError(c, err)
	}
	if filter.TargetID, err = parseQueryID(c, "target_id"); err != nil {
		return models.RespondError(c, err)
	}
	if filter.From, err = parseQueryTime(c, "from"); err != nil {
		return models.RespondError(c, err)
	}
	if filter.To, err = parseQueryTime(c, "to"); err != nil {
		return models.RespondError(c, err)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return models.RespondError(c, models.NewValidationError("to must not be before from"))
	}

	result, err := s.audit.Query(c.UserContext(), filter, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// ListOutbox handles GET /api/admin/outbox?status=.
func (s *Server) ListOutbox(c *fiber.Ctx) error {
	if err := authz.Check(principal(c), authz.ActionViewOutbox, authz.Target{}); err != nil {
		return models.RespondError(c, err)
	}
	page := parsePagination(c, 50)

	status := models.OutboxStatus(strings.ToLower(c.Query("status")))
	switch status {
	case "", models.OutboxPending, models.OutboxDelivered, models.OutboxFailed:
	default:
		return models.RespondError(c, models.NewValidationError("status must be one of pending, delivered, failed"))
	}
	result, err := s.outbox.List(c.UserContext(), status, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// GetFeatureFlags handles GET /api/admin/feature-flags.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	p := principal(c)
	if err := authz.Check(p, authz.ActionReadOwn, authz.Target{}); err != nil {
		return models.RespondError(c, err)
	}
	return models.RespondOK(c, fiber.StatusOK, s.featureFlags.Snapshot(p.ID))
}
