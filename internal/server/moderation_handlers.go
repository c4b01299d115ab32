package server

import (
	"strings"

	"chapterhub/internal/models"
	"chapterhub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ReportRequest is the body of POST /api/flags.
type ReportRequest struct {
	ContentType string `json:"content_type"`
	ContentID   uint   `json:"content_id"`
	Reason      string `json:"reason"`
}

// FlagReviewRequest is the body of POST /api/admin/flags/:id/review.
type FlagReviewRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

// ItemReviewRequest is the body of POST /api/admin/ai-moderation/:id.
type ItemReviewRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

// ResolveRequest is the body of POST /api/admin/escalations/:id/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// ReportContent handles POST /api/flags.
func (s *Server) ReportContent(c *fiber.Ctx) error {
	var req ReportRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	contentType, ok := models.ParseContentType(strings.ToLower(strings.TrimSpace(req.ContentType)))
	if !ok || req.ContentID == 0 {
		return models.RespondError(c, models.NewValidationError("content_type and content_id are required"))
	}
	flag, err := s.moderation.ReportContent(c.UserContext(), principal(c), contentType, req.ContentID, req.Reason)
	return respond(c, fiber.StatusCreated, flag, err)
}

// ListFlags handles GET /api/admin/flags?status=.
func (s *Server) ListFlags(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)
	status := models.FlagStatus(strings.ToLower(c.Query("status", string(models.FlagPending))))
	switch status {
	case models.FlagPending, models.FlagDismissed, models.FlagActionTaken:
	default:
		return models.RespondError(c, models.NewValidationError("status must be one of pending, dismissed, action_taken"))
	}
	result, err := s.moderation.ListFlags(c.UserContext(), principal(c), status, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// ReviewFlag handles POST /api/admin/flags/:id/review.
func (s *Server) ReviewFlag(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req FlagReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	action, err := service.ParseFlagAction(req.Action, req.Notes)
	if err != nil {
		return models.RespondError(c, err)
	}
	flag, err := s.moderation.ReviewFlag(requestContext(c), principal(c), id, action, req.Notes)
	return respond(c, fiber.StatusOK, flag, err)
}

// ListModeratedItems handles GET /api/admin/ai-moderation?status=.
func (s *Server) ListModeratedItems(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)
	status := models.ModerationStatus(strings.ToLower(c.Query("status", string(models.ModerationPending))))
	switch status {
	case models.ModerationPending, models.ModerationApproved, models.ModerationRejected, models.ModerationEscalated:
	default:
		return models.RespondError(c, models.NewValidationError("status must be one of pending, approved, rejected, escalated"))
	}
	result, err := s.moderation.ListModeratedItems(c.UserContext(), principal(c), status, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// ReviewModeratedItem handles POST /api/admin/ai-moderation/:id.
func (s *Server) ReviewModeratedItem(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req ItemReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	result, err := s.moderation.ReviewModeratedItem(requestContext(c), principal(c), id, action, req.Notes)
	return respond(c, fiber.StatusOK, result, err)
}

// ListEscalations handles GET /api/admin/escalations?status=.
func (s *Server) ListEscalations(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)
	status := models.EscalationStatus(strings.ToLower(c.Query("status", string(models.EscalationPending))))
	switch status {
	case models.EscalationPending, models.EscalationResolved:
	default:
		return models.RespondError(c, models.NewValidationError("status must be one of pending, resolved"))
	}
	result, err := s.moderation.ListEscalations(c.UserContext(), principal(c), status, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// ResolveEscalation handles POST /api/admin/escalations/:id/resolve.
func (s *Server) ResolveEscalation(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	esc, err := s.moderation.ResolveEscalation(requestContext(c), principal(c), id, req.Resolution)
	return respond(c, fiber.StatusOK, esc, err)
}
