package server

import (
	"strings"

	"chapterhub/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ApplyRequest is the body of POST /api/applications.
type ApplyRequest struct {
	Motivation string `json:"motivation"`
}

// ApplicationReviewRequest is the body of POST /api/admin/applications/:id/review.
type ApplicationReviewRequest struct {
	Approve *bool  `json:"approve"`
	Notes   string `json:"notes"`
}

// ApplyForInstructor handles POST /api/applications.
func (s *Server) ApplyForInstructor(c *fiber.Ctx) error {
	var req ApplyRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	app, err := s.apps.Apply(c.UserContext(), principal(c), req.Motivation)
	return respond(c, fiber.StatusCreated, app, err)
}

// ListApplications handles GET /api/admin/applications?status=.
func (s *Server) ListApplications(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)
	status := models.ApplicationStatus(strings.ToLower(c.Query("status", string(models.ApplicationPending))))
	switch status {
	case models.ApplicationPending, models.ApplicationApproved, models.ApplicationRejected:
	default:
		return models.RespondError(c, models.NewValidationError("status must be one of pending, approved, rejected"))
	}
	result, err := s.apps.List(c.UserContext(), principal(c), status, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// ReviewApplication handles POST /api/admin/applications/:id/review.
func (s *Server) ReviewApplication(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req ApplicationReviewRequest
	if err := c.BodyParser(&req); err != nil || req.Approve == nil {
		return models.RespondError(c, models.NewValidationError("approve is required"))
	}
	app, err := s.apps.Review(requestContext(c), principal(c), id, *req.Approve, req.Notes)
	return respond(c, fiber.StatusOK, app, err)
}
