package server

import (
	"strings"

	"chapterhub/internal/models"
	"chapterhub/internal/repository"
	"chapterhub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RoleRequest is the body of PATCH /api/admin/users/:id/role.
type RoleRequest struct {
	Role string `json:"role"`
}

// StatusRequest is the body of PATCH /api/admin/users/:id/status.
type StatusRequest struct {
	Active *bool `json:"active"`
}

// CreateUser handles POST /api/admin/users.
func (s *Server) CreateUser(c *fiber.Ctx) error {
	var req service.CreateUserInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	user, err := s.users.Create(requestContext(c), principal(c), req)
	return respond(c, fiber.StatusCreated, user, err)
}

// ListUsers handles GET /api/admin/users?role=&tenant_id=&active=&q=.
func (s *Server) ListUsers(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)

	var filter repository.UserFilter
	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		role, ok := models.ParseRole(strings.ToLower(raw))
		if !ok {
			return models.RespondError(c, models.NewValidationError("role must be one of member, instructor, admin"))
		}
		filter.Role = role
	}
	tenantID, err := parseQueryID(c, "tenant_id")
	if err != nil {
		return models.RespondError(c, err)
	}
	if tenantID != 0 {
		filter.TenantID = &tenantID
	}
	switch strings.ToLower(c.Query("active")) {
	case "":
	case "true", "1":
		active := true
		filter.Active = &active
	case "false", "0":
		active := false
		filter.Active = &active
	default:
		return models.RespondError(c, models.NewValidationError("active must be true or false"))
	}
	filter.Search = strings.TrimSpace(c.Query("q"))

	result, err := s.users.List(c.UserContext(), principal(c), filter, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// UpdateUser handles PATCH /api/admin/users/:id.
func (s *Server) UpdateUser(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req service.UpdateUserInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	user, err := s.users.Update(requestContext(c), principal(c), id, req)
	return respond(c, fiber.StatusOK, user, err)
}

// ChangeUserRole handles PATCH /api/admin/users/:id/role.
func (s *Server) ChangeUserRole(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req RoleRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	user, err := s.users.ChangeRole(requestContext(c), principal(c), id, req.Role)
	return respond(c, fiber.StatusOK, user, err)
}

// SetUserStatus handles PATCH /api/admin/users/:id/status.
func (s *Server) SetUserStatus(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req StatusRequest
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return models.RespondError(c, models.NewValidationError("active is required"))
	}
	user, err := s.users.SetStatus(requestContext(c), principal(c), id, *req.Active)
	return respond(c, fiber.StatusOK, user, err)
}
