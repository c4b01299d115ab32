package server

import (
	"context"
	"strings"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"
	"chapterhub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UnbanResponse reports whether an unban lifted anything.
type UnbanResponse struct {
	Lifted bool        `json:"lifted"`
	Ban    *models.Ban `json:"ban,omitempty"`
}

// ListBans handles GET /api/admin/bans?target_type=&target_id=&active=.
func (s *Server) ListBans(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)

	var filter repository.BanFilter
	switch target := models.BanTarget(strings.ToLower(c.Query("target_type"))); target {
	case "", models.BanTargetUser, models.BanTargetPost:
		filter.TargetType = target
	default:
		return models.RespondError(c, models.NewValidationError("target_type must be user or post"))
	}
	var err error
	if filter.TargetID, err = parseQueryID(c, "target_id"); err != nil {
		return models.RespondError(c, err)
	}
	filter.ActiveOnly = c.QueryBool("active", false)

	result, err := s.bans.List(c.UserContext(), principal(c), filter, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// BanUser handles POST /api/admin/bans/user/:id.
func (s *Server) BanUser(c *fiber.Ctx) error {
	return s.createBan(c, s.bans.BanUser)
}

// BanPost handles POST /api/admin/bans/post/:id.
func (s *Server) BanPost(c *fiber.Ctx) error {
	return s.createBan(c, s.bans.BanPost)
}

// UnbanUser handles DELETE /api/admin/bans/user/:id.
func (s *Server) UnbanUser(c *fiber.Ctx) error {
	return s.liftBan(c, models.BanTargetUser)
}

// UnbanPost handles DELETE /api/admin/bans/post/:id.
func (s *Server) UnbanPost(c *fiber.Ctx) error {
	return s.liftBan(c, models.BanTargetPost)
}

type banFunc func(ctx context.Context, p *authz.Principal, id uint, in service.BanInput) (*models.Ban, error)

func (s *Server) createBan(c *fiber.Ctx, ban banFunc) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req service.BanInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	created, err := ban(requestContext(c), principal(c), id, req)
	return respond(c, fiber.StatusCreated, created, err)
}

func (s *Server) liftBan(c *fiber.Ctx, target models.BanTarget) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	ban, lifted, err := s.bans.Unban(requestContext(c), principal(c), target, id)
	if err != nil {
		return models.RespondError(c, err)
	}
	return models.RespondOK(c, fiber.StatusOK, UnbanResponse{Lifted: lifted, Ban: ban})
}
