package server

import (
	"strings"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"

	"github.com/gofiber/fiber/v2"
)

// QuotaLimitRequest is the body of PUT /api/admin/quotas.
type QuotaLimitRequest struct {
	Tenant    string `json:"tenant"`
	MediaKind string `json:"media_kind"`
	Limit     *int   `json:"limit"`
}

// ListQuotas handles GET /api/admin/quotas?tenant=. Instructors read their
// own tenant; admins read any tenant or, without a tenant, every stored row.
func (s *Server) ListQuotas(c *fiber.Ctx) error {
	p := principal(c)
	ctx := c.UserContext()

	var tenantID uint
	if ref := strings.TrimSpace(c.Query("tenant")); ref != "" {
		tenant, err := s.tenants.Resolve(ctx, ref)
		if err != nil {
			return models.RespondError(c, err)
		}
		tenantID = tenant.ID
	} else if !p.IsAdmin() && p.TenantID != nil {
		tenantID = *p.TenantID
	}

	target := authz.Target{}
	if tenantID != 0 {
		target.TenantID = &tenantID
	}
	action := authz.ActionReadTenant
	if tenantID == 0 {
		action = authz.ActionManageQuota
	}
	if err := authz.Check(p, action, target); err != nil {
		return models.RespondError(c, err)
	}

	rows, err := s.quota.List(ctx, tenantID)
	return respond(c, fiber.StatusOK, rows, err)
}

// SetQuotaLimit handles PUT /api/admin/quotas.
func (s *Server) SetQuotaLimit(c *fiber.Ctx) error {
	p := principal(c)
	if err := authz.Check(p, authz.ActionManageQuota, authz.Target{}); err != nil {
		return models.RespondError(c, err)
	}

	var req QuotaLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	if req.Limit == nil {
		return models.RespondError(c, models.NewValidationError("limit is required"))
	}
	kind, ok := parseMediaKind(req.MediaKind)
	if !ok {
		return models.RespondError(c, models.NewValidationError("media_kind must be one of video, document, image, other"))
	}
	if strings.TrimSpace(req.Tenant) == "" {
		return models.RespondError(c, models.NewValidationError("tenant is required"))
	}

	ctx := requestContext(c)
	tenant, err := s.tenants.Resolve(ctx, req.Tenant)
	if err != nil {
		return models.RespondError(c, err)
	}
	status, err := s.quota.SetLimit(ctx, p.ID, tenant.ID, kind, *req.Limit)
	return respond(c, fiber.StatusOK, status, err)
}

func parseMediaKind(raw string) (models.MediaKind, bool) {
	kind := models.MediaKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, k := range models.MediaKinds {
		if k == kind {
			return kind, true
		}
	}
	return "", false
}
