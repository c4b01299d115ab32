package server

import (
	"context"
	"strings"
	"time"
	"unicode"

	"chapterhub/internal/models"
	"chapterhub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize    = 25
	maxPaginationLimit = 100
)

// parsePagination reads limit and offset. Out-of-range values fall back to
// defaultLimit and zero; limit is capped at maxPaginationLimit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	p := Pagination{
		Limit:  c.QueryInt("limit", defaultLimit),
		Offset: max(c.QueryInt("offset", 0), 0),
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	p.Limit = min(p.Limit, maxPaginationLimit)
	return p
}

// parseID reads a positive route parameter.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		return 0, models.NewValidationError("Invalid " + idLabel(param))
	}
	return uint(id), nil
}

// parseQueryID reads an optional positive id from the query string.
func parseQueryID(c *fiber.Ctx, key string) (uint, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	id := c.QueryInt(key, -1)
	if id <= 0 {
		return 0, models.NewValidationError("Invalid " + idLabel(key))
	}
	return uint(id), nil
}

// parseQueryTime reads an optional RFC 3339 timestamp from the query string.
func parseQueryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, models.NewValidationError(key + " must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// parseBody decodes the JSON request body into dest.
func parseBody(c *fiber.Ctx, dest any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dest); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// idLabel turns "id", "snapshotId" or "tenant_id" into "ID", "snapshot ID"
// and "tenant ID" for error messages.
func idLabel(param string) string {
	base, ok := strings.CutSuffix(param, "_id")
	if !ok {
		base, ok = strings.CutSuffix(param, "Id")
	}
	if !ok {
		if param == "id" {
			return "ID"
		}
		return param
	}
	var b strings.Builder
	for i, r := range base {
		switch {
		case r == '_':
			b.WriteByte(' ')
		case i > 0 && unicode.IsUpper(r):
			b.WriteByte(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String() + " ID"
}

// requestContext carries the caller's IP and user agent into audit rows.
func requestContext(c *fiber.Ctx) context.Context {
	return service.WithRequestMeta(c.UserContext(), c.IP(), c.Get(fiber.HeaderUserAgent))
}

// respond writes data with status, or the error envelope when err is set.
func respond(c *fiber.Ctx, status int, data any, err error) error {
	if err != nil {
		return models.RespondError(c, err)
	}
	return models.RespondOK(c, status, data)
}
