package server

import (
	"errors"
	"io"
	"mime/multipart"
	"strings"

	"chapterhub/internal/models"
	"chapterhub/internal/repository"
	"chapterhub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RejectRequest is the body of POST /api/admin/content/:id/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

var errNoFile = errors.New("no file")

// SubmitUpload handles POST /api/admin/content (multipart/form-data).
// Form fields: file, title, description, tags (comma separated or repeated),
// category, tenant.
func (s *Server) SubmitUpload(c *fiber.Ctx) error {
	body, contentType, err := readFormFile(c, "file")
	if err != nil && !errors.Is(err, errNoFile) {
		return models.RespondError(c, err)
	}

	in := service.SubmitUploadInput{
		Tenant:      c.FormValue("tenant"),
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Tags:        formTags(c),
		Category:    c.FormValue("category"),
		ContentType: contentType,
		Body:        body,
	}
	upload, err := s.uploads.Submit(requestContext(c), principal(c), in)
	return respond(c, fiber.StatusCreated, upload, err)
}

// RetryUpload handles POST /api/admin/content/:id/retry. A replacement file is optional.
func (s *Server) RetryUpload(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}

	var in *service.RetryUploadInput
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		body, contentType, err := readFormFile(c, "file")
		switch {
		case errors.Is(err, errNoFile):
		case err != nil:
			return models.RespondError(c, err)
		default:
			in = &service.RetryUploadInput{ContentType: contentType, Body: body}
		}
	}

	upload, err := s.uploads.Retry(requestContext(c), principal(c), id, in)
	return respond(c, fiber.StatusOK, upload, err)
}

// GetUpload handles GET /api/admin/content/:id.
func (s *Server) GetUpload(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	upload, err := s.uploads.Get(c.UserContext(), principal(c), id)
	return respond(c, fiber.StatusOK, upload, err)
}

// ListUploads handles GET /api/admin/content?status=&tenant_id=&owner_id=.
func (s *Server) ListUploads(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)

	var filter repository.UploadFilter
	switch status := models.UploadStatus(strings.ToLower(c.Query("status"))); status {
	case "", models.UploadPending, models.UploadApproved, models.UploadRejected, models.UploadFailed:
		filter.Status = status
	default:
		return models.RespondError(c, models.NewValidationError("status must be one of pending, approved, rejected, failed"))
	}
	var err error
	if filter.TenantID, err = parseQueryID(c, "tenant_id"); err != nil {
		return models.RespondError(c, err)
	}
	if filter.OwnerID, err = parseQueryID(c, "owner_id"); err != nil {
		return models.RespondError(c, err)
	}

	result, err := s.uploads.List(c.UserContext(), principal(c), filter, page.Limit, page.Offset)
	return respond(c, fiber.StatusOK, result, err)
}

// ApproveUpload handles POST /api/admin/content/:id/approve.
func (s *Server) ApproveUpload(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	upload, err := s.moderation.ApproveUpload(requestContext(c), principal(c), id)
	return respond(c, fiber.StatusOK, upload, err)
}

// RejectUpload handles POST /api/admin/content/:id/reject.
func (s *Server) RejectUpload(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var req RejectRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondError(c, err)
	}
	upload, err := s.moderation.RejectUpload(requestContext(c), principal(c), id, req.Reason)
	return respond(c, fiber.StatusOK, upload, err)
}

// EditContent handles PATCH /api/admin/content/:type/:id for uploads, forum
// posts and resources.
func (s *Server) EditContent(c *fiber.Ctx) error {
	contentType, ok := models.ParseContentType(c.Params("type"))
	if !ok {
		return models.RespondError(c, models.NewValidationError("type must be one of upload, forum_post, resource"))
	}
	id, err := parseID(c, "id")
	if err != nil {
		return models.RespondError(c, err)
	}
	var patch service.ContentPatch
	if err := c.BodyParser(&patch); err != nil {
		return models.RespondError(c, models.NewValidationError("Invalid request body"))
	}
	updated, err := s.content.EditContent(requestContext(c), principal(c), contentType, id, patch)
	return respond(c, fiber.StatusOK, updated, err)
}

// readFormFile reads the named multipart file fully. The body limit bounds its size.
func readFormFile(c *fiber.Ctx, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, fiber.ErrUnprocessableEntity) || errors.Is(err, multipart.ErrMessageTooLarge) {
			return nil, "", models.NewValidationError("invalid multipart body")
		}
		return nil, "", errNoFile
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", models.NewInternalError(err)
	}
	defer func() { _ = f.Close() }()

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, "", models.NewInternalError(err)
	}
	return body, fh.Header.Get(fiber.HeaderContentType), nil
}

func formTags(c *fiber.Ctx) []string {
	var raw []string
	if form, err := c.MultipartForm(); err == nil {
		raw = form.Value["tags"]
	}
	var tags []string
	for _, v := range raw {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}
