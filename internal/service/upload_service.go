package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"chapterhub/internal/authz"
	"chapterhub/internal/featureflags"
	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"
	"chapterhub/internal/storage"

	"gorm.io/gorm"
)

const DefaultUploadMaxSizeMB = 100

// SubmitUploadInput is the validated payload of a content upload.
type SubmitUploadInput struct {
	Tenant      string   `validate:"max=160"`
	Title       string   `validate:"required,min=1,max=200"`
	Description string   `validate:"max=2000"`
	Tags        []string `validate:"max=20,dive,max=50"`
	Category    string   `validate:"max=100"`
	ContentType string
	Body        []byte
}

// RetryUploadInput optionally replaces the body of a failed upload.
type RetryUploadInput struct {
	ContentType string
	Body        []byte
}

// UploadDeps wires an UploadService.
type UploadDeps struct {
	DB        *gorm.DB
	Blobs     storage.BlobStore
	Tenants   *TenantResolver
	Quota     *QuotaService
	Audit     *AuditService
	Outbox    *OutboxService
	Flags     *featureflags.Manager
	MaxSizeMB int
}

// UploadService is content intake: validation, quota, blob write and the
// transactional insert.
type UploadService struct {
	db       *gorm.DB
	blobs    storage.BlobStore
	tenants  *TenantResolver
	quota    *QuotaService
	audit    *AuditService
	outbox   *OutboxService
	flags    *featureflags.Manager
	maxBytes int64
	Clock    Clock
}

// NewUploadService builds an UploadService from deps.
func NewUploadService(deps UploadDeps) *UploadService {
	maxMB := deps.MaxSizeMB
	if maxMB <= 0 {
		maxMB = DefaultUploadMaxSizeMB
	}
	return &UploadService{
		db:       deps.DB,
		blobs:    deps.Blobs,
		tenants:  deps.Tenants,
		quota:    deps.Quota,
		audit:    deps.Audit,
		outbox:   deps.Outbox,
		flags:    deps.Flags,
		maxBytes: int64(maxMB) * 1024 * 1024,
	}
}

// Submit ingests one upload on behalf of p.
func (s *UploadService) Submit(ctx context.Context, p *authz.Principal, in SubmitUploadInput) (*models.Upload, error) {
	ctx, span := observability.StartOperation(ctx, "uploads.submit", principalAttr(p))
	up, err := s.submit(ctx, p, in)
	if up != nil {
		span.SetAttributes(observability.TenantID(up.TenantID), observability.AttrUploadID.Int64(int64(up.ID)))
	}
	observability.EndOperation(span, err)
	return up, err
}

func (s *UploadService) submit(ctx context.Context, p *authz.Principal, in SubmitUploadInput) (*models.Upload, error) {
	if err := authz.Check(p, authz.ActionSubmitUpload, authz.Target{}); err != nil {
		return nil, err
	}

	in.Title = strings.TrimSpace(in.Title)
	in.Tenant = strings.TrimSpace(in.Tenant)
	in.Tags = normalizeTags(in.Tags)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.checkBody(in.Body); err != nil {
		return nil, err
	}
	mimeType, kind := detectMedia(in.ContentType, in.Body)

	tenantRef := in.Tenant
	if tenantRef == "" {
		if p.TenantID == nil {
			return nil, models.NewValidationError("tenant is required")
		}
		tenantRef = strconv.FormatUint(uint64(*p.TenantID), 10)
	}
	tenant, err := s.tenants.Resolve(ctx, tenantRef)
	if err != nil {
		return nil, err
	}
	if err := authz.Check(p, authz.ActionSubmitUpload, authz.Target{TenantID: &tenant.ID}); err != nil {
		return nil, err
	}

	quota, err := s.quota.Check(ctx, tenant.ID, kind)
	if err != nil {
		return nil, err
	}
	if quota.Exhausted() {
		observability.QuotaRejections.WithLabelValues(string(kind), "check").Inc()
		return nil, models.NewQuotaExceededError(string(kind), quota.Limit)
	}

	obj, err := s.blobs.Put(ctx, bytes.NewReader(in.Body), mimeType)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("store blob: %w", err))
	}

	now := s.Clock.now()
	upload := &models.Upload{
		OwnerID:     p.ID,
		TenantID:    tenant.ID,
		MediaKind:   kind,
		MimeType:    mimeType,
		SizeBytes:   obj.Size,
		BlobHandle:  obj.Handle,
		Title:       in.Title,
		Description: in.Description,
		Tags:        toJSON(in.Tags),
		Category:    strings.TrimSpace(in.Category),
		Status:      models.UploadPending,
	}
	if p.IsAdmin() && s.flags.Enabled(featureflags.AdminSelfPublish, p.ID) {
		upload.Status = models.UploadApproved
		upload.ReviewerID = &p.ID
		upload.ReviewedAt = &now
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewUploadRepository(tx).Create(ctx, upload); err != nil {
			return err
		}
		if err := s.quota.Increment(ctx, tx, tenant.ID, kind); err != nil {
			return err
		}
		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditContentUpload,
			TargetType: string(models.ContentUpload),
			TargetID:   upload.ID,
			Detail:     fmt.Sprintf("%s upload to tenant %d", kind, tenant.ID),
			After:      upload,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxUpload,
			EventType: "upload.created",
			SubjectID: upload.OwnerID,
			Payload:   uploadEventPayload(upload),
		})
		return nil
	})
	if err != nil {
		s.discardBlob(ctx, obj.Handle)
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, models.NewInternalError(err)
	}

	observability.UploadsTotal.WithLabelValues(string(kind), string(upload.Status)).Inc()
	return upload, nil
}

// Retry returns a failed upload to pending, optionally with a new body.
// The quota ledger is not charged again.
func (s *UploadService) Retry(ctx context.Context, p *authz.Principal, id uint, in *RetryUploadInput) (*models.Upload, error) {
	if err := authz.Check(p, authz.ActionRetryUpload, authz.Target{}); err != nil {
		return nil, err
	}

	repo := repository.NewUploadRepository(s.db)
	current, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	if current.Status != models.UploadFailed {
		return nil, models.NewConflictError(fmt.Sprintf("upload %d is %s; only failed uploads can be retried", id, current.Status))
	}

	var blob *repository.UploadBlob
	if in != nil && len(in.Body) > 0 {
		if err := s.checkBody(in.Body); err != nil {
			return nil, err
		}
		mimeType, kind := detectMedia(in.ContentType, in.Body)
		if kind != current.MediaKind {
			return nil, models.NewValidationError(fmt.Sprintf("replacement must be %s content", current.MediaKind))
		}
		obj, err := s.blobs.Put(ctx, bytes.NewReader(in.Body), mimeType)
		if err != nil {
			return nil, models.NewInternalError(fmt.Errorf("store blob: %w", err))
		}
		blob = &repository.UploadBlob{Handle: obj.Handle, MimeType: mimeType, SizeBytes: obj.Size, MediaKind: kind}
	}

	var updated *models.Upload
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := repository.NewUploadRepository(tx)
		if err := txRepo.Retry(ctx, id, blob); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return models.NewAlreadyProcessedError("Upload", id)
			}
			return err
		}
		after, err := txRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		updated = after
		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditContentRetry,
			TargetType: string(models.ContentUpload),
			TargetID:   id,
			Before:     current,
			After:      after,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxUpload,
			EventType: "upload.retried",
			SubjectID: after.OwnerID,
			Payload:   uploadEventPayload(after),
		})
		return nil
	})
	if err != nil {
		if blob != nil {
			s.discardBlob(ctx, blob.Handle)
		}
		return nil, wrapRepoErr(err)
	}
	return updated, nil
}

// Get returns one upload. Non-admins only see their own.
func (s *UploadService) Get(ctx context.Context, p *authz.Principal, id uint) (*models.Upload, error) {
	if err := authz.Check(p, authz.ActionReadOwn, authz.Target{}); err != nil {
		return nil, err
	}
	upload, err := repository.NewUploadRepository(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	if err := authz.Check(p, authz.ActionReadOwn, authz.Target{OwnerID: upload.OwnerID}); err != nil {
		return nil, err
	}
	return upload, nil
}

// UploadPage is one page of uploads.
type UploadPage struct {
	Uploads []models.Upload `json:"uploads"`
	Total   int64           `json:"total"`
}

// List returns uploads filtered by status. A missing table reads as empty.
func (s *UploadService) List(ctx context.Context, p *authz.Principal, filter repository.UploadFilter, limit, offset int) (*UploadPage, error) {
	if err := authz.Check(p, authz.ActionReviewUpload, authz.Target{}); err != nil {
		return nil, err
	}
	uploads, total, err := repository.NewUploadRepository(s.db).List(ctx, filter, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "uploads table missing, returning empty page")
			return &UploadPage{Uploads: []models.Upload{}}, nil
		}
		return nil, models.NewInternalError(err)
	}
	if uploads == nil {
		uploads = []models.Upload{}
	}
	return &UploadPage{Uploads: uploads, Total: total}, nil
}

func (s *UploadService) checkBody(body []byte) error {
	if len(body) == 0 {
		return models.NewValidationError("file is required")
	}
	if int64(len(body)) > s.maxBytes {
		return models.NewValidationError(fmt.Sprintf("file too large (max %dMB)", s.maxBytes/(1024*1024)))
	}
	return nil
}

func (s *UploadService) discardBlob(ctx context.Context, handle string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), handle); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "failed to discard orphaned blob",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, tag)
	}
	return out
}

// detectMedia picks the stored MIME type and media kind. Generic or missing
// declared types are replaced by content sniffing.
func detectMedia(declared string, body []byte) (string, models.MediaKind) {
	mimeType := normalizeContentType(declared)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeContentType(http.DetectContentType(body))
	}
	return mimeType, mediaKindFor(mimeType)
}

func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(parsed)
	}
	return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
}

func isDocumentType(mimeType string) bool {
	switch mimeType {
	case "application/pdf",
		"application/msword",
		"application/rtf",
		"application/epub+zip",
		"application/vnd.ms-excel",
		"application/vnd.ms-powerpoint",
		"application/vnd.oasis.opendocument.text",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	}
	return false
}

func mediaKindFor(mimeType string) models.MediaKind {
	major, _, _ := strings.Cut(mimeType, "/")
	switch {
	case major == "video":
		return models.MediaVideo
	case major == "image":
		return models.MediaImage
	case major == "text" || isDocumentType(mimeType):
		return models.MediaDocument
	default:
		return models.MediaOther
	}
}

func uploadEventPayload(u *models.Upload) map[string]any {
	return map[string]any{
		"upload_id":  u.ID,
		"tenant_id":  u.TenantID,
		"media_kind": u.MediaKind,
		"status":     u.Status,
		"title":      u.Title,
	}
}

// wrapRepoErr passes AppErrors through and hides everything else behind an
// internal error.
func wrapRepoErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}
