package service

import (
	"context"
	"log/slog"

	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRecord describes one privileged action.
type AuditRecord struct {
	ActorID    uint
	Action     string
	TargetType string
	TargetID   uint
	Detail     string
	Before     any
	After      any
}

// AuditService appends to the audit log. Writes never fail the caller.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService returns an AuditService writing through db.
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

func (s *AuditService) entry(ctx context.Context, rec AuditRecord) *models.AuditEntry {
	meta := requestMetaFrom(ctx)
	return &models.AuditEntry{
		InvocationID: uuid.NewString(),
		ActorID:      rec.ActorID,
		ActionType:   rec.Action,
		TargetType:   rec.TargetType,
		TargetID:     rec.TargetID,
		Detail:       rec.Detail,
		Before:       toJSON(rec.Before),
		After:        toJSON(rec.After),
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}
}

// Log appends an entry outside any transaction.
func (s *AuditService) Log(ctx context.Context, rec AuditRecord) {
	if err := repository.NewAuditRepository(s.db).Create(ctx, s.entry(ctx, rec)); err != nil {
		softFailure(ctx, "audit", err)
	}
}

// LogTx appends an entry inside tx behind a savepoint.
func (s *AuditService) LogTx(ctx context.Context, tx *gorm.DB, rec AuditRecord) {
	entry := s.entry(ctx, rec)
	softWrite(ctx, tx, "audit", func(tx *gorm.DB) error {
		return repository.NewAuditRepository(tx).Create(ctx, entry)
	})
}

// AuditPage is one page of audit results.
type AuditPage struct {
	Entries []models.AuditEntry `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query lists entries newest first. A missing audit table reads as empty.
func (s *AuditService) Query(ctx context.Context, filter repository.AuditFilter, limit, offset int) (*AuditPage, error) {
	entries, total, err := repository.NewAuditRepository(s.db).Query(ctx, filter, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "audit table missing, returning empty page")
			return &AuditPage{Entries: []models.AuditEntry{}, Limit: limit, Offset: offset}, nil
		}
		return nil, models.NewInternalError(err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return &AuditPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}
