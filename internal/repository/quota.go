package repository

import (
	"context"
	"errors"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaRepository defines the monthly quota ledger.
type QuotaRepository interface {
	EnsureRow(ctx context.Context, tenantID uint, kind models.MediaKind, start, end time.Time, defaultLimit int) (*models.QuotaRow, error)
	Get(ctx context.Context, tenantID uint, kind models.MediaKind, start time.Time) (*models.QuotaRow, error)
	Increment(ctx context.Context, tenantID uint, kind models.MediaKind, start time.Time) error
	SetLimit(ctx context.Context, tenantID uint, kind models.MediaKind, start time.Time, limit int) error
	ListForPeriod(ctx context.Context, start time.Time, tenantID uint) ([]models.QuotaRow, error)
	ListNearLimit(ctx context.Context, start time.Time, ratio float64) ([]models.QuotaRow, error)
}

type quotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository returns a QuotaRepository backed by db.
func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &quotaRepository{db: db}
}

// EnsureRow creates the period row when absent and returns the stored row.
// Concurrent callers race on the unique key; the loser's insert is a no-op.
func (r *quotaRepository) EnsureRow(ctx context.Context, tenantID uint, kind models.MediaKind, start, end time.Time, defaultLimit int) (*models.QuotaRow, error) {
	row := models.QuotaRow{
		TenantID:    tenantID,
		MediaKind:   kind,
		PeriodStart: start.UTC(),
		PeriodEnd:   end.UTC(),
		Limit:       defaultLimit,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, err
	}
	stored, err := r.Get(ctx, tenantID, kind, start)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return stored, nil
}

// Get returns nil, nil when no row exists for the period.
func (r *quotaRepository) Get(ctx context.Context, tenantID uint, kind models.MediaKind, start time.Time) (*models.QuotaRow, error) {
	var row models.QuotaRow
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND media_kind = ? AND period_start = ?", tenantID, kind, start.UTC()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Increment consumes one unit of quota. The usage precondition makes
// concurrent increments at limit-1 admit exactly one winner; losers get
// ErrNoRowsAffected.
func (r *quotaRepository) Increment(ctx context.Context, tenantID uint, kind models.MediaKind, start time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.QuotaRow{}).
		Where("tenant_id = ? AND media_kind = ? AND period_start = ?", tenantID, kind, start.UTC()).
		Where("quota_limit = 0 OR usage < quota_limit").
		UpdateColumns(map[string]interface{}{
			"usage":      gorm.Expr("usage + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// SetLimit overrides the period limit. It returns ErrNoRowsAffected when the
// new limit is below current usage.
func (r *quotaRepository) SetLimit(ctx context.Context, tenantID uint, kind models.MediaKind, start time.Time, limit int) error {
	if limit < 0 {
		return errors.New("limit must be >= 0")
	}
	res := r.db.WithContext(ctx).Model(&models.QuotaRow{}).
		Where("tenant_id = ? AND media_kind = ? AND period_start = ?", tenantID, kind, start.UTC()).
		Where("? = 0 OR usage <= ?", limit, limit).
		UpdateColumns(map[string]interface{}{
			"quota_limit": limit,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// ListForPeriod lists rows for one period; tenantID 0 means every tenant.
func (r *quotaRepository) ListForPeriod(ctx context.Context, start time.Time, tenantID uint) ([]models.QuotaRow, error) {
	var rows []models.QuotaRow
	q := readDB(r.db).WithContext(ctx).Where("period_start = ?", start.UTC())
	if tenantID != 0 {
		q = q.Where("tenant_id = ?", tenantID)
	}
	err := q.Order("tenant_id ASC, media_kind ASC").Find(&rows).Error
	return rows, err
}

// ListNearLimit returns limited rows whose usage reached ratio of the limit.
func (r *quotaRepository) ListNearLimit(ctx context.Context, start time.Time, ratio float64) ([]models.QuotaRow, error) {
	var rows []models.QuotaRow
	err := readDB(r.db).WithContext(ctx).
		Where("period_start = ? AND quota_limit > 0", start.UTC()).
		Where("usage * 1.0 >= quota_limit * ?", ratio).
		Order("tenant_id ASC, media_kind ASC").
		Find(&rows).Error
	return rows, err
}
