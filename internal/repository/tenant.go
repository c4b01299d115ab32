package repository

import (
	"context"
	"errors"
	"strings"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// TenantRepository defines lookups over tenants and their aliases.
// Lookup methods return nil, nil when nothing matches.
type TenantRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Tenant, error)
	FindByName(ctx context.Context, name string) (*models.Tenant, error)
	FindByNameFold(ctx context.Context, name string) (*models.Tenant, error)
	FindByAlias(ctx context.Context, alias string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Create(ctx context.Context, tenant *models.Tenant) error
	CreateAlias(ctx context.Context, alias *models.TenantAlias) error
}

type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository returns a TenantRepository backed by db.
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) first(ctx context.Context, query string, args ...interface{}) (*models.Tenant, error) {
	var tenant models.Tenant
	err := readDB(r.db).WithContext(ctx).Where(query, args...).Order("id ASC").First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepository) GetByID(ctx context.Context, id uint) (*models.Tenant, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *tenantRepository) FindByName(ctx context.Context, name string) (*models.Tenant, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *tenantRepository) FindByNameFold(ctx context.Context, name string) (*models.Tenant, error) {
	return r.first(ctx, "LOWER(name) = ?", strings.ToLower(name))
}

func (r *tenantRepository) FindByAlias(ctx context.Context, alias string) (*models.Tenant, error) {
	var row models.TenantAlias
	err := readDB(r.db).WithContext(ctx).
		Where("LOWER(alias) = ?", strings.ToLower(alias)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.GetByID(ctx, row.TenantID)
}

func (r *tenantRepository) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := readDB(r.db).WithContext(ctx).Order("name ASC").Find(&tenants).Error
	return tenants, err
}

func (r *tenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		if IsUniqueViolation(err) {
			return models.NewConflictError("A tenant with this name already exists")
		}
		return err
	}
	return nil
}

func (r *tenantRepository) CreateAlias(ctx context.Context, alias *models.TenantAlias) error {
	if err := r.db.WithContext(ctx).Create(alias).Error; err != nil {
		if IsUniqueViolation(err) {
			return models.NewConflictError("Alias already in use")
		}
		return err
	}
	return nil
}
