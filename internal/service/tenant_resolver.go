package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"chapterhub/internal/cache"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var errTenantUnresolved = errors.New("tenant unresolved")

// TenantResolver maps a caller-supplied tenant reference onto an active tenant.
// Resolution order: numeric id, exact name, case-insensitive name, alias.
type TenantResolver struct {
	repo    repository.TenantRepository
	aliases map[string]string
	rdb     *redis.Client
}

// NewTenantResolver builds a resolver. aliases maps lower-cased alias to
// canonical tenant name; rdb may be nil.
func NewTenantResolver(db *gorm.DB, aliases map[string]string, rdb *redis.Client) *TenantResolver {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &TenantResolver{repo: repository.NewTenantRepository(db), aliases: aliases, rdb: rdb}
}

// Resolve returns the tenant for ref or a validation error.
func (r *TenantResolver) Resolve(ctx context.Context, ref string) (*models.Tenant, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, models.NewValidationError("tenant is required")
	}

	// Keyed on the exact reference: exact-name matches are case-sensitive.
	var tenant models.Tenant
	err := cache.CacheAside(ctx, r.rdb, cache.TenantKey(ref), &tenant, cache.TenantTTL, func() error {
		found, err := r.lookup(ctx, ref)
		if err != nil {
			return err
		}
		tenant = *found
		return nil
	})
	if err != nil {
		if errors.Is(err, errTenantUnresolved) {
			return nil, models.NewValidationError("unknown tenant: " + ref)
		}
		return nil, models.NewInternalError(err)
	}
	return &tenant, nil
}

func (r *TenantResolver) lookup(ctx context.Context, ref string) (*models.Tenant, error) {
	steps := []func() (*models.Tenant, error){
		func() (*models.Tenant, error) {
			id, err := strconv.ParseUint(ref, 10, 64)
			if err != nil || id == 0 {
				return nil, nil
			}
			return r.repo.GetByID(ctx, uint(id))
		},
		func() (*models.Tenant, error) { return r.repo.FindByName(ctx, ref) },
		func() (*models.Tenant, error) { return r.repo.FindByNameFold(ctx, ref) },
		func() (*models.Tenant, error) {
			if canonical, ok := r.aliases[strings.ToLower(ref)]; ok {
				return r.repo.FindByNameFold(ctx, canonical)
			}
			return nil, nil
		},
		func() (*models.Tenant, error) { return r.repo.FindByAlias(ctx, ref) },
	}
	for _, step := range steps {
		tenant, err := step()
		if err != nil {
			return nil, err
		}
		if tenant != nil && tenant.Active {
			return tenant, nil
		}
	}
	return nil, errTenantUnresolved
}

// Invalidate drops a cached resolution.
func (r *TenantResolver) Invalidate(ctx context.Context, ref string) {
	cache.Invalidate(ctx, r.rdb, cache.TenantKey(strings.TrimSpace(ref)))
}
