package seed

import (
	"fmt"
	"strings"

	"chapterhub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BuiltInTenant is a permanent chapter and the alternate spellings that resolve to it.
type BuiltInTenant struct {
	Name    string
	Aliases []string
}

// BuiltInTenants defines the chapters every environment starts with.
var BuiltInTenants = []BuiltInTenant{
	{Name: "Addis Ababa Chapter", Aliases: []string{"addis", "addis ababa", "aa"}},
	{Name: "Toronto Chapter", Aliases: []string{"toronto", "yyz", "gta"}},
	{Name: "Lagos Chapter", Aliases: []string{"lagos"}},
	{Name: "Washington DC Chapter", Aliases: []string{"dc", "washington"}},
	{Name: "Online Chapter", Aliases: []string{"online", "remote"}},
}

// Tenants upserts the built-in chapters and their aliases. Running it twice is a no-op.
func Tenants(db *gorm.DB) ([]models.Tenant, error) {
	out := make([]models.Tenant, 0, len(BuiltInTenants))
	for _, item := range BuiltInTenants {
		var tenant models.Tenant
		err := db.Transaction(func(tx *gorm.DB) error {
			tenant = models.Tenant{Name: item.Name, Active: true}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"active", "updated_at"}),
			}).Create(&tenant).Error; err != nil {
				return err
			}

			// Some dialects leave the ID unset when the conflict branch runs.
			if err := tx.Where("name = ?", item.Name).First(&tenant).Error; err != nil {
				return err
			}

			for _, alias := range item.Aliases {
				row := models.TenantAlias{Alias: strings.ToLower(alias), TenantID: tenant.ID}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "alias"}},
					DoUpdates: clause.AssignmentColumns([]string{"tenant_id"}),
				}).Create(&row).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("seed built-in tenant %s: %w", item.Name, err)
		}
		out = append(out, tenant)
	}
	return out, nil
}
