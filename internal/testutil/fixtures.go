package testutil

import (
	"fmt"
	"testing"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// CreateTenant inserts an active tenant.
func CreateTenant(t testing.TB, db *gorm.DB, name string) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{Name: name, Active: true}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

// CreateUser inserts an active principal with the given role and tenant.
func CreateUser(t testing.TB, db *gorm.DB, role models.Role, tenantID *uint) *models.User {
	t.Helper()
	var n int64
	db.Model(&models.User{}).Count(&n)
	user := &models.User{
		FirstName: "Test",
		LastName:  fmt.Sprintf("User%d", n+1),
		Email:     fmt.Sprintf("user%d-%d@example.com", n+1, time.Now().UnixNano()),
		Password:  "x",
		Role:      role,
		TenantID:  tenantID,
		IsActive:  true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// Deactivate flips a default-true boolean off. GORM skips zero values on
// insert, so it has to be a separate update.
func Deactivate(t testing.TB, db *gorm.DB, model interface{}, column string) {
	t.Helper()
	if err := db.Model(model).Update(column, false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
