package bootstrap

import (
	"testing"

	"chapterhub/internal/config"
	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func devConfig() *config.Config {
	return &config.Config{
		Env:              "development",
		DevBootstrapRoot: true,
		DevRootEmail:     "Root@Chapterhub.Local",
		DevRootPassword:  "Sturdy!Passw0rd",
		BcryptCost:       bcrypt.MinCost,
	}
}

func TestEnsureDevRootAdmin_CreatesRoot(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)

	require.NoError(t, EnsureDevRootAdmin(devConfig(), db))

	var root models.User
	require.NoError(t, db.First(&root, 1).Error)
	assert.Equal(t, models.RoleAdmin, root.Role)
	assert.Equal(t, "root@chapterhub.local", root.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(root.Password), []byte("Sturdy!Passw0rd")))

	// A second run leaves the row alone.
	require.NoError(t, EnsureDevRootAdmin(devConfig(), db))
	var n int64
	require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestEnsureDevRootAdmin_PromotesExistingUser(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	existing := testutil.CreateUser(t, db, models.RoleMember, nil)
	require.EqualValues(t, 1, existing.ID)

	require.NoError(t, EnsureDevRootAdmin(devConfig(), db))

	var root models.User
	require.NoError(t, db.First(&root, 1).Error)
	assert.Equal(t, models.RoleAdmin, root.Role)
	assert.Equal(t, existing.Email, root.Email)
}

func TestEnsureDevRootAdmin_Skips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"production", func(c *config.Config) { c.Env = "production" }},
		{"disabled", func(c *config.Config) { c.DevBootstrapRoot = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewTestDB(t)
			cfg := devConfig()
			tt.mutate(cfg)
			require.NoError(t, EnsureDevRootAdmin(cfg, db))

			var n int64
			require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
			assert.Zero(t, n)
		})
	}
}

func TestEnsureDevRootAdmin_RequiresPassword(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t)
	cfg := devConfig()
	cfg.DevRootPassword = ""

	assert.Error(t, EnsureDevRootAdmin(cfg, db))
}
