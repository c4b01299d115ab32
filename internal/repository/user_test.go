package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestUserRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	tests := []struct {
		name          string
		userID        uint
		mockBehavior  func()
		expectedEmail string
		expectedCode  string
	}{
		{
			name:   "Success",
			userID: 1,
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "email", "role"}).
					AddRow(1, "test@example.com", "admin")
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1 ORDER BY "users"."id" LIMIT $2`)).
					WithArgs(1, 1).
					WillReturnRows(rows)
			},
			expectedEmail: "test@example.com",
		},
		{
			name:   "Not Found",
			userID: 99,
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1 ORDER BY "users"."id" LIMIT $2`)).
					WithArgs(99, 1).
					WillReturnError(gorm.ErrRecordNotFound)
			},
			expectedCode: models.CodeNotFound,
		},
		{
			name:   "Database Error",
			userID: 2,
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1`)).
					WithArgs(2, 1).
					WillReturnError(errors.New("connection timeout"))
			},
			expectedCode: models.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			user, err := repo.GetByID(ctx, tt.userID)

			if tt.expectedCode != "" {
				assert.True(t, models.IsCode(err, tt.expectedCode), "got %v", err)
				assert.Nil(t, user)
			} else if assert.NotNil(t, user) {
				assert.Equal(t, tt.expectedEmail, user.Email)
				assert.True(t, user.IsAdmin())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("Normalises and finds", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "email"}).AddRow(1, "test@example.com")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE email = $1 ORDER BY "users"."id" LIMIT $2`)).
			WithArgs("test@example.com", 1).
			WillReturnRows(rows)

		user, err := repo.GetByEmail(ctx, "  Test@Example.com ")
		assert.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, uint(1), user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE email = $1`)).
			WithArgs("ghost@example.com", 1).
			WillReturnError(gorm.ErrRecordNotFound)

		user, err := repo.GetByEmail(ctx, "ghost@example.com")
		assert.NoError(t, err)
		assert.Nil(t, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		err := repo.Create(ctx, &models.User{FirstName: "A", LastName: "B", Email: "new@example.com"})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate email is a conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users"`)).
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
		mock.ExpectRollback()

		err := repo.Create(ctx, &models.User{FirstName: "A", LastName: "B", Email: "dup@example.com"})
		assert.True(t, models.IsCode(err, models.CodeConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_ListAndUpdate(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	tenant := testutil.CreateTenant(t, db, "Lagos Chapter")
	admin := testutil.CreateUser(t, db, models.RoleAdmin, nil)
	inst := testutil.CreateUser(t, db, models.RoleInstructor, &tenant.ID)
	member := testutil.CreateUser(t, db, models.RoleMember, &tenant.ID)
	testutil.Deactivate(t, db, member, "is_active")

	users, total, err := repo.List(ctx, UserFilter{TenantID: &tenant.ID}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, users, 2)

	active := true
	users, total, err = repo.List(ctx, UserFilter{TenantID: &tenant.ID, Active: &active}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, inst.ID, users[0].ID)

	admins, err := repo.ListActiveAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, admin.ID, admins[0].ID)

	require.NoError(t, repo.UpdateFields(ctx, inst.ID, map[string]interface{}{"role": models.RoleAdmin}))
	got, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)

	err = repo.UpdateFields(ctx, 9999, map[string]interface{}{"role": models.RoleAdmin})
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}
