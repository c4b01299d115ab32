package service

import (
	"context"
	"fmt"
	"strings"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"
	"chapterhub/internal/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultBcryptCost is used when no cost is configured.
const DefaultBcryptCost = 12

// CreateUserInput is the admin request to create a principal.
type CreateUserInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	Tenant    string `json:"tenant" validate:"max=160"`
	Role      string `json:"role" validate:"omitempty,oneof=member instructor admin"`
}

// UpdateUserInput is a partial profile edit. Nil fields are left unchanged.
type UpdateUserInput struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Email     *string `json:"email" validate:"omitempty,email,max=254"`
	Tenant    *string `json:"tenant" validate:"omitempty,max=160"`
}

// UserService manages principals on behalf of admins.
type UserService struct {
	db         *gorm.DB
	tenants    *TenantResolver
	audit      *AuditService
	outbox     *OutboxService
	bcryptCost int
}

// NewUserService returns a new UserService.
func NewUserService(db *gorm.DB, tenants *TenantResolver, audit *AuditService, outbox *OutboxService, bcryptCost int) *UserService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = DefaultBcryptCost
	}
	return &UserService{db: db, tenants: tenants, audit: audit, outbox: outbox, bcryptCost: bcryptCost}
}

// Create adds a principal. Duplicate emails are a conflict.
func (s *UserService) Create(ctx context.Context, p *authz.Principal, in CreateUserInput) (*models.User, error) {
	if err := authz.Check(p, authz.ActionManageUsers, authz.Target{}); err != nil {
		return nil, err
	}

	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Tenant = strings.TrimSpace(in.Tenant)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := validation.DefaultPolicy.Check(in.Password, in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	role := models.RoleMember
	if in.Role != "" {
		role, _ = models.ParseRole(in.Role)
	}

	var tenantID *uint
	if in.Tenant != "" {
		tenant, err := s.tenants.Resolve(ctx, in.Tenant)
		if err != nil {
			return nil, err
		}
		tenantID = &tenant.ID
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("hash password: %w", err))
	}

	user := &models.User{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Password:  string(hash),
		Role:      role,
		TenantID:  tenantID,
		IsActive:  true,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewUserRepository(tx).Create(ctx, user); err != nil {
			return err
		}
		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditUserCreate,
			TargetType: "user",
			TargetID:   user.ID,
			After:      user,
		})
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	return user, nil
}

// UserPage is one page of principals.
type UserPage struct {
	Users []models.User `json:"users"`
	Total int64         `json:"total"`
}

// List returns principals matching filter.
func (s *UserService) List(ctx context.Context, p *authz.Principal, filter repository.UserFilter, limit, offset int) (*UserPage, error) {
	if err := authz.Check(p, authz.ActionManageUsers, authz.Target{}); err != nil {
		return nil, err
	}
	users, total, err := repository.NewUserRepository(s.db).List(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return &UserPage{Users: users, Total: total}, nil
}

// Update edits profile fields of a principal.
func (s *UserService) Update(ctx context.Context, p *authz.Principal, id uint, in UpdateUserInput) (*models.User, error) {
	if err := authz.Check(p, authz.ActionManageUsers, authz.Target{}); err != nil {
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if in.FirstName != nil {
		fields["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		fields["last_name"] = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		fields["email"] = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Tenant != nil {
		ref := strings.TrimSpace(*in.Tenant)
		if ref == "" {
			fields["tenant_id"] = nil
		} else {
			tenant, err := s.tenants.Resolve(ctx, ref)
			if err != nil {
				return nil, err
			}
			fields["tenant_id"] = tenant.ID
		}
	}
	if len(fields) == 0 {
		return nil, models.NewValidationError("no fields to update")
	}
	return s.applyUpdate(ctx, p, id, models.AuditUserUpdate, fields)
}

// ChangeRole moves a principal to role. Admins cannot change their own role.
func (s *UserService) ChangeRole(ctx context.Context, p *authz.Principal, id uint, role string) (*models.User, error) {
	if err := authz.Check(p, authz.ActionChangeRole, authz.Target{UserID: id}); err != nil {
		return nil, err
	}
	parsed, ok := models.ParseRole(strings.ToLower(strings.TrimSpace(role)))
	if !ok {
		return nil, models.NewValidationError("role must be one of member, instructor, admin")
	}
	return s.applyUpdate(ctx, p, id, models.AuditUserRoleChange, map[string]interface{}{"role": parsed})
}

// SetStatus activates or deactivates a principal. Admins cannot deactivate themselves.
func (s *UserService) SetStatus(ctx context.Context, p *authz.Principal, id uint, active bool) (*models.User, error) {
	if err := authz.Check(p, authz.ActionSetStatus, authz.Target{UserID: id}); err != nil {
		return nil, err
	}
	return s.applyUpdate(ctx, p, id, models.AuditUserStatusChange, map[string]interface{}{"is_active": active})
}

func (s *UserService) applyUpdate(ctx context.Context, p *authz.Principal, id uint, action string, fields map[string]interface{}) (*models.User, error) {
	var updated *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewUserRepository(tx)
		before, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := repo.UpdateFields(ctx, id, fields); err != nil {
			return err
		}
		after, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		updated = after

		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     action,
			TargetType: "user",
			TargetID:   id,
			Before:     before,
			After:      after,
		})
		if action != models.AuditUserUpdate {
			s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
				Kind:      models.OutboxUser,
				EventType: action,
				SubjectID: id,
				Payload: map[string]any{
					"user_id":   id,
					"role":      after.Role,
					"is_active": after.IsActive,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	return updated, nil
}

// Authenticate loads the active principal behind id for the auth middleware.
func (s *UserService) Authenticate(ctx context.Context, id uint) (*authz.Principal, error) {
	user, err := repository.NewUserRepository(s.db).GetByID(ctx, id)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, models.NewUnauthenticatedError("authentication required")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, models.NewUnauthenticatedError("account is inactive")
	}
	return authz.PrincipalFromUser(user), nil
}

// VerifyPassword reports whether password matches the stored hash for email.
func (s *UserService) VerifyPassword(ctx context.Context, email, password string) (*models.User, error) {
	user, err := repository.NewUserRepository(s.db).GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, models.NewUnauthenticatedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, models.NewUnauthenticatedError("invalid credentials")
	}
	return user, nil
}
