// Package authz maps a principal and a requested action onto an allow or deny
// decision. Every handler consults the same Decide function.
package authz

import "chapterhub/internal/models"

// Action is an operation a principal may request.
type Action string

const (
	ActionReadOwn      Action = "read_own"
	ActionReadTenant   Action = "read_tenant"
	ActionSubmitUpload Action = "submit_upload"
	ActionRetryUpload  Action = "retry_upload"
	ActionReviewUpload Action = "review_upload"
	ActionEditContent  Action = "edit_content"
	ActionReviewFlag   Action = "review_flag"
	ActionReviewAI     Action = "review_ai"
	ActionResolveEsc   Action = "resolve_escalation"
	ActionBan          Action = "ban"
	ActionUnban        Action = "unban"
	ActionManageUsers  Action = "manage_users"
	ActionChangeRole   Action = "change_role"
	ActionSetStatus    Action = "set_status"
	ActionManageQuota  Action = "manage_quota"
	ActionViewAudit    Action = "view_audit"
	ActionViewAnalytic Action = "view_analytics"
	ActionReviewApp    Action = "review_application"
	ActionViewOutbox   Action = "view_outbox"
)

// Deny reasons.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonInactive        = "inactive"
	ReasonRole            = "insufficient_role"
	ReasonSelfTarget      = "self_target"
	ReasonTenant          = "tenant_mismatch"
)

// Principal is the authenticated caller.
type Principal struct {
	ID       uint
	Role     models.Role
	TenantID *uint
	Active   bool
}

// PrincipalFromUser builds a principal from a loaded user row.
func PrincipalFromUser(u *models.User) *Principal {
	if u == nil {
		return nil
	}
	return &Principal{ID: u.ID, Role: u.Role, TenantID: u.TenantID, Active: u.IsActive}
}

// IsAdmin reports whether the principal is an admin.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == models.RoleAdmin
}

// Target optionally narrows a decision to a user, owner or tenant.
type Target struct {
	UserID   uint
	OwnerID  uint
	TenantID *uint
}

// Decision is the result of Decide.
type Decision struct {
	Allowed bool
	Reason  string
}

var (
	memberActions = map[Action]bool{
		ActionReadOwn: true,
	}
	instructorActions = map[Action]bool{
		ActionReadOwn:      true,
		ActionReadTenant:   true,
		ActionSubmitUpload: true,
	}
	selfTargetActions = map[Action]bool{
		ActionChangeRole: true,
		ActionSetStatus:  true,
		ActionBan:        true,
	}
)

// Decide evaluates action for p against t.
func Decide(p *Principal, action Action, t Target) Decision {
	if p == nil || p.ID == 0 {
		return deny(ReasonUnauthenticated)
	}
	if !p.Active {
		return deny(ReasonInactive)
	}
	if selfTargetActions[action] && t.UserID != 0 && t.UserID == p.ID {
		return deny(ReasonSelfTarget)
	}

	switch p.Role {
	case models.RoleAdmin:
		return allow()
	case models.RoleInstructor:
		if !instructorActions[action] {
			return deny(ReasonRole)
		}
	case models.RoleMember:
		if !memberActions[action] {
			return deny(ReasonRole)
		}
	default:
		return deny(ReasonRole)
	}

	switch action {
	case ActionReadOwn:
		if t.OwnerID != 0 && t.OwnerID != p.ID {
			return deny(ReasonRole)
		}
	case ActionReadTenant, ActionSubmitUpload:
		if t.TenantID != nil && (p.TenantID == nil || *p.TenantID != *t.TenantID) {
			return deny(ReasonTenant)
		}
	}
	return allow()
}

// Err converts a denied decision into the matching AppError. It returns nil
// for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnauthenticated, ReasonInactive:
		return models.NewUnauthenticatedError("authentication required")
	case ReasonSelfTarget:
		return models.NewForbiddenError("you cannot perform this action on your own account")
	default:
		return models.NewForbiddenError("you do not have permission to perform this action")
	}
}

// Check is Decide followed by Err.
func Check(p *Principal, action Action, t Target) error {
	return Decide(p, action, t).Err()
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }
