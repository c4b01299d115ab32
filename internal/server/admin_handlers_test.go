package server

import (
	"fmt"
	"net/http"
	"testing"

	"chapterhub/internal/models"
	"chapterhub/internal/service"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongPassword = "Sturdy!Passw0rd"

func TestUsers_CreateRoleAndStatus(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	testutil.CreateTenant(t, ts.db, "Toronto Chapter")
	admin, adminToken := ts.admin(t)

	create := service.CreateUserInput{
		FirstName: "Amara",
		LastName:  "Okafor",
		Email:     "Amara@Example.com",
		Password:  strongPassword,
		Tenant:    "toronto",
	}
	resp, body := ts.do(t, http.MethodPost, "/api/admin/users", adminToken, create)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)
	var user models.User
	decodeData(t, body, &user)
	assert.Equal(t, "amara@example.com", user.Email)
	assert.Equal(t, models.RoleMember, user.Role)
	require.NotNil(t, user.TenantID)

	resp, body = ts.do(t, http.MethodPost, "/api/admin/users", adminToken, create)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, models.CodeConflict, body.Code)

	weak := create
	weak.Email = "weak@example.com"
	weak.Password = "short"
	resp, _ = ts.do(t, http.MethodPost, "/api/admin/users", adminToken, weak)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	userPath := fmt.Sprintf("/api/admin/users/%d", user.ID)
	resp, body = ts.do(t, http.MethodPatch, userPath+"/role", adminToken, RoleRequest{Role: "instructor"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	decodeData(t, body, &user)
	assert.Equal(t, models.RoleInstructor, user.Role)

	resp, _ = ts.do(t, http.MethodPatch, userPath+"/role", adminToken, RoleRequest{Role: "overlord"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d/role", admin.ID), adminToken, RoleRequest{Role: "member"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	userToken := ts.token(t, &user)
	resp, _ = ts.do(t, http.MethodPost, "/api/admin/ws/ticket", userToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPatch, userPath+"/status", adminToken, StatusRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	inactive := false
	resp, body = ts.do(t, http.MethodPatch, userPath+"/status", adminToken, StatusRequest{Active: &inactive})
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)

	resp, _ = ts.do(t, http.MethodPost, "/api/admin/ws/ticket", userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var page service.UserPage
	resp, body = ts.do(t, http.MethodGet, "/api/admin/users?active=false", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	decodeData(t, body, &page)
	require.Len(t, page.Users, 1)
	assert.Equal(t, user.ID, page.Users[0].ID)

	var audits int64
	require.NoError(t, ts.db.Model(&models.AuditEntry{}).
		Where("target_type = ? AND target_id = ?", "user", user.ID).Count(&audits).Error)
	assert.EqualValues(t, 3, audits)
}

func TestApplications_ApplyAndApprove(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	member := testutil.CreateUser(t, ts.db, models.RoleMember, nil)
	_, adminToken := ts.admin(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/applications", ts.token(t, member), ApplyRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/applications", ts.token(t, member), ApplyRequest{Motivation: "I run the Thursday study group"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)
	var app models.InstructorApplication
	decodeData(t, body, &app)

	var page service.ApplicationPage
	resp, body = ts.do(t, http.MethodGet, "/api/admin/applications", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, body, &page)
	require.Len(t, page.Applications, 1)

	reviewPath := fmt.Sprintf("/api/admin/applications/%d/review", app.ID)
	resp, _ = ts.do(t, http.MethodPost, reviewPath, adminToken, ApplicationReviewRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	approve := true
	resp, body = ts.do(t, http.MethodPost, reviewPath, adminToken, ApplicationReviewRequest{Approve: &approve, Notes: "welcome"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	decodeData(t, body, &app)
	assert.Equal(t, models.ApplicationApproved, app.Status)

	var promoted models.User
	require.NoError(t, ts.db.First(&promoted, member.ID).Error)
	assert.Equal(t, models.RoleInstructor, promoted.Role)

	resp, body = ts.do(t, http.MethodPost, reviewPath, adminToken, ApplicationReviewRequest{Approve: &approve})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, models.CodeAlreadyProcessed, body.Code)
}

func TestQuotas_ListAndSetLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tenant := testutil.CreateTenant(t, ts.db, "Toronto Chapter")
	other := testutil.CreateTenant(t, ts.db, "Lagos Chapter")
	instructor := testutil.CreateUser(t, ts.db, models.RoleInstructor, &tenant.ID)
	_, adminToken := ts.admin(t)

	limit := 5
	resp, body := ts.do(t, http.MethodPut, "/api/admin/quotas", adminToken, QuotaLimitRequest{
		Tenant: "toronto", MediaKind: "Video", Limit: &limit,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	var st service.QuotaStatus
	decodeData(t, body, &st)
	assert.Equal(t, 5, st.Limit)
	assert.Equal(t, models.MediaVideo, st.MediaKind)

	resp, _ = ts.do(t, http.MethodPut, "/api/admin/quotas", adminToken, QuotaLimitRequest{Tenant: "toronto", MediaKind: "hologram", Limit: &limit})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPut, "/api/admin/quotas", adminToken, QuotaLimitRequest{Tenant: "toronto", MediaKind: "video"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPut, "/api/admin/quotas", ts.token(t, instructor), QuotaLimitRequest{Tenant: "toronto", MediaKind: "video", Limit: &limit})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var rows []service.QuotaStatus
	resp, body = ts.do(t, http.MethodGet, "/api/admin/quotas", ts.token(t, instructor), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	decodeData(t, body, &rows)
	require.Len(t, rows, len(models.MediaKinds))
	for _, r := range rows {
		assert.Equal(t, tenant.ID, r.TenantID)
		if r.MediaKind == models.MediaVideo {
			assert.Equal(t, 5, r.Limit)
		}
	}

	resp, _ = ts.do(t, http.MethodGet, "/api/admin/quotas?tenant="+fmt.Sprint(other.ID), ts.token(t, instructor), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/admin/quotas", adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalytics_RegenerateAndVerify(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	_, adminToken := ts.admin(t)
	testutil.CreateUser(t, ts.db, models.RoleMember, nil)

	resp, _ := ts.do(t, http.MethodPost, "/api/admin/analytics/regenerate", adminToken, RegenerateRequest{Kind: "hourly"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/admin/analytics/regenerate", adminToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)
	var snap models.AnalyticsSnapshot
	decodeData(t, body, &snap)
	require.NotZero(t, snap.ID)
	assert.Equal(t, models.SnapshotDaily, snap.Kind)

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/admin/accuracy/%d", snap.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	var report service.AccuracyReport
	decodeData(t, body, &report)
	assert.Equal(t, snap.ID, report.SnapshotID)
	assert.Positive(t, report.Checked)
	assert.Equal(t, 1.0, report.Accuracy)

	resp, _ = ts.do(t, http.MethodGet, "/api/admin/accuracy/424242", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/admin/analytics?kind=daily", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	var view service.AnalyticsView
	decodeData(t, body, &view)
	require.NotNil(t, view.Snapshot)
	assert.Equal(t, snap.ID, view.Snapshot.ID)
	assert.False(t, view.Stale)

	for _, path := range []string{"/api/admin/anomalies", "/api/admin/retention?timeframe=30d"} {
		resp, body = ts.do(t, http.MethodGet, path, adminToken, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path+": "+body.Message)
	}
}

func TestAuditAndOutbox_Queries(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	admin, adminToken := ts.admin(t)
	member := testutil.CreateUser(t, ts.db, models.RoleMember, nil)

	resp, body := ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/bans/user/%d", member.ID), adminToken,
		service.BanInput{Reason: "spam"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.Message)

	var audit service.AuditPage
	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/admin/audit?actor_id=%d&action=%s", admin.ID, models.AuditBanCreate), adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	decodeData(t, body, &audit)
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, member.ID, audit.Entries[0].TargetID)
	assert.NotEmpty(t, audit.Entries[0].IP)

	resp, _ = ts.do(t, http.MethodGet, "/api/admin/audit?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/admin/audit?actor_id=abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var outbox service.OutboxPage
	resp, body = ts.do(t, http.MethodGet, "/api/admin/outbox?status=pending", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.Message)
	decodeData(t, body, &outbox)
	require.Len(t, outbox.Events, 1)
	assert.Equal(t, "ban.created", outbox.Events[0].EventType)
	assert.Equal(t, member.ID, outbox.Events[0].SubjectID)

	resp, _ = ts.do(t, http.MethodGet, "/api/admin/outbox?status=stuck", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var flags map[string]bool
	resp, body = ts.do(t, http.MethodGet, "/api/admin/feature-flags", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, body, &flags)
	assert.True(t, flags["admin_live_feed"])
	assert.True(t, flags["admin_self_publish"])
}
