package service

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/featureflags"
	"chapterhub/internal/models"
	"chapterhub/internal/storage"
	"chapterhub/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db         *gorm.DB
	rdb        *redis.Client
	mr         *miniredis.Miniredis
	clock      *fakeClock
	blobs      *storage.MemoryStore
	audit      *AuditService
	outbox     *OutboxService
	tenants    *TenantResolver
	quota      *QuotaService
	uploads    *UploadService
	moderation *ModerationService
	bans       *BanService
	content    *ContentService
	users      *UserService
	apps       *ApplicationService
	analytics  *AnalyticsService
	insights   *InsightsService
	media      *MediaVerifier
}

var testQuotaDefaults = map[string]int{
	"video":    50,
	"document": 100,
	"image":    200,
	"other":    100,
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		db:    db,
		rdb:   rdb,
		mr:    mr,
		clock: newFakeClock(),
		blobs: storage.NewMemoryStore(),
	}
	env.audit = NewAuditService(db)
	env.outbox = NewOutboxService(db)
	env.tenants = NewTenantResolver(db, map[string]string{"toronto": "Toronto Chapter"}, rdb)
	env.quota = NewQuotaService(db, testQuotaDefaults, env.audit)
	env.quota.Clock = env.clock.Now
	env.uploads = NewUploadService(UploadDeps{
		DB:        db,
		Blobs:     env.blobs,
		Tenants:   env.tenants,
		Quota:     env.quota,
		Audit:     env.audit,
		Outbox:    env.outbox,
		Flags:     featureflags.NewManager(""),
		MaxSizeMB: 2,
	})
	env.uploads.Clock = env.clock.Now
	env.moderation = NewModerationService(db, env.audit, env.outbox, 2*time.Hour)
	env.moderation.Clock = env.clock.Now
	env.bans = NewBanService(db, env.audit, env.outbox)
	env.bans.Clock = env.clock.Now
	env.content = NewContentService(db, env.audit, env.outbox)
	env.users = NewUserService(db, env.tenants, env.audit, env.outbox, 4)
	env.apps = NewApplicationService(db, env.audit, env.outbox)
	env.apps.Clock = env.clock.Now
	env.analytics = NewAnalyticsService(db, rdb, env.quota, env.audit, AnalyticsConfig{
		MaxAge:            24 * time.Hour,
		FlagSLO:           2 * time.Hour,
		QuotaWarningRatio: 0.8,
	})
	env.analytics.Clock = env.clock.Now
	env.insights = NewInsightsService(db)
	env.insights.Clock = env.clock.Now
	env.media = NewMediaVerifier(db, env.blobs, env.audit, env.outbox)
	return env
}

func (e *testEnv) principal(u *models.User) *authz.Principal {
	return authz.PrincipalFromUser(u)
}

func (e *testEnv) admin(t *testing.T) (*models.User, *authz.Principal) {
	t.Helper()
	u := testutil.CreateUser(t, e.db, models.RoleAdmin, nil)
	return u, e.principal(u)
}

func (e *testEnv) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (e *testEnv) quotaUsage(t *testing.T, tenantID uint, kind models.MediaKind) int {
	t.Helper()
	var row models.QuotaRow
	require.NoError(t, e.db.Where("tenant_id = ? AND media_kind = ?", tenantID, kind).First(&row).Error)
	return row.Usage
}

func (e *testEnv) setQuota(t *testing.T, tenantID uint, kind models.MediaKind, usage, limit int) {
	t.Helper()
	start, end := models.MonthPeriod(e.clock.Now())
	row := &models.QuotaRow{
		TenantID:    tenantID,
		MediaKind:   kind,
		PeriodStart: start,
		PeriodEnd:   end,
		Limit:       limit,
		Usage:       usage,
	}
	require.NoError(t, e.db.Create(row).Error)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// sizedPNG pads a valid PNG to n bytes. Decoders stop at IEND.
func sizedPNG(t *testing.T, n int) []byte {
	t.Helper()
	b := pngBytes(t)
	if len(b) < n {
		b = append(b, make([]byte, n-len(b))...)
	}
	return b
}
