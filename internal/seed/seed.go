package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chapterhub/internal/database"
	"chapterhub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options configures the seeder and its factory.
type Options struct {
	UsersPerTenant   int
	PostsPerUser     int
	UploadsPerTenant int
	FlagRatio        float64
	Clean            bool
	DryRun           bool
	SkipBcrypt       bool
	BcryptCost       int
	MaxDays          int
	RandomSeed       int64
	// QuotaDefaults is the per-kind monthly limit written to the ledger.
	QuotaDefaults map[string]int
}

// DefaultOptions returns a small demo dataset.
func DefaultOptions() Options {
	return Options{
		UsersPerTenant:   12,
		PostsPerUser:     3,
		UploadsPerTenant: 10,
		FlagRatio:        0.15,
		MaxDays:          60,
		QuotaDefaults: map[string]int{
			"video":    50,
			"document": 200,
			"image":    500,
			"other":    100,
		},
	}
}

// Summary counts what a seeding run created.
type Summary struct {
	Tenants        int
	Users          int
	Posts          int
	Resources      int
	Uploads        int
	Flags          int
	ModeratedItems int
	StudySessions  int
	QuotaRows      int
}

// Seeder populates a database with demo chapters, people and content.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	return &Seeder{db: db, opts: opts, factory: NewFactory(db, opts)}
}

// Factory exposes the underlying factory for tests and ad hoc fixtures.
func (s *Seeder) Factory() *Factory { return s.factory }

// Run seeds the built-in tenants and a demo population in each.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	slog.InfoContext(ctx, "starting database seeding",
		slog.Int("users_per_tenant", s.opts.UsersPerTenant),
		slog.Int("uploads_per_tenant", s.opts.UploadsPerTenant),
		slog.Bool("dry_run", s.opts.DryRun),
	)

	if s.opts.Clean && !s.opts.DryRun {
		if err := ClearAll(s.db); err != nil {
			return nil, fmt.Errorf("clear existing data: %w", err)
		}
	}

	var tenants []models.Tenant
	if s.opts.DryRun {
		for i, item := range BuiltInTenants {
			tenants = append(tenants, models.Tenant{ID: uint(i + 1), Name: item.Name, Active: true})
		}
	} else {
		var err error
		if tenants, err = Tenants(s.db); err != nil {
			return nil, err
		}
	}

	sum := &Summary{Tenants: len(tenants)}
	for i := range tenants {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := s.seedTenant(&tenants[i], sum); err != nil {
			return sum, fmt.Errorf("seed tenant %s: %w", tenants[i].Name, err)
		}
	}

	if !s.opts.DryRun {
		rows, err := s.syncQuotaLedger()
		if err != nil {
			return sum, fmt.Errorf("sync quota ledger: %w", err)
		}
		sum.QuotaRows = rows
	}

	slog.InfoContext(ctx, "database seeding completed",
		slog.Int("tenants", sum.Tenants),
		slog.Int("users", sum.Users),
		slog.Int("uploads", sum.Uploads),
		slog.Int("flags", sum.Flags),
		slog.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

func (s *Seeder) seedTenant(tenant *models.Tenant, sum *Summary) error {
	f := s.factory
	tid := tenant.ID

	instructor, err := f.CreateUser(models.RoleInstructor, &tid)
	if err != nil {
		return err
	}
	sum.Users++

	members := make([]*models.User, 0, s.opts.UsersPerTenant)
	for i := 0; i < s.opts.UsersPerTenant; i++ {
		u, err := f.CreateUser(models.RoleMember, &tid)
		if err != nil {
			return err
		}
		members = append(members, u)
		sum.Users++
	}
	if len(members) == 0 {
		members = append(members, instructor)
	}

	for _, m := range members {
		for i := 0; i < s.opts.PostsPerUser; i++ {
			post, err := f.CreateForumPost(m)
			if err != nil {
				return err
			}
			sum.Posts++
			if f.faker.Float64Range(0, 1) < s.opts.FlagRatio {
				reporter := members[f.faker.Number(0, len(members)-1)]
				if _, err := f.CreateFlag(reporter, models.ContentForumPost, post.ID); err != nil {
					return err
				}
				sum.Flags++
				if _, err := f.CreateModeratedItem(models.ContentForumPost, post.ID); err != nil {
					return err
				}
				sum.ModeratedItems++
			}
		}
		for lesson := uint(1); lesson <= 3; lesson++ {
			if _, err := f.CreateLessonProgress(m, lesson, f.faker.Bool()); err != nil {
				return err
			}
		}
		if _, err := f.CreateStudySession(m); err != nil {
			return err
		}
		sum.StudySessions++
	}

	if _, err := f.CreateResource(instructor); err != nil {
		return err
	}
	sum.Resources++

	statuses := []models.UploadStatus{models.UploadPending, models.UploadApproved, models.UploadApproved, models.UploadRejected}
	for i := 0; i < s.opts.UploadsPerTenant; i++ {
		kind := models.MediaKinds[f.faker.Number(0, len(models.MediaKinds)-1)]
		status := statuses[f.faker.Number(0, len(statuses)-1)]
		if _, err := f.CreateUpload(instructor, tid, kind, status); err != nil {
			return err
		}
		sum.Uploads++
	}
	return nil
}

// syncQuotaLedger writes current-month quota rows whose usage equals the
// non-failed uploads created this month, so seeded data satisfies the ledger.
func (s *Seeder) syncQuotaLedger() (int, error) {
	start, end := models.MonthPeriod(time.Now())

	type usageRow struct {
		TenantID  uint
		MediaKind models.MediaKind
		Count     int
	}
	var rows []usageRow
	if err := s.db.Model(&models.Upload{}).
		Select("tenant_id, media_kind, COUNT(*) AS count").
		Where("created_at >= ? AND created_at < ? AND status <> ?", start, end, models.UploadFailed).
		Group("tenant_id, media_kind").
		Scan(&rows).Error; err != nil {
		return 0, err
	}

	for _, r := range rows {
		limit := s.opts.QuotaDefaults[string(r.MediaKind)]
		if limit < r.Count {
			limit = r.Count
		}
		row := models.QuotaRow{
			TenantID:    r.TenantID,
			MediaKind:   r.MediaKind,
			PeriodStart: start,
			PeriodEnd:   end,
			Limit:       limit,
			Usage:       r.Count,
		}
		if err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "media_kind"}, {Name: "period_start"}},
			DoUpdates: clause.AssignmentColumns([]string{"usage", "quota_limit", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// ClearAll deletes every core and collaborator row. Postgres tables are
// truncated with identity reset; other dialects fall back to DELETE.
func ClearAll(db *gorm.DB) error {
	slog.Info("clearing existing data")
	all := append(database.CollaboratorModels(), database.PersistentModels()...)

	if db.Dialector.Name() == "postgres" {
		stmt := &gorm.Statement{DB: db}
		tables := make([]string, 0, len(all))
		for _, m := range all {
			if err := stmt.Parse(m); err != nil {
				return err
			}
			tables = append(tables, stmt.Schema.Table)
		}
		return db.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))).Error
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for i := len(all) - 1; i >= 0; i-- {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(all[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
