// Package seed creates demo and fixture data for chapterhub databases.
// It is intended for development and testing only.
package seed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chapterhub/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultPassword is the password given to every seeded account.
const DefaultPassword = "Chapterhub!Demo1"

var mimeByKind = map[models.MediaKind][]string{
	models.MediaVideo:    {"video/mp4", "video/webm"},
	models.MediaDocument: {"application/pdf", "text/plain"},
	models.MediaImage:    {"image/png", "image/jpeg", "image/webp"},
	models.MediaOther:    {"application/zip"},
}

var uploadCategories = []string{"lecture", "handout", "worksheet", "recording", "reading"}

// Factory builds domain rows and persists them.
type Factory struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker
	// synthetic ID counter when running in DryRun mode
	nextID       uint
	passwordHash string
}

// NewFactory creates a Factory bound to db. A zero RandomSeed picks a random one.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	return &Factory{db: db, opts: opts, faker: gofakeit.New(opts.RandomSeed), nextID: 1000}
}

// hashedPassword hashes DefaultPassword once per factory.
func (f *Factory) hashedPassword() (string, error) {
	if f.passwordHash != "" {
		return f.passwordHash, nil
	}
	cost := f.opts.BcryptCost
	if f.opts.SkipBcrypt || cost == 0 {
		cost = bcrypt.MinCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), cost)
	if err != nil {
		return "", fmt.Errorf("hash seed password: %w", err)
	}
	f.passwordHash = string(hash)
	return f.passwordHash, nil
}

// pastTime returns a time spread over the last MaxDays days.
func (f *Factory) pastTime() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.faker.Number(0, maxDays*24*60)) * time.Minute
	return time.Now().UTC().Add(-back)
}

func (f *Factory) save(kind string, v any, setID func(uint)) error {
	if f.opts.DryRun {
		f.nextID++
		setID(f.nextID)
		slog.Debug("dry-run create", slog.String("kind", kind), slog.Uint64("id", uint64(f.nextID)))
		return nil
	}
	if err := f.db.Create(v).Error; err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}
	return nil
}

// CreateUser creates an active principal with the given role.
func (f *Factory) CreateUser(role models.Role, tenantID *uint, overrides ...func(*models.User)) (*models.User, error) {
	hash, err := f.hashedPassword()
	if err != nil {
		return nil, err
	}
	first, last := f.faker.FirstName(), f.faker.LastName()
	user := &models.User{
		FirstName: first,
		LastName:  last,
		Email:     strings.ToLower(fmt.Sprintf("%s.%s.%s@chapterhub.test", first, last, f.faker.LetterN(5))),
		Password:  hash,
		Role:      role,
		TenantID:  tenantID,
		IsActive:  true,
		CreatedAt: f.pastTime(),
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.save("user", user, func(id uint) { user.ID = id }); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateForumPost creates a discussion post by author.
func (f *Factory) CreateForumPost(author *models.User, overrides ...func(*models.ForumPost)) (*models.ForumPost, error) {
	post := &models.ForumPost{
		AuthorID:  author.ID,
		TenantID:  author.TenantID,
		Title:     f.faker.Sentence(6),
		Body:      f.faker.Paragraph(1, 3, 8, "\n"),
		CreatedAt: f.pastTime(),
	}
	for _, override := range overrides {
		override(post)
	}
	if err := f.save("forum_post", post, func(id uint) { post.ID = id }); err != nil {
		return nil, err
	}
	return post, nil
}

// CreateResource creates a shared learning resource.
func (f *Factory) CreateResource(owner *models.User, overrides ...func(*models.Resource)) (*models.Resource, error) {
	visibility := []string{models.VisibilityPublic, models.VisibilityTenant, models.VisibilityPrivate}
	res := &models.Resource{
		OwnerID:     owner.ID,
		Title:       f.faker.BookTitle(),
		Description: f.faker.Sentence(12),
		URL:         fmt.Sprintf("https://resources.chapterhub.test/%s", f.faker.UUID()),
		Visibility:  visibility[f.faker.Number(0, len(visibility)-1)],
		CreatedAt:   f.pastTime(),
	}
	for _, override := range overrides {
		override(res)
	}
	if err := f.save("resource", res, func(id uint) { res.ID = id }); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateUpload creates an upload row in the given status. It does not write
// a blob or charge quota; callers that need the ledger to agree use
// Seeder.syncQuotaLedger.
func (f *Factory) CreateUpload(owner *models.User, tenantID uint, kind models.MediaKind, status models.UploadStatus, overrides ...func(*models.Upload)) (*models.Upload, error) {
	mimes := mimeByKind[kind]
	tags, err := json.Marshal([]string{f.faker.Word(), f.faker.Word()})
	if err != nil {
		return nil, err
	}
	up := &models.Upload{
		OwnerID:     owner.ID,
		TenantID:    tenantID,
		MediaKind:   kind,
		MimeType:    mimes[f.faker.Number(0, len(mimes)-1)],
		SizeBytes:   int64(f.faker.Number(1<<10, 50<<20)),
		BlobHandle:  fmt.Sprintf("seed/%d/%s", tenantID, f.faker.UUID()),
		Title:       f.faker.Sentence(4),
		Description: f.faker.Sentence(10),
		Tags:        datatypes.JSON(tags),
		Category:    uploadCategories[f.faker.Number(0, len(uploadCategories)-1)],
		Status:      status,
		CreatedAt:   f.pastTime(),
	}
	switch status {
	case models.UploadRejected:
		reason := f.faker.Sentence(5)
		up.RejectionReason = &reason
		fallthrough
	case models.UploadApproved:
		reviewed := up.CreatedAt.Add(time.Duration(f.faker.Number(5, 600)) * time.Minute)
		up.ReviewedAt = &reviewed
	case models.UploadFailed:
		up.FailureReason = "content does not match declared type"
		up.ProcessingAttempts = 1
	}
	for _, override := range overrides {
		override(up)
	}
	if err := f.save("upload", up, func(id uint) { up.ID = id }); err != nil {
		return nil, err
	}
	return up, nil
}

// CreateFlag files a pending report against a content item.
func (f *Factory) CreateFlag(reporter *models.User, contentType models.ContentType, contentID uint, overrides ...func(*models.Flag)) (*models.Flag, error) {
	reasons := []string{"spam", "harassment", "off topic", "copyright", "misinformation"}
	flag := &models.Flag{
		ContentType: contentType,
		ContentID:   contentID,
		ReporterID:  reporter.ID,
		Reason:      reasons[f.faker.Number(0, len(reasons)-1)],
		Status:      models.FlagPending,
		CreatedAt:   f.pastTime(),
	}
	for _, override := range overrides {
		override(flag)
	}
	if err := f.save("flag", flag, func(id uint) { flag.ID = id }); err != nil {
		return nil, err
	}
	return flag, nil
}

// CreateModeratedItem records an automatically scored content item.
func (f *Factory) CreateModeratedItem(contentType models.ContentType, contentID uint, overrides ...func(*models.ModeratedItem)) (*models.ModeratedItem, error) {
	item := &models.ModeratedItem{
		ContentType:         contentType,
		ContentID:           contentID,
		FaithAlignmentScore: f.faker.Number(0, 100),
		Status:              models.ModerationPending,
		CreatedAt:           f.pastTime(),
	}
	for _, override := range overrides {
		override(item)
	}
	if err := f.save("moderated_item", item, func(id uint) { item.ID = id }); err != nil {
		return nil, err
	}
	return item, nil
}

// CreateLessonProgress records user touching a lesson.
func (f *Factory) CreateLessonProgress(user *models.User, lessonID uint, completed bool) (*models.LessonProgress, error) {
	touched := f.pastTime()
	lp := &models.LessonProgress{
		UserID:    user.ID,
		LessonID:  lessonID,
		Completed: completed,
		CreatedAt: touched,
		UpdatedAt: touched,
	}
	if completed {
		lp.CompletedAt = &touched
	}
	if err := f.save("lesson_progress", lp, func(id uint) { lp.ID = id }); err != nil {
		return nil, err
	}
	return lp, nil
}

// CreateStudySession records a timed study session for user.
func (f *Factory) CreateStudySession(user *models.User) (*models.StudySession, error) {
	started := f.pastTime()
	ss := &models.StudySession{
		UserID:          user.ID,
		DurationMinutes: float64(f.faker.Number(5, 120)),
		StartedAt:       started,
		CreatedAt:       started,
	}
	if err := f.save("study_session", ss, func(id uint) { ss.ID = id }); err != nil {
		return nil, err
	}
	return ss, nil
}
