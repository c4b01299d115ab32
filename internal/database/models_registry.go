package database

import "chapterhub/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Tenant{},
		&models.TenantAlias{},
		&models.User{},
		&models.Upload{},
		&models.QuotaRow{},
		&models.Flag{},
		&models.ModeratedItem{},
		&models.Escalation{},
		&models.Ban{},
		&models.AuditEntry{},
		&models.AnalyticsSnapshot{},
		&models.OutboxEvent{},
		&models.InstructorApplication{},
	}
}

// CollaboratorModels returns tables owned by the wider platform that the core
// reads or touches. They are only auto-migrated outside production.
func CollaboratorModels() []interface{} {
	return []interface{}{
		&models.ForumPost{},
		&models.Resource{},
		&models.LessonProgress{},
		&models.StudySession{},
		&models.UserWarning{},
		&models.Notification{},
	}
}
