package repository

import (
	"chapterhub/internal/database"

	"gorm.io/gorm"
)

func readDB(primary *gorm.DB) *gorm.DB {
	// A transaction handle must read its own writes.
	if isTx(primary) {
		return primary
	}
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}

func isTx(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

// clampPage normalises pagination arguments.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
