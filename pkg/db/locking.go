package db

import "gorm.io/gorm"

// LockSuffix returns the row-locking clause for the active dialect. SQLite
// has no FOR UPDATE syntax and serializes writers at the database level, so
// the clause is omitted there.
func LockSuffix(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	switch tx.Dialector.Name() {
	case "sqlite", "sqlite3":
		return ""
	default:
		return " FOR UPDATE"
	}
}
