// Package tests holds integration tests that need a real PostgreSQL
// database. They are skipped unless DATABASE_URL is set; Redis is always
// served by miniredis.
package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE refresh_tokens, players CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}
