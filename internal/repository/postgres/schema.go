package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the prefixed tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, prefix string) error {
	ddl := strings.ReplaceAll(schemaSQL, "{{prefix}}", prefix)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DropSchema removes the prefixed tables. Callers must refuse this in prod.
func DropSchema(ctx context.Context, pool *pgxpool.Pool, prefix string) error {
	ddl := fmt.Sprintf(`
		DROP TABLE IF EXISTS %[1]susage_records CASCADE;
		DROP TABLE IF EXISTS %[1]smessages CASCADE;
		DROP TABLE IF EXISTS %[1]sconversations CASCADE;
	`, prefix)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}
