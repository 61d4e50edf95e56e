package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema_mysql.sql
var mysqlSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Migrate applies the schema for the connection's driver. Statements are
// idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	schema := mysqlSchema
	if db.DriverName() == "postgres" {
		schema = postgresSchema
	}

	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var stmts []string
	for _, part := range strings.Split(schema, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
