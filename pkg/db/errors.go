package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether the provided error is a unique constraint
// violation. Postgres errors are matched on constraintName when provided; SQLite
// only reports the offending columns ("table.column"), so callers pass those too.
func IsUniqueViolation(err error, constraintName string, columns ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return constraintName == "" || pgErr.ConstraintName == constraintName || strings.Contains(msg, constraintName)
	}
	if strings.Contains(msg, "duplicate key value") {
		return constraintName == "" || strings.Contains(msg, constraintName)
	}
	if strings.Contains(msg, "UNIQUE constraint failed") {
		if constraintName != "" && strings.Contains(msg, constraintName) {
			return true
		}
		for _, col := range columns {
			if !strings.Contains(msg, col) {
				return false
			}
		}
		return true
	}
	return false
}
