// Package dbtest opens isolated in-memory SQLite databases carrying the real
// goose schema for repository and service tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/migrate"
)

var nameSanitizer = strings.NewReplacer("/", "_", " ", "_", "#", "_")

// Open returns a client bound to a fresh database named after the running test.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", nameSanitizer.Replace(t.Name()))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	if _, err := migrate.ApplyEmbedded(context.Background(), sqlDB, db.DriverSQLite); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	// a single connection keeps the shared in-memory database alive and avoids
	// sqlite table locks between concurrent readers and writers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db.NewFromConn(conn)
}
