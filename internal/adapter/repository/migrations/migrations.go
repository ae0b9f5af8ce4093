// Package migrations embeds the schema for both store backends and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS

// goose keeps its base FS and dialect in package globals.
var mu sync.Mutex

// Up applies every pending migration for driver ("postgres" or "sqlite").
func Up(ctx context.Context, db *sql.DB, driver string, logger *slog.Logger) error {
	var dialect, dir string
	switch driver {
	case "postgres":
		dialect, dir = "postgres", "postgres"
	case "sqlite":
		dialect, dir = "sqlite3", "sqlite"
	default:
		return fmt.Errorf("unsupported driver %q", driver)
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(&gooseLogger{logger: logger.With("component", "migrations")})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
