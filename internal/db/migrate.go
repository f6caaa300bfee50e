package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// requiredTables must exist once the schema is applied.
var requiredTables = []string{
	"users", "profiles", "permissions",
	"partners", "partner_documents", "document_templates",
	"webhook_events", "onboarding_sessions", "support_conversations",
}

// Migrate brings the schema up to date. Versioned SQL migrations run when
// enabled on postgres; otherwise GORM's AutoMigrate is used.
func Migrate(gdb *gorm.DB, cfg config.DatabaseConfig, log *zap.Logger) error {
	log = logging.OrNop(log)
	if cfg.Migrations && cfg.Driver == DriverPostgres {
		log.Info("running sql migrations")
		if err := runSQLMigrations(cfg.MigrateURL()); err != nil {
			return fmt.Errorf("sql migrations: %w", err)
		}
	} else {
		for _, m := range models.All() {
			if err := gdb.AutoMigrate(m); err != nil {
				return fmt.Errorf("automigrate %T: %w", m, err)
			}
		}
	}
	return CheckSchema(gdb)
}

// CheckSchema fails when a core table is missing.
func CheckSchema(gdb *gorm.DB) error {
	for _, table := range requiredTables {
		if !gdb.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

func runSQLMigrations(databaseURL string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
