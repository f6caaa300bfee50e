// Package db opens the database, applies the schema and seeds reference
// data.
package db

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/logging"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connection attempts; postgres often comes up after the app in compose.
var (
	connectAttempts uint = 10
	connectDelay         = 2 * time.Second
)

var passwordKV = regexp.MustCompile(`(password=)(\S+)`)

// Connect opens the configured database and waits until it answers a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	log = logging.OrNop(log)
	if !cfg.Configured() {
		return nil, fmt.Errorf("database %q is not configured", cfg.Driver)
	}

	var dialector gorm.Dialector
	var target string
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
		target = MaskDSN(cfg.DSN())
	case DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
		target = cfg.SQLitePath
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(level)}

	var gdb *gorm.DB
	err := retry.Do(
		func() error {
			conn, err := gorm.Open(dialector, gcfg)
			if err != nil {
				return err
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				_ = sqlDB.Close()
				return err
			}
			gdb = conn
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("database not ready, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	log.Info("database connected", zap.String("driver", cfg.Driver), zap.String("target", target))
	return gdb, nil
}

// Ping checks that the database still answers.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// MaskDSN hides the password in a key=value or URL connection string.
func MaskDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		if u, err := url.Parse(dsn); err == nil {
			return u.Redacted()
		}
		return "postgres://***"
	}
	return passwordKV.ReplaceAllString(dsn, `${1}***`)
}
