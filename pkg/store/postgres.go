// pkg/store/postgres.go

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	cerr "github.com/cockroachdb/errors"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options configures the PostgreSQL connection.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
}

// Open connects gorm to PostgreSQL through the lib/pq driver and verifies
// the connection.
func Open(ctx context.Context, opts Options) (*gorm.DB, error) {
	logger := otelzap.Ctx(ctx)

	if opts.DSN == "" {
		return nil, cerr.WithHint(cerr.New("database DSN is empty"), "set database.dsn or DELPHI_DATABASE_DSN")
	}
	if opts.SlowThreshold == 0 {
		opts.SlowThreshold = time.Second
	}

	dialector := postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        opts.DSN,
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zapWriter{zap.L().Named("gorm")}, gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, cerr.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, cerr.Wrap(err, "get sql.DB from gorm")
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, cerr.Wrap(err, "ping database")
	}

	logger.Info("Connected to PostgreSQL")
	return db, nil
}

// Migrate creates or extends every table. Finding and device tables share
// one struct each, so their indexes are created per table by name.
func Migrate(ctx context.Context, db *gorm.DB) error {
	logger := otelzap.Ctx(ctx)
	db = db.WithContext(ctx)

	if err := db.AutoMigrate(
		&inventory.Connection{},
		&inventory.Agent{},
		&inventory.Entity{},
		&inventory.Ticket{},
		&inventory.ItemTicket{},
	); err != nil {
		return cerr.Wrap(err, "migrate core tables")
	}

	for _, kind := range inventory.DeviceKinds {
		table := kind.Table()
		if err := db.Table(table).AutoMigrate(&inventory.Device{}); err != nil {
			return cerr.Wrapf(err, "migrate %s", table)
		}
		if err := db.Exec(fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %[1]s_name_entity ON %[1]s (name, entity_id)`, table)).Error; err != nil {
			return cerr.Wrapf(err, "index %s", table)
		}
	}

	for _, p := range inventory.Profiles {
		table := p.Table()
		if err := db.Table(table).AutoMigrate(&inventory.Finding{}); err != nil {
			return cerr.Wrapf(err, "migrate %s", table)
		}
		stmts := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_key_entity ON %[1]s (remote_key, entity_id) WHERE is_deleted = false`,
			`CREATE INDEX IF NOT EXISTS %[1]s_device ON %[1]s (device_id)`,
			`CREATE INDEX IF NOT EXISTS %[1]s_device_connection ON %[1]s (device_id, connection_id)`,
			`CREATE INDEX IF NOT EXISTS %[1]s_parent ON %[1]s (parent_id)`,
		}
		for _, stmt := range stmts {
			if err := db.Exec(fmt.Sprintf(stmt, table)).Error; err != nil {
				return cerr.Wrapf(err, "index %s", table)
			}
		}
	}

	logger.Info("Database schema up to date", zap.Int("finding_tables", len(inventory.Profiles)))
	return nil
}

// zapWriter adapts zap to gorm's logger.Writer.
type zapWriter struct {
	l *zap.Logger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.l.Sugar().Warnf(format, args...)
}
