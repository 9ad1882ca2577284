// Database-backed audit persistence.
// SQLite uses modernc.org/sqlite (pure Go, no CGO) through the
// glebarez/sqlite GORM driver; PostgreSQL uses the standard GORM driver.
package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkaninda/kalimcp/internal/config"
)

// EventModel is the audit_events table. Append-only: the store exposes no
// update or delete path.
type EventModel struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index;not null"`
	Kind      string    `gorm:"size:32;index;not null"`
	RequestID string    `gorm:"size:64;index"`
	Tool      string    `gorm:"size:64"`
	Detail    string
}

// TableName pins the table name regardless of GORM pluralization settings.
func (EventModel) TableName() string { return "audit_events" }

// Store is a database-backed Sink. Writes go through the same single-writer
// queue as the file sink, so a slow database never blocks an execution.
type Store struct {
	*asyncSink
	db *gorm.DB
}

// OpenStore connects to the configured database, migrates the audit table,
// and returns a recording sink.
func OpenStore(cfg *config.AuditStoreConfig, logger *slog.Logger) (*Store, error) {
	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&EventModel{}); err != nil {
		return nil, fmt.Errorf("migrating audit store: %w", err)
	}

	s := &Store{db: db}
	s.asyncSink = newAsyncSink(s.appendRow, s.closeDB, logger)
	logger.Info("audit store opened", slog.String("driver", cfg.StoreDriver()))
	return s, nil
}

func openDB(cfg *config.AuditStoreConfig, logger *slog.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch cfg.StoreDriver() {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("audit store: sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
			return nil, fmt.Errorf("creating audit store directory: %w", err)
		}
		dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", cfg.Path)
		db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite audit store: %w", err)
		}
		return db, nil

	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("audit store: postgres dsn is required")
		}
		db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("opening postgres audit store: %w", err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("audit store: unsupported driver %q", cfg.Driver)
	}
}

func (s *Store) appendRow(ev Event) error {
	row := EventModel{
		Timestamp: ev.Timestamp,
		Kind:      string(ev.Kind),
		RequestID: ev.RequestID,
		Tool:      ev.Tool,
		Detail:    ev.Detail,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func (s *Store) closeDB() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
