package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// kvRecord is one keyed value.
type kvRecord struct {
	Bucket    string    `gorm:"primaryKey;size:64"`
	ItemKey   string    `gorm:"primaryKey;size:191"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (kvRecord) TableName() string { return "aura_kv" }

// logRecord is one stream entry.
type logRecord struct {
	Stream    string    `gorm:"primaryKey;size:191"`
	Seq       uint64    `gorm:"primaryKey;autoIncrement:false"`
	Value     []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (logRecord) TableName() string { return "aura_log" }

// GormStore is a Store backed by a SQL database through gorm. Writers within
// the process are serialized by a mutex; on postgres transactions also run
// at serializable isolation so concurrent processes cannot interleave.
type GormStore struct {
	db     *gorm.DB
	driver string
	log    *slog.Logger

	mu sync.Mutex
}

// OpenGormStore opens the database and migrates the ledger tables.
func OpenGormStore(driver, dsn string, log *slog.Logger) (*GormStore, error) {
	if log == nil {
		log = slog.Default()
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("ledger: sqlite handle: %w", err)
		}
		// SQLite has a single writer; one connection avoids busy errors.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&kvRecord{}, &logRecord{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}

	log.Debug("ledger store opened", "driver", driver)
	return &GormStore{db: db, driver: driver, log: log}, nil
}

func (s *GormStore) txOptions(readOnly bool) []*sql.TxOptions {
	if s.driver != DriverPostgres {
		return nil
	}
	return []*sql.TxOptions{{Isolation: sql.LevelSerializable, ReadOnly: readOnly}}
}

// Update implements Store.
func (s *GormStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	}, s.txOptions(false)...)
}

// View implements Store.
func (s *GormStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, readOnly: true})
	}, s.txOptions(true)...)
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db       *gorm.DB
	readOnly bool
}

func (t *gormTx) Get(bucket, key string) ([]byte, bool, error) {
	var rec kvRecord
	err := t.db.Where("bucket = ? AND item_key = ?", bucket, key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger: get %s/%s: %w", bucket, key, err)
	}
	return rec.Value, true, nil
}

func (t *gormTx) Put(bucket, key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	rec := kvRecord{Bucket: bucket, ItemKey: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("ledger: put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (t *gormTx) Append(stream string, value []byte) (uint64, error) {
	if t.readOnly {
		return 0, ErrReadOnly
	}
	var last uint64
	err := t.db.Model(&logRecord{}).
		Where("stream = ?", stream).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: append %s: %w", stream, err)
	}

	rec := logRecord{Stream: stream, Seq: last + 1, Value: value, CreatedAt: time.Now().UTC()}
	if err := t.db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("ledger: append %s: %w", stream, err)
	}
	return rec.Seq, nil
}

func (t *gormTx) Range(stream string, after uint64, fn func(uint64, []byte) error) error {
	var recs []logRecord
	err := t.db.Where("stream = ? AND seq > ?", stream, after).Order("seq").Find(&recs).Error
	if err != nil {
		return fmt.Errorf("ledger: range %s: %w", stream, err)
	}
	for _, rec := range recs {
		if err := fn(rec.Seq, rec.Value); err != nil {
			return err
		}
	}
	return nil
}
