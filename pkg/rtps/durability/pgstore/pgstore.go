// Package pgstore is the shared-Postgres durability.Store alternative
// to badgerstore, for deployments that already run a database and want
// durable changes queryable alongside other operational data. The
// connection-pool tuning knobs and AutoMigrate-as-an-explicit-opt-in
// follow marmos91-dittofs's
// pkg/store/metadata/postgres.PostgresMetadataStoreConfig; the actual
// client is gorm over the postgres driver (which itself runs on
// jackc/pgx/v5), reused here for its struct-tag migrations and
// upsert clause support rather than hand-rolling SQL.
package pgstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/durability"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// Config holds Postgres connection parameters, following the teacher's
// conservative connection-pool defaults.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate runs schema migration on Open. Off by default so
	// operators can run migrations out of band in production.
	AutoMigrate bool
}

func (c *Config) applyDefaults() {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 3
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// changeRecord is the row shape backing a CacheChange.
type changeRecord struct {
	WriterGUID    string `gorm:"primaryKey;size:32;column:writer_guid"`
	SN            int64  `gorm:"primaryKey;column:sn"`
	Kind          int
	Instance      []byte
	SourceTime    time.Time
	InlineQoS     []byte
	Payload       []byte
	FragmentSize  uint32
	FragmentCount uint32
}

func (changeRecord) TableName() string { return "rtps_cache_changes" }

// Store is a gorm/Postgres-backed durability.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and optionally runs AutoMigrate.
func Open(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("pgstore: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&changeRecord{}); err != nil {
			return nil, fmt.Errorf("pgstore: auto-migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func toHex(b [16]byte) string { return hex.EncodeToString(b[:]) }

func (s *Store) Put(ctx context.Context, c *change.CacheChange) error {
	rec := changeRecord{
		WriterGUID:    toHex(c.WriterGUID.Bytes()),
		SN:            int64(c.SN),
		Kind:          int(c.Kind),
		Instance:      append([]byte(nil), c.Instance[:]...),
		SourceTime:    c.SourceTime,
		InlineQoS:     c.InlineQoS,
		Payload:       c.Payload,
		FragmentSize:  c.FragmentSize,
		FragmentCount: c.FragmentCount,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "writer_guid"}, {Name: "sn"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *Store) Get(ctx context.Context, writer guid.GUID, sn seqnum.SequenceNumber) (*change.CacheChange, error) {
	var rec changeRecord
	err := s.db.WithContext(ctx).
		Where("writer_guid = ? AND sn = ?", toHex(writer.Bytes()), int64(sn)).
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, durability.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get: %w", err)
	}
	return fromRecord(rec), nil
}

func (s *Store) Remove(ctx context.Context, writer guid.GUID, sn seqnum.SequenceNumber) error {
	return s.db.WithContext(ctx).
		Where("writer_guid = ? AND sn = ?", toHex(writer.Bytes()), int64(sn)).
		Delete(&changeRecord{}).Error
}

func (s *Store) Iterate(ctx context.Context, writer guid.GUID, fn func(*change.CacheChange) bool) error {
	rows, err := s.db.WithContext(ctx).
		Where("writer_guid = ?", toHex(writer.Bytes())).
		Order("sn asc").
		Rows()
	if err != nil {
		return fmt.Errorf("pgstore: iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec changeRecord
		if err := s.db.ScanRows(rows, &rec); err != nil {
			return fmt.Errorf("pgstore: scan row: %w", err)
		}
		if !fn(fromRecord(rec)) {
			return nil
		}
	}
	return rows.Err()
}

func fromRecord(rec changeRecord) *change.CacheChange {
	var instance [16]byte
	copy(instance[:], rec.Instance)
	wb, _ := parseHex16(rec.WriterGUID)
	return &change.CacheChange{
		WriterGUID:    guid.FromBytes(wb),
		SN:            seqnum.SequenceNumber(rec.SN),
		Kind:          change.Kind(rec.Kind),
		Instance:      instance,
		SourceTime:    rec.SourceTime,
		InlineQoS:     rec.InlineQoS,
		Payload:       rec.Payload,
		FragmentSize:  rec.FragmentSize,
		FragmentCount: rec.FragmentCount,
	}
}

func parseHex16(s string) ([16]byte, error) {
	var out [16]byte
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("pgstore: bad guid hex: %w", err)
	}
	if len(decoded) != 16 {
		return out, fmt.Errorf("pgstore: bad guid hex length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ durability.Store = (*Store)(nil)
