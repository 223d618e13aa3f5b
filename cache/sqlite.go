package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DBPoint is one row of a persisted series.
type DBPoint struct {
	ID        uint      `gorm:"primaryKey"`
	SeriesKey string    `gorm:"size:256;not null;uniqueIndex:idx_series_at"`
	At        time.Time `gorm:"not null;uniqueIndex:idx_series_at"`
	Value     float64
}

func (DBPoint) TableName() string { return "series_points" }

// DBDocument is a persisted JSON document.
type DBDocument struct {
	DocKey    string `gorm:"primaryKey;size:256"`
	Body      []byte
	UpdatedAt time.Time
}

func (DBDocument) TableName() string { return "documents" }

// SQLite is a Store persisted to a local SQLite database.
type SQLite struct {
	db     *gorm.DB
	logger *logrus.Logger
	initMu sync.Mutex
}

// NewSQLite opens (and migrates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&DBPoint{}, &DBDocument{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Series(ctx context.Context, key string) (*Series, error) {
	var rows []DBPoint
	result := s.db.WithContext(ctx).
		Where("series_key = ?", key).
		Order("at ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get series: %w", result.Error)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	points := make([]Point, len(rows))
	for i, r := range rows {
		points[i] = Point{At: r.At, Value: r.Value}
	}
	return NewSeries(points...), nil
}

func (s *SQLite) Append(ctx context.Context, key string, at time.Time, value float64) error {
	row := DBPoint{SeriesKey: key, At: at.UTC(), Value: value}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "series_key"}, {Name: "at"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to append point: %w", result.Error)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, key string, dst any) error {
	var doc DBDocument
	err := s.db.WithContext(ctx).Where("doc_key = ?", key).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	return decode(doc.Body, dst)
}

func (s *SQLite) Save(ctx context.Context, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&DBDocument{DocKey: key, Body: data}).Error; err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *SQLite) GetOrInit(ctx context.Context, key string, dst any, init func() (any, error)) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	err := s.Load(ctx, key, dst)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	v, err := init()
	if err != nil {
		return err
	}
	s.logger.WithField("key", key).Info("Seeding missing document")
	if err := s.Save(ctx, key, v); err != nil {
		return err
	}
	return s.Load(ctx, key, dst)
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
