package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a conversion id does not exist.
var ErrNotFound = errors.New("conversion not found")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Conversion{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveConversion inserts a conversion row.
func (d *Database) SaveConversion(c *Conversion) error {
	if c == nil {
		return errors.New("conversion is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(c).Error
}

// GetConversion loads one conversion by id.
func (d *Database) GetConversion(id uint) (*Conversion, error) {
	var row Conversion
	if err := d.gorm.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// ListConversions returns the newest conversions first along with the total count.
func (d *Database) ListConversions(offset, limit int) ([]Conversion, int64, error) {
	var total int64
	if err := d.gorm.Model(&Conversion{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Order("created_at DESC").Order("id DESC")
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []Conversion
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// LatestByInputKey returns the most recent conversion stored for the input key.
func (d *Database) LatestByInputKey(key string) (*Conversion, error) {
	var row Conversion
	err := d.gorm.Where("input_key = ?", key).Order("id DESC").Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, ErrNotFound
	}
	return &row, nil
}

// CountConversions returns the number of stored conversions.
func (d *Database) CountConversions() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Conversion{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteConversion removes one conversion.
func (d *Database) DeleteConversion(id uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Delete(&Conversion{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearConversions removes the whole history and reports how many rows went.
func (d *Database) ClearConversions() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Conversion{})
	return res.RowsAffected, res.Error
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_conversions_input_key_id ON conversions(input_key, id)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
