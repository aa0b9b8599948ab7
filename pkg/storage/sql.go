package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Pendla/face-the-music/pkg/gallery"
	"github.com/Pendla/face-the-music/pkg/logging"
	"github.com/Pendla/face-the-music/pkg/recognition"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type snapshotRow struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	Outcomes  string
}

func (snapshotRow) TableName() string { return "snapshots" }

type personRow struct {
	ID      uint        `gorm:"primaryKey"`
	Name    string      `gorm:"uniqueIndex;not null"`
	Samples []sampleRow `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE"`
}

func (personRow) TableName() string { return "people" }

type sampleRow struct {
	ID         uint `gorm:"primaryKey"`
	PersonID   uint `gorm:"index;not null"`
	Position   int
	Source     string
	Descriptor []byte
}

func (sampleRow) TableName() string { return "samples" }

// SQLStorage keeps the gallery in a sqlite database through gorm.
type SQLStorage struct {
	db *gorm.DB
}

// NewSQLStorage opens (creating if needed) the sqlite database at path.
func NewSQLStorage(path string) (*SQLStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.New(logging.Logger, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	if err := db.AutoMigrate(&snapshotRow{}, &personRow{}, &sampleRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logging.Component("storage").WithField("path", path).Debug("Opened sqlite gallery store")
	return &SQLStorage{db: db}, nil
}

// SaveGallery replaces the stored gallery with g in one transaction.
func (s *SQLStorage) SaveGallery(g *gallery.Gallery) error {
	outcomes, err := json.Marshal(g.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&sampleRow{}, &personRow{}, &snapshotRow{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}

		if err := tx.Create(&snapshotRow{ID: g.ID, CreatedAt: g.CreatedAt, Outcomes: string(outcomes)}).Error; err != nil {
			return err
		}

		for _, name := range g.Names() {
			p := personRow{Name: name}
			for i, sample := range g.People[name] {
				p.Samples = append(p.Samples, sampleRow{
					Position:   i,
					Source:     sample.Source,
					Descriptor: encodeDescriptor(sample.Descriptor),
				})
			}
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("failed to save %s: %w", name, err)
			}
		}
		return nil
	})
}

// LoadGallery reads the stored gallery.
func (s *SQLStorage) LoadGallery() (*gallery.Gallery, error) {
	var snap snapshotRow
	if err := s.db.First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGalleryNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	g := &gallery.Gallery{
		ID:        snap.ID,
		CreatedAt: snap.CreatedAt,
		People:    make(map[string][]gallery.Sample),
	}
	if snap.Outcomes != "" {
		if err := json.Unmarshal([]byte(snap.Outcomes), &g.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
		}
	}

	var people []personRow
	err := s.db.Preload("Samples", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Order("name").Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	for _, p := range people {
		samples := make([]gallery.Sample, 0, len(p.Samples))
		for _, row := range p.Samples {
			d, err := decodeDescriptor(row.Descriptor)
			if err != nil {
				return nil, fmt.Errorf("sample %d of %s: %w", row.ID, p.Name, err)
			}
			samples = append(samples, gallery.Sample{Descriptor: d, Source: row.Source})
		}
		g.People[p.Name] = samples
	}
	return g, nil
}

// ListPeople returns the stored people, sorted.
func (s *SQLStorage) ListPeople() ([]string, error) {
	names := []string{}
	if err := s.db.Model(&personRow{}).Order("name").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	return names, nil
}

// DeletePerson removes name and its samples.
func (s *SQLStorage) DeletePerson(name string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var p personRow
		if err := tx.Where("name = ?", name).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPersonNotFound
			}
			return err
		}
		if err := tx.Where("person_id = ?", p.ID).Delete(&sampleRow{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&p).Error; err != nil {
			return err
		}
		logging.Infof("Deleted face data for: %s", name)
		return nil
	})
}

// Close closes the underlying database handle.
func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeDescriptor(d recognition.Descriptor) []byte {
	buf := make([]byte, 4*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeDescriptor(b []byte) (recognition.Descriptor, error) {
	var d recognition.Descriptor
	if len(b) != 4*len(d) {
		return d, fmt.Errorf("descriptor has %d bytes, want %d", len(b), 4*len(d))
	}
	for i := range d {
		d[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return d, nil
}
