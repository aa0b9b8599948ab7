// Package storage persists galleries between runs.
// The file backend keeps one JSON document, optionally encrypted at rest
// with NaCl secretbox. The sqlite backend stores people and samples as rows.
package storage

import (
	"errors"
	"fmt"

	"github.com/Pendla/face-the-music/pkg/config"
	"github.com/Pendla/face-the-music/pkg/gallery"
)

// ErrGalleryNotFound is returned when nothing has been indexed yet.
var ErrGalleryNotFound = errors.New("gallery not found")

// ErrPersonNotFound is returned when the person is not in the gallery.
var ErrPersonNotFound = errors.New("person not found")

// ErrStorageAccess is returned when storage cannot be accessed.
var ErrStorageAccess = errors.New("failed to access storage")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// Store persists a single gallery. SaveGallery replaces whatever was stored.
type Store interface {
	SaveGallery(g *gallery.Gallery) error
	LoadGallery() (*gallery.Gallery, error)
	ListPeople() ([]string, error)
	DeletePerson(name string) error
	Close() error
}

// Open returns the backend selected by cfg.Backend.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStorage(cfg.DataDir, cfg.EncryptionEnabled)
	case "sqlite":
		return NewSQLStorage(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
