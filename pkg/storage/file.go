package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Pendla/face-the-music/pkg/gallery"
	"github.com/Pendla/face-the-music/pkg/logging"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// FileStorage keeps the gallery in a single file under dataDir.
type FileStorage struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStorage creates a new FileStorage instance.
func NewFileStorage(dataDir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		fs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information,
// tying the stored gallery to this machine and user.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("face-the-music-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

// Path returns the gallery file location.
func (fs *FileStorage) Path() string {
	name := "gallery.json"
	if fs.encryptionEnabled {
		name = "gallery.enc"
	}
	return filepath.Join(fs.dataDir, name)
}

// SaveGallery writes g, replacing any previous gallery.
func (fs *FileStorage) SaveGallery(g *gallery.Gallery) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal gallery: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt gallery: %w", err)
		}
	}

	path := fs.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	logging.Debugf("Saved gallery %s with %d people", g.ID, len(g.People))
	return nil
}

// LoadGallery reads the stored gallery.
func (fs *FileStorage) LoadGallery() (*gallery.Gallery, error) {
	data, err := os.ReadFile(fs.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrGalleryNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt gallery: %w", err)
		}
	}

	var g gallery.Gallery
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gallery: %w", err)
	}
	if g.People == nil {
		g.People = make(map[string][]gallery.Sample)
	}

	logging.Debugf("Loaded gallery %s", g.ID)
	return &g, nil
}

// ListPeople returns the stored people, sorted. No gallery means no people.
func (fs *FileStorage) ListPeople() ([]string, error) {
	g, err := fs.LoadGallery()
	if err == ErrGalleryNotFound {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return g.Names(), nil
}

// DeletePerson removes name and its descriptors from the stored gallery.
func (fs *FileStorage) DeletePerson(name string) error {
	g, err := fs.LoadGallery()
	if err == ErrGalleryNotFound {
		return ErrPersonNotFound
	}
	if err != nil {
		return err
	}

	if !g.Remove(name) {
		return ErrPersonNotFound
	}
	if err := fs.SaveGallery(g); err != nil {
		return err
	}

	logging.Infof("Deleted face data for: %s", name)
	return nil
}

// Close is a no-op for file storage.
func (fs *FileStorage) Close() error {
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
