package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Pendla/face-the-music/pkg/config"
	"github.com/Pendla/face-the-music/pkg/gallery"
	"github.com/Pendla/face-the-music/pkg/recognition"
)

func testDescriptor(seed int) recognition.Descriptor {
	var d recognition.Descriptor
	for j := range d {
		d[j] = float32(seed*128+j) / 1000.0
	}
	return d
}

func testGallery() *gallery.Gallery {
	g := gallery.New()
	g.People["john"] = []gallery.Sample{
		{Descriptor: testDescriptor(1), Source: "faces/john/1.jpg"},
		{Descriptor: testDescriptor(2), Source: "faces/john/3.jpg"},
	}
	g.People["doe"] = []gallery.Sample{
		{Descriptor: testDescriptor(3), Source: "faces/doe/1.png"},
	}
	g.Outcomes = []gallery.Outcome{
		{Person: "doe", Path: "faces/doe/1.png", Status: gallery.StatusOK},
		{Person: "john", Path: "faces/john/1.jpg", Status: gallery.StatusOK},
		{Person: "john", Path: "faces/john/2.jpg", Status: gallery.StatusMultipleFaces, Error: "multiple faces detected"},
		{Person: "john", Path: "faces/john/3.jpg", Status: gallery.StatusOK},
	}
	return g
}

// backends returns one fresh store per backend.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	tmpDir := t.TempDir()

	plain, err := NewFileStorage(filepath.Join(tmpDir, "plain"), false)
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	encrypted, err := NewFileStorage(filepath.Join(tmpDir, "encrypted"), true)
	if err != nil {
		t.Fatalf("NewFileStorage (encrypted) failed: %v", err)
	}
	sqlStore, err := NewSQLStorage(filepath.Join(tmpDir, "db", "gallery.db"))
	if err != nil {
		t.Fatalf("NewSQLStorage failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{
		"file":      plain,
		"encrypted": encrypted,
		"sqlite":    sqlStore,
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			want := testGallery()
			if err := store.SaveGallery(want); err != nil {
				t.Fatalf("SaveGallery failed: %v", err)
			}

			got, err := store.LoadGallery()
			if err != nil {
				t.Fatalf("LoadGallery failed: %v", err)
			}
			if got.ID != want.ID {
				t.Errorf("ID mismatch: got %s, want %s", got.ID, want.ID)
			}
			if !got.CreatedAt.Equal(want.CreatedAt) {
				t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, want.CreatedAt)
			}
			if !reflect.DeepEqual(got.People, want.People) {
				t.Errorf("people mismatch:\n got %v\nwant %v", got.Names(), want.Names())
			}
			if !reflect.DeepEqual(got.Outcomes, want.Outcomes) {
				t.Errorf("outcomes mismatch: got %+v", got.Outcomes)
			}
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.SaveGallery(testGallery()); err != nil {
				t.Fatal(err)
			}

			next := gallery.New()
			next.People["carol"] = []gallery.Sample{{Descriptor: testDescriptor(9), Source: "faces/carol/1.jpg"}}
			if err := store.SaveGallery(next); err != nil {
				t.Fatal(err)
			}

			people, err := store.ListPeople()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(people, []string{"carol"}) {
				t.Errorf("expected only carol, got %v", people)
			}
		})
	}
}

func TestStore_Empty(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.LoadGallery(); !errors.Is(err, ErrGalleryNotFound) {
				t.Errorf("expected ErrGalleryNotFound, got %v", err)
			}
			people, err := store.ListPeople()
			if err != nil || len(people) != 0 {
				t.Errorf("expected no people, got %v, %v", people, err)
			}
			if err := store.DeletePerson("nobody"); !errors.Is(err, ErrPersonNotFound) {
				t.Errorf("expected ErrPersonNotFound, got %v", err)
			}
		})
	}
}

func TestStore_DeletePerson(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.SaveGallery(testGallery()); err != nil {
				t.Fatal(err)
			}

			if err := store.DeletePerson("john"); err != nil {
				t.Fatalf("DeletePerson failed: %v", err)
			}
			if err := store.DeletePerson("john"); !errors.Is(err, ErrPersonNotFound) {
				t.Errorf("second delete should fail with ErrPersonNotFound, got %v", err)
			}

			g, err := store.LoadGallery()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(g.Names(), []string{"doe"}) {
				t.Errorf("expected only doe, got %v", g.Names())
			}
			if len(g.People["doe"]) != 1 {
				t.Errorf("doe samples should survive, got %d", len(g.People["doe"]))
			}
		})
	}
}

func TestFileStorage_Paths(t *testing.T) {
	tmpDir := t.TempDir()
	plain, _ := NewFileStorage(tmpDir, false)
	encrypted, _ := NewFileStorage(tmpDir, true)

	if filepath.Base(plain.Path()) != "gallery.json" {
		t.Errorf("unexpected plain path %s", plain.Path())
	}
	if filepath.Base(encrypted.Path()) != "gallery.enc" {
		t.Errorf("unexpected encrypted path %s", encrypted.Path())
	}

	if err := encrypted.SaveGallery(testGallery()); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(encrypted.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "john") {
		t.Error("encrypted gallery should not contain plaintext names")
	}
	if _, err := os.Stat(encrypted.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should be renamed away")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), true)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	plaintext := []byte("This is a test message for encryption")

	ciphertext, err := fs.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if string(ciphertext) == string(plaintext) {
		t.Error("ciphertext should differ from plaintext")
	}

	decrypted, err := fs.decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("decrypted text doesn't match: got %s, want %s", string(decrypted), string(plaintext))
	}
}

func TestDecrypt_InvalidData(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), true)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if _, err := fs.decrypt([]byte("short")); err != ErrEncryption {
		t.Errorf("expected ErrEncryption for short data, got %v", err)
	}
	if _, err := fs.decrypt(make([]byte, 100)); err != ErrEncryption {
		t.Errorf("expected ErrEncryption for invalid data, got %v", err)
	}
}

func TestDescriptorEncoding(t *testing.T) {
	d := testDescriptor(5)
	got, err := decodeDescriptor(encodeDescriptor(d))
	if err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Error("descriptor changed after encode/decode")
	}
	if _, err := decodeDescriptor([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated descriptor")
	}
}

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		want    string
		wantErr bool
	}{
		{"file", config.StorageConfig{Backend: "file", DataDir: filepath.Join(tmpDir, "f")}, "*storage.FileStorage", false},
		{"sqlite", config.StorageConfig{Backend: "sqlite", SQLitePath: filepath.Join(tmpDir, "s", "g.db")}, "*storage.SQLStorage", false},
		{"unknown", config.StorageConfig{Backend: "redis"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer store.Close()
			if got := reflect.TypeOf(store).String(); got != tt.want {
				t.Errorf("Open() returned %s, want %s", got, tt.want)
			}
		})
	}
}

func BenchmarkFileStorage_SaveGallery(b *testing.B) {
	fs, _ := NewFileStorage(b.TempDir(), false)
	g := testGallery()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = fs.SaveGallery(g)
	}
}

func BenchmarkEncryptDecrypt(b *testing.B) {
	fs, _ := NewFileStorage(b.TempDir(), true)
	data := []byte("benchmark encryption data that is reasonably sized")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encrypted, _ := fs.encrypt(data)
		_, _ = fs.decrypt(encrypted)
	}
}
