package recognition

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Kagami/go-face"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = color.Gray{Y: 128}.Y
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "face.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSource_FacesScalesBoxesBack(t *testing.T) {
	r := loadedRecognizer(t, &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
				t.Error("engine should receive jpeg data")
			}
			return []face.Face{{Rectangle: image.Rect(10, 10, 30, 40)}}, nil
		},
	})
	src := FileSource{Recognizer: r, MaxDimension: 100}

	faces, err := src.Faces(writePNG(t, 400, 200))
	if err != nil {
		t.Fatalf("Faces failed: %v", err)
	}
	want := Rectangle{X: 40, Y: 40, Width: 80, Height: 120}
	if faces[0].BoundingBox != want {
		t.Errorf("expected %+v, got %+v", want, faces[0].BoundingBox)
	}
}

func TestFileSource_ExtractFile(t *testing.T) {
	path := writePNG(t, 20, 20)

	tests := []struct {
		name    string
		faces   []face.Face
		wantErr error
	}{
		{"single face", []face.Face{{Descriptor: face.Descriptor{7}}}, nil},
		{"no face", nil, ErrNoFaceDetected},
		{"two faces", []face.Face{{}, {}}, ErrMultipleFaces},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := loadedRecognizer(t, &MockFaceEngine{
				RecognizeFunc: func(data []byte) ([]face.Face, error) { return tt.faces, nil },
			})
			d, err := FileSource{Recognizer: r}.ExtractFile(path)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if err == nil && d[0] != 7 {
				t.Errorf("unexpected descriptor %v", d[:1])
			}
		})
	}
}
