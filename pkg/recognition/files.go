package recognition

import (
	"github.com/Pendla/face-the-music/pkg/imageprep"
)

// FileSource runs detection on image files of any format imageprep accepts.
type FileSource struct {
	Recognizer *DlibRecognizer
	// MaxDimension bounds the longest image side passed to dlib. 0 disables.
	MaxDimension int
}

// Faces returns every face in the image at path. Bounding boxes are in the
// original image's coordinates.
func (s FileSource) Faces(path string) ([]Face, error) {
	img, err := imageprep.PrepareFile(path, s.MaxDimension)
	if err != nil {
		return nil, err
	}

	faces, err := s.Recognizer.DetectFaces(img.Data)
	if err != nil {
		return nil, err
	}

	if img.Scale != 1 {
		for i := range faces {
			b := &faces[i].BoundingBox
			b.X = int(float64(b.X) / img.Scale)
			b.Y = int(float64(b.Y) / img.Scale)
			b.Width = int(float64(b.Width) / img.Scale)
			b.Height = int(float64(b.Height) / img.Scale)
		}
	}
	return faces, nil
}

// ExtractFile returns the descriptor of the single face in the image at path.
// Images with no face or several faces yield ErrNoFaceDetected or
// ErrMultipleFaces.
func (s FileSource) ExtractFile(path string) (Descriptor, error) {
	faces, err := s.Faces(path)
	if err != nil {
		return Descriptor{}, err
	}
	if len(faces) > 1 {
		return Descriptor{}, ErrMultipleFaces
	}
	return faces[0].Descriptor, nil
}
