// Package compare checks whether the faces in one image belong to the
// person shown in another.
package compare

import (
	"errors"
	"fmt"
	"io"

	"github.com/Pendla/face-the-music/pkg/recognition"
)

// FaceSource returns every face detected in an image file.
type FaceSource interface {
	Faces(path string) ([]recognition.Face, error)
}

// FaceResult is the comparison of one candidate face against all known faces.
type FaceResult struct {
	Index        int                   `json:"index"`
	BoundingBox  recognition.Rectangle `json:"bounding_box"`
	Distances    []float64             `json:"distances"`
	Matches      []bool                `json:"matches"`
	BestKnown    int                   `json:"best_known"`
	BestDistance float64               `json:"best_distance"`
	Match        bool                  `json:"match"`
}

// Report is the outcome of comparing a candidate image with a known image.
type Report struct {
	Known      string                  `json:"known"`
	Candidate  string                  `json:"candidate"`
	Tolerance  float64                 `json:"tolerance"`
	KnownFaces []recognition.Rectangle `json:"known_faces"`
	Faces      []FaceResult            `json:"faces"`
}

// Matched reports whether any candidate face matched a known face.
func (r *Report) Matched() bool {
	for _, f := range r.Faces {
		if f.Match {
			return true
		}
	}
	return false
}

// Compare detects faces in both images and compares every candidate face
// with every known face. Either image having no face is an error wrapping
// recognition.ErrNoFaceDetected.
func Compare(src FaceSource, knownPath, candidatePath string, tolerance float64) (*Report, error) {
	knownFaces, err := loadFaces(src, "known", knownPath)
	if err != nil {
		return nil, err
	}
	candidateFaces, err := loadFaces(src, "candidate", candidatePath)
	if err != nil {
		return nil, err
	}

	known := make([]recognition.Descriptor, len(knownFaces))
	report := &Report{
		Known:      knownPath,
		Candidate:  candidatePath,
		Tolerance:  tolerance,
		KnownFaces: make([]recognition.Rectangle, len(knownFaces)),
	}
	for i, f := range knownFaces {
		known[i] = f.Descriptor
		report.KnownFaces[i] = f.BoundingBox
	}

	for i, f := range candidateFaces {
		best, dist, _ := recognition.FindBestMatch(f.Descriptor, known, tolerance)
		res := FaceResult{
			Index:        i + 1,
			BoundingBox:  f.BoundingBox,
			Distances:    recognition.FaceDistances(known, f.Descriptor),
			Matches:      recognition.CompareFaces(known, f.Descriptor, tolerance),
			BestKnown:    best + 1,
			BestDistance: dist,
		}
		for _, m := range res.Matches {
			res.Match = res.Match || m
		}
		report.Faces = append(report.Faces, res)
	}

	return report, nil
}

func loadFaces(src FaceSource, role, path string) ([]recognition.Face, error) {
	faces, err := src.Faces(path)
	if err == nil && len(faces) == 0 {
		err = recognition.ErrNoFaceDetected
	}
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			return nil, fmt.Errorf("%s image %s: %w", role, path, err)
		}
		return nil, fmt.Errorf("failed to read %s image %s: %w", role, path, err)
	}
	return faces, nil
}

// Write prints the report as text, one line per candidate face.
func (r *Report) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Comparing %d face(s) in %s against %d known face(s) in %s (tolerance %.2f)\n",
		len(r.Faces), r.Candidate, len(r.KnownFaces), r.Known, r.Tolerance); err != nil {
		return err
	}
	for _, f := range r.Faces {
		b := f.BoundingBox
		verdict := "no match"
		if f.Match {
			verdict = "match"
		}
		if _, err := fmt.Fprintf(w, "  Face %d at (%d,%d %dx%d): %s (closest known face %d, distance %.3f)\n",
			f.Index, b.X, b.Y, b.Width, b.Height, verdict, f.BestKnown, f.BestDistance); err != nil {
			return err
		}
	}
	return nil
}
