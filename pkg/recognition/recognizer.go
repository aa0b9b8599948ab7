// Package recognition wraps dlib (through go-face) for face detection and
// descriptor extraction, and implements descriptor comparison.
package recognition

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/Pendla/face-the-music/pkg/logging"
)

// DefaultTolerance is the largest descriptor distance still treated as the
// same person. 0.6 is the threshold dlib's ResNet model was tuned for.
const DefaultTolerance = 0.6

// Detector selects the dlib face detector.
type Detector string

const (
	// DetectorHOG is dlib's frontal face detector. Fast, CPU friendly.
	DetectorHOG Detector = "hog"
	// DetectorCNN is the mmod CNN detector. Needs mmod_human_face_detector.dat.
	DetectorCNN Detector = "cnn"
)

// Face represents a detected face in an image.
type Face struct {
	BoundingBox Rectangle  `json:"bounding_box"`
	Descriptor  Descriptor `json:"-"`
}

// Rectangle represents a bounding box.
type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// FaceEngine is the subset of *face.Recognizer the recognizer uses.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

// EngineFactory creates a FaceEngine from a model directory.
type EngineFactory func(modelPath string) (FaceEngine, error)

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when multiple faces are detected.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// DlibRecognizer implements face recognition using dlib via go-face.
type DlibRecognizer struct {
	engine    FaceEngine
	factory   EngineFactory
	modelPath string
	loaded    bool
	detector  Detector
	tolerance float64
	mu        sync.RWMutex

	// dlib's recognizer keeps per-call state; calls into it are serialized.
	engineMu sync.Mutex
}

func dlibFactory(modelPath string) (FaceEngine, error) {
	return face.NewRecognizer(modelPath)
}

// NewRecognizer creates a new DlibRecognizer using the HOG detector and
// DefaultTolerance.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory:   dlibFactory,
		detector:  DetectorHOG,
		tolerance: DefaultTolerance,
	}
}

// SetTolerance sets the tolerance for face matching.
// Lower values are more strict (fewer false positives).
func (r *DlibRecognizer) SetTolerance(tolerance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tolerance = tolerance
}

// Tolerance returns the configured match tolerance.
func (r *DlibRecognizer) Tolerance() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tolerance
}

// SetDetector selects the HOG or CNN detector.
func (r *DlibRecognizer) SetDetector(d Detector) error {
	if d != DetectorHOG && d != DetectorCNN {
		return fmt.Errorf("unknown detector %q", d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector = d
	return nil
}

// LoadModels loads the dlib face recognition models from the specified path.
// The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat (only for the CNN detector)
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engineMu.Lock()
		r.engine.Close()
		r.engineMu.Unlock()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// DetectFaces detects all faces in a JPEG image.
// Returns ErrNoFaceDetected when the image has no faces.
func (r *DlibRecognizer) DetectFaces(imageData []byte) ([]Face, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	r.engineMu.Lock()
	var faces []face.Face
	var err error
	if r.detector == DetectorCNN {
		faces, err = r.engine.RecognizeCNN(imageData)
	} else {
		faces, err = r.engine.Recognize(imageData)
	}
	r.engineMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		rect := f.Rectangle
		result[i] = Face{
			BoundingBox: Rectangle{
				X:      rect.Min.X,
				Y:      rect.Min.Y,
				Width:  rect.Dx(),
				Height: rect.Dy(),
			},
			Descriptor: f.Descriptor,
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// DetectSingleFace detects exactly one face in the image.
// Returns an error if no face or multiple faces are detected.
func (r *DlibRecognizer) DetectSingleFace(imageData []byte) (*Face, error) {
	faces, err := r.DetectFaces(imageData)
	if err != nil {
		return nil, err
	}

	if len(faces) > 1 {
		return nil, ErrMultipleFaces
	}

	return &faces[0], nil
}

// Match reports whether two descriptors are within the configured tolerance.
func (r *DlibRecognizer) Match(d1, d2 Descriptor) bool {
	return EuclideanDistance(d1, d2) <= r.Tolerance()
}

// FindBestMatch finds the closest descriptor in gallery.
// Returns the index of the best match, the distance, and whether it's within
// tolerance. An empty gallery yields -1.
func (r *DlibRecognizer) FindBestMatch(probe Descriptor, gallery []Descriptor) (int, float64, bool) {
	return FindBestMatch(probe, gallery, r.Tolerance())
}

// FindBestMatch is the tolerance-explicit form of DlibRecognizer.FindBestMatch.
func FindBestMatch(probe Descriptor, gallery []Descriptor, tolerance float64) (int, float64, bool) {
	if len(gallery) == 0 {
		return -1, math.MaxFloat64, false
	}

	bestIdx := 0
	bestDist := math.MaxFloat64
	for i, d := range gallery {
		if dist := EuclideanDistance(probe, d); dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	return bestIdx, bestDist, bestDist <= tolerance
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// FaceDistances returns the distance from candidate to each known descriptor.
func FaceDistances(known []Descriptor, candidate Descriptor) []float64 {
	out := make([]float64, len(known))
	for i, k := range known {
		out[i] = EuclideanDistance(k, candidate)
	}
	return out
}

// CompareFaces reports, for each known descriptor, whether candidate is within
// tolerance of it.
func CompareFaces(known []Descriptor, candidate Descriptor, tolerance float64) []bool {
	out := make([]bool, len(known))
	for i, dist := range FaceDistances(known, candidate) {
		out[i] = dist <= tolerance
	}
	return out
}

// AverageDescriptor computes the element-wise mean of descriptors.
// Useful as a per-person centroid.
func AverageDescriptor(descriptors []Descriptor) Descriptor {
	var avg Descriptor
	if len(descriptors) == 0 {
		return avg
	}

	for _, d := range descriptors {
		for i, v := range d {
			avg[i] += v
		}
	}

	count := float32(len(descriptors))
	for i := range avg {
		avg[i] /= count
	}
	return avg
}
