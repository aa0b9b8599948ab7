// Package gallery builds per-person descriptor lists from grouped images.
// Each image contributes at most one descriptor: images where detection
// finds no face or several faces are skipped and recorded as outcomes.
package gallery

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Pendla/face-the-music/pkg/logging"
	"github.com/Pendla/face-the-music/pkg/recognition"
	"github.com/Pendla/face-the-music/pkg/scanner"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Status is the result of processing one image.
type Status string

const (
	StatusOK            Status = "ok"
	StatusNoFace        Status = "no_face"
	StatusMultipleFaces Status = "multiple_faces"
	StatusError         Status = "error"
)

// Extractor yields the descriptor of the single face in an image file.
// It returns recognition.ErrNoFaceDetected or recognition.ErrMultipleFaces
// for images that should be skipped.
type Extractor interface {
	ExtractFile(path string) (recognition.Descriptor, error)
}

// Sample is one image's descriptor.
type Sample struct {
	Descriptor recognition.Descriptor `json:"descriptor"`
	Source     string                 `json:"source"`
}

// Outcome records what happened to one image.
type Outcome struct {
	Person string `json:"person"`
	Path   string `json:"path"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Stats summarises a build.
type Stats struct {
	People        int `json:"people"`
	Images        int `json:"images"`
	Indexed       int `json:"indexed"`
	NoFace        int `json:"no_face"`
	MultipleFaces int `json:"multiple_faces"`
	Errors        int `json:"errors"`
}

// Gallery holds descriptors per person.
type Gallery struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	People    map[string][]Sample `json:"people"`
	Outcomes  []Outcome           `json:"outcomes,omitempty"`
}

// New returns an empty gallery with a fresh ID.
func New() *Gallery {
	return &Gallery{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		People:    make(map[string][]Sample),
	}
}

// Names returns the people in the gallery, sorted.
func (g *Gallery) Names() []string {
	names := make([]string, 0, len(g.People))
	for n := range g.People {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the descriptors kept for person in image order.
func (g *Gallery) Descriptors(person string) []recognition.Descriptor {
	samples := g.People[person]
	out := make([]recognition.Descriptor, len(samples))
	for i, s := range samples {
		out[i] = s.Descriptor
	}
	return out
}

// Remove deletes person from the gallery and reports whether it was present.
func (g *Gallery) Remove(person string) bool {
	if _, ok := g.People[person]; !ok {
		return false
	}
	delete(g.People, person)
	return true
}

// Stats counts outcomes by status.
func (g *Gallery) Stats() Stats {
	s := Stats{People: len(g.People), Images: len(g.Outcomes)}
	for _, o := range g.Outcomes {
		switch o.Status {
		case StatusOK:
			s.Indexed++
		case StatusNoFace:
			s.NoFace++
		case StatusMultipleFaces:
			s.MultipleFaces++
		default:
			s.Errors++
		}
	}
	return s
}

// Identify finds the person whose sample is closest to d.
// ok is false when the gallery is empty or the closest sample is further
// than tolerance; person and distance still describe the closest sample.
func (g *Gallery) Identify(d recognition.Descriptor, tolerance float64) (person string, distance float64, ok bool) {
	var (
		owners []string
		all    []recognition.Descriptor
	)
	for _, name := range g.Names() {
		for _, s := range g.People[name] {
			owners = append(owners, name)
			all = append(all, s.Descriptor)
		}
	}

	idx, dist, match := recognition.FindBestMatch(d, all, tolerance)
	if idx < 0 {
		return "", dist, false
	}
	return owners[idx], dist, match
}

// Builder extracts descriptors for scanned image groups.
type Builder struct {
	Extractor Extractor
	// Workers bounds concurrent extractions. <= 0 uses runtime.NumCPU().
	Workers int
	// OnProgress, if set, is called once per image. Calls are serialized.
	OnProgress func(Outcome)
}

type job struct {
	person string
	path   string
}

// Build extracts one descriptor per image in groups. Images with zero or
// multiple faces, or that fail to load, are skipped. Per person the kept
// descriptors follow the order of that person's paths. Build only fails when
// ctx is cancelled.
func (b *Builder) Build(ctx context.Context, groups scanner.Groups) (*Gallery, error) {
	var jobs []job
	for _, person := range groups.People() {
		for _, path := range groups[person] {
			jobs = append(jobs, job{person: person, path: path})
		}
	}

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	log := logging.Component("gallery")
	log.WithFields(logging.Fields{
		"people":  len(groups),
		"images":  len(jobs),
		"workers": workers,
	}).Info("Building gallery")

	outcomes := make([]Outcome, len(jobs))
	descriptors := make([]recognition.Descriptor, len(jobs))
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			d, err := b.Extractor.ExtractFile(j.path)
			outcome := Outcome{Person: j.person, Path: j.path, Status: classify(err)}
			if err != nil {
				outcome.Error = err.Error()
				log.WithFields(logging.Fields{
					"person": j.person,
					"path":   j.path,
					"status": outcome.Status,
				}).WithError(err).Warn("Skipping image")
			} else {
				descriptors[i] = d
			}
			outcomes[i] = outcome

			if b.OnProgress != nil {
				progressMu.Lock()
				b.OnProgress(outcome)
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gal := New()
	gal.Outcomes = outcomes
	for i, o := range outcomes {
		if o.Status != StatusOK {
			continue
		}
		gal.People[o.Person] = append(gal.People[o.Person], Sample{
			Descriptor: descriptors[i],
			Source:     o.Path,
		})
	}

	stats := gal.Stats()
	log.WithFields(logging.Fields{
		"id":             gal.ID,
		"people":         stats.People,
		"indexed":        stats.Indexed,
		"no_face":        stats.NoFace,
		"multiple_faces": stats.MultipleFaces,
		"errors":         stats.Errors,
	}).Info("Gallery built")
	return gal, nil
}

func classify(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, recognition.ErrNoFaceDetected):
		return StatusNoFace
	case errors.Is(err, recognition.ErrMultipleFaces):
		return StatusMultipleFaces
	default:
		return StatusError
	}
}
