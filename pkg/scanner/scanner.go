// Package scanner groups labeled face images by person.
//
// The expected layout is one sub-folder per person, named after that
// person's identifier:
//
//	faces/
//	    john/1.jpg
//	    john/2.png
//	    doe/1.png
//	    doe/3.jpeg
//
// which groups as {"john": [faces/john/1.jpg, faces/john/2.png],
// "doe": [faces/doe/1.png, faces/doe/3.jpeg]}.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Pendla/face-the-music/pkg/logging"
)

// DefaultFormats are the image extensions scanned when none are given.
var DefaultFormats = []string{"jpg", "jpeg", "png"}

// ErrNotDirectory is returned when the scan root is missing or not a directory.
var ErrNotDirectory = errors.New("scan root is not a directory")

// Groups maps a person identifier to the image paths found for that person.
// Paths share the base of the scanned root.
type Groups map[string][]string

// People returns the identifiers in sorted order.
func (g Groups) People() []string {
	people := make([]string, 0, len(g))
	for p := range g {
		people = append(people, p)
	}
	sort.Strings(people)
	return people
}

// Count returns the total number of images across all people.
func (g Groups) Count() int {
	n := 0
	for _, paths := range g {
		n += len(paths)
	}
	return n
}

// FindImagesByPerson walks root and groups supported image files by the
// name of the directory that contains them. Directories sharing a name
// merge into one group. formats lists accepted extensions with or without
// the leading dot; nil selects DefaultFormats.
func FindImagesByPerson(root string, formats []string) (Groups, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
		}
		return nil, fmt.Errorf("failed to stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	if formats == nil {
		formats = DefaultFormats
	}
	accept := extensionSet(formats)
	log := logging.Component("scanner")

	result := make(Groups)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !accept[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		dir := filepath.Dir(path)
		identifier := filepath.Base(dir)
		result[identifier] = append(result[identifier], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	log.WithFields(logging.Fields{
		"root":   root,
		"people": len(result),
		"images": result.Count(),
	}).Debug("Scan complete")
	return result, nil
}

func extensionSet(formats []string) map[string]bool {
	set := make(map[string]bool, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		set[f] = true
	}
	return set
}
