package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Pendla/face-the-music/pkg/compare"
	"github.com/Pendla/face-the-music/pkg/gallery"
	"github.com/Pendla/face-the-music/pkg/logging"
	"github.com/Pendla/face-the-music/pkg/recognition"
	"github.com/Pendla/face-the-music/pkg/scanner"
	"github.com/Pendla/face-the-music/pkg/storage"
	"github.com/schollz/progressbar/v3"
)

// faceSource is what the commands need from the recognizer.
type faceSource interface {
	compare.FaceSource
	gallery.Extractor
}

// newFaceSource loads the dlib models. The returned func releases them.
var newFaceSource = func() (faceSource, func(), error) {
	rec := recognition.NewRecognizer()
	rec.SetTolerance(cfg.Recognition.Tolerance)
	if err := rec.SetDetector(recognition.Detector(cfg.Recognition.Detector)); err != nil {
		return nil, nil, err
	}
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, nil, fmt.Errorf("%w (run 'face-the-music download-models' first?)", err)
	}
	src := recognition.FileSource{Recognizer: rec, MaxDimension: cfg.Recognition.MaxImageDimension}
	return src, func() { _ = rec.Close() }, nil
}

var openStore = func() (storage.Store, error) {
	return storage.Open(cfg.Storage)
}

func scanRoot(fs *flag.FlagSet) string {
	if fs.NArg() > 0 {
		return fs.Arg(0)
	}
	return cfg.Scan.Root
}

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	groups, err := scanner.FindImagesByPerson(scanRoot(fs), cfg.Scan.Formats)
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		fmt.Fprintln(stdout, "No images found.")
		return nil
	}
	for _, person := range groups.People() {
		fmt.Fprintf(stdout, "%s (%d)\n", person, len(groups[person]))
		for _, path := range groups[person] {
			fmt.Fprintf(stdout, "  %s\n", path)
		}
	}
	fmt.Fprintf(stdout, "\nTotal: %d image(s) of %d person(s)\n", groups.Count(), len(groups))
	return nil
}

func cmdIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	workers := fs.Int("workers", cfg.Index.Workers, "Concurrent image workers")
	quiet := fs.Bool("quiet", false, "Hide the progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workers <= 0 {
		*workers = runtime.NumCPU()
	}

	root := scanRoot(fs)
	groups, err := scanner.FindImagesByPerson(root, cfg.Scan.Formats)
	if err != nil {
		return err
	}
	if groups.Count() == 0 {
		return fmt.Errorf("no images found under %s", root)
	}

	src, release, err := newFaceSource()
	if err != nil {
		return err
	}
	defer release()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := &gallery.Builder{Extractor: src, Workers: *workers}
	var bar *progressbar.ProgressBar
	if !*quiet {
		bar = progressbar.NewOptions(groups.Count(),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Indexing faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		builder.OnProgress = func(gallery.Outcome) { _ = bar.Add(1) }
	}

	g, err := builder.Build(ctx, groups)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("indexing interrupted: %w", err)
	}

	if err := store.SaveGallery(g); err != nil {
		return fmt.Errorf("failed to save gallery: %w", err)
	}

	printStats(stdout, g)
	return nil
}

func printStats(w io.Writer, g *gallery.Gallery) {
	s := g.Stats()
	fmt.Fprintf(w, "Gallery %s\n", g.ID)
	fmt.Fprintf(w, "  People:          %d\n", s.People)
	fmt.Fprintf(w, "  Images:          %d\n", s.Images)
	fmt.Fprintf(w, "  Indexed:         %d\n", s.Indexed)
	fmt.Fprintf(w, "  No face:         %d\n", s.NoFace)
	fmt.Fprintf(w, "  Multiple faces:  %d\n", s.MultipleFaces)
	fmt.Fprintf(w, "  Errors:          %d\n", s.Errors)
	for _, o := range g.Outcomes {
		if o.Status != gallery.StatusOK {
			fmt.Fprintf(w, "  skipped %s (%s)\n", o.Path, o.Status)
		}
	}
}

func cmdCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	tolerance := fs.Float64("tolerance", cfg.Recognition.Tolerance, "Maximum descriptor distance for a match")
	asJSON := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("two images required\nUsage: %s", commands["compare"].Usage)
	}

	src, release, err := newFaceSource()
	if err != nil {
		return err
	}
	defer release()

	report, err := compare.Compare(src, fs.Arg(0), fs.Arg(1), *tolerance)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			fmt.Fprintf(stdout, "No face found: %v\n", err)
			return nil
		}
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.Write(stdout)
}

// identification is one face looked up in the gallery.
type identification struct {
	Index       int                   `json:"index"`
	BoundingBox recognition.Rectangle `json:"bounding_box"`
	Person      string                `json:"person,omitempty"`
	Closest     string                `json:"closest"`
	Distance    float64               `json:"distance"`
}

func cmdIdentify(args []string) error {
	fs := flag.NewFlagSet("identify", flag.ContinueOnError)
	tolerance := fs.Float64("tolerance", cfg.Recognition.Tolerance, "Maximum descriptor distance for a match")
	asJSON := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("image required\nUsage: %s", commands["identify"].Usage)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	g, err := store.LoadGallery()
	if errors.Is(err, storage.ErrGalleryNotFound) {
		return fmt.Errorf("no gallery stored. Run 'face-the-music index' first")
	}
	if err != nil {
		return err
	}

	src, release, err := newFaceSource()
	if err != nil {
		return err
	}
	defer release()

	faces, err := src.Faces(fs.Arg(0))
	if errors.Is(err, recognition.ErrNoFaceDetected) {
		fmt.Fprintf(stdout, "No face found in %s\n", fs.Arg(0))
		return nil
	}
	if err != nil {
		return err
	}

	results := make([]identification, len(faces))
	for i, f := range faces {
		person, dist, ok := g.Identify(f.Descriptor, *tolerance)
		results[i] = identification{Index: i + 1, BoundingBox: f.BoundingBox, Closest: person, Distance: dist}
		if ok {
			results[i].Person = person
		}
		logging.WithFields(logging.Fields{"face": i + 1, "closest": person, "distance": dist}).Debug("Identified face")
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		b := r.BoundingBox
		if r.Person != "" {
			fmt.Fprintf(stdout, "Face %d at (%d,%d %dx%d): %s (distance %.3f)\n", r.Index, b.X, b.Y, b.Width, b.Height, r.Person, r.Distance)
		} else {
			fmt.Fprintf(stdout, "Face %d at (%d,%d %dx%d): unknown (closest %s, distance %.3f)\n", r.Index, b.X, b.Y, b.Width, b.Height, r.Closest, r.Distance)
		}
	}
	return nil
}

func cmdList(args []string) error {
	logging.Debug("Listing gallery")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	g, err := store.LoadGallery()
	if errors.Is(err, storage.ErrGalleryNotFound) {
		fmt.Fprintln(stdout, "No gallery stored.")
		return nil
	}
	if err != nil {
		return err
	}

	if len(g.People) == 0 {
		fmt.Fprintln(stdout, "Gallery is empty.")
		return nil
	}

	fmt.Fprintf(stdout, "Gallery %s (%s):\n", g.ID, g.CreatedAt.Format("2006-01-02 15:04:05"))
	for _, name := range g.Names() {
		fmt.Fprintf(stdout, "  - %s (%d descriptor(s))\n", name, len(g.People[name]))
	}
	fmt.Fprintf(stdout, "\nTotal: %d person(s)\n", len(g.People))
	return nil
}

func cmdRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("person required\nUsage: %s", commands["remove"].Usage)
	}
	person := args[0]

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeletePerson(person); err != nil {
		if errors.Is(err, storage.ErrPersonNotFound) {
			return fmt.Errorf("'%s' is not in the gallery", person)
		}
		return fmt.Errorf("failed to remove %s: %w", person, err)
	}

	fmt.Fprintf(stdout, "Face data for '%s' has been removed.\n", person)
	return nil
}

func cmdConfig(args []string) error {
	logging.Debug("Showing configuration")

	fmt.Fprintln(stdout, "Current Configuration:")
	fmt.Fprintln(stdout, "======================")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "[Recognition]")
	fmt.Fprintf(stdout, "  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Fprintf(stdout, "  Tolerance:       %.2f\n", cfg.Recognition.Tolerance)
	fmt.Fprintf(stdout, "  Detector:        %s\n", cfg.Recognition.Detector)
	fmt.Fprintf(stdout, "  Max Dimension:   %d\n", cfg.Recognition.MaxImageDimension)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "[Scan]")
	fmt.Fprintf(stdout, "  Root:            %s\n", cfg.Scan.Root)
	fmt.Fprintf(stdout, "  Formats:         %v\n", cfg.Scan.Formats)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "[Index]")
	fmt.Fprintf(stdout, "  Workers:         %d\n", cfg.Index.Workers)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "[Storage]")
	fmt.Fprintf(stdout, "  Backend:         %s\n", cfg.Storage.Backend)
	fmt.Fprintf(stdout, "  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(stdout, "  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Fprintf(stdout, "  SQLite Path:     %s\n", cfg.Storage.SQLitePath)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "[Logging]")
	fmt.Fprintf(stdout, "  Level:           %s\n", cfg.Logging.Level)
	fmt.Fprintf(stdout, "  Format:          %s\n", cfg.Logging.Format)
	fmt.Fprintf(stdout, "  File:            %s\n", cfg.Logging.File)

	return nil
}

func cmdVersion(args []string) error {
	fmt.Fprintf(stdout, "face-the-music v%s\n", version)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Build Information:")
	fmt.Fprintf(stdout, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(stdout, "  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Fprintf(stdout, "Command: %s\n", cmd.Name)
	fmt.Fprintf(stdout, "Description: %s\n", cmd.Description)
	fmt.Fprintf(stdout, "Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "scan", "index":
		fmt.Fprintln(stdout, "\nFolder Layout:")
		fmt.Fprintln(stdout, "  faces/john/1.jpg")
		fmt.Fprintln(stdout, "  faces/john/2.png")
		fmt.Fprintln(stdout, "  faces/doe/1.png")
		fmt.Fprintln(stdout, "\nEach folder name is the person's identifier. Images with no face")
		fmt.Fprintln(stdout, "or more than one face are skipped when indexing.")
	case "compare":
		fmt.Fprintln(stdout, "\nEvery face in the candidate image is compared with every face in the")
		fmt.Fprintln(stdout, "known image. Distances at or below the tolerance count as a match.")
	case "config":
		fmt.Fprintln(stdout, "\nConfiguration Locations:")
		fmt.Fprintln(stdout, "  System: /etc/face-the-music/config.yaml")
		fmt.Fprintln(stdout, "  User:   ~/.config/face-the-music/config.yaml")
		fmt.Fprintln(stdout, "\nFTM_* environment variables (or a .env file) override file settings.")
	}

	return nil
}
