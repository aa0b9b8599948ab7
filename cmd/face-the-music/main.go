package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Pendla/face-the-music/pkg/config"
	"github.com/Pendla/face-the-music/pkg/logging"
	"github.com/joho/godotenv"
)

const version = "0.3.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
	stdout   io.Writer = os.Stdout
)

var commandOrder = []string{"scan", "index", "compare", "identify", "list", "remove", "config", "download-models", "version", "help"}

func init() {
	commands = map[string]*Command{
		"scan": {
			Name:        "scan",
			Description: "List images grouped by person folder",
			Usage:       "face-the-music scan [root]",
			Run:         cmdScan,
		},
		"index": {
			Name:        "index",
			Description: "Extract one descriptor per image and store the gallery",
			Usage:       "face-the-music index [-workers n] [root]",
			Run:         cmdIndex,
		},
		"compare": {
			Name:        "compare",
			Description: "Check whether faces in one image match faces in another",
			Usage:       "face-the-music compare [-tolerance t] [-json] <known-image> <candidate-image>",
			Run:         cmdCompare,
		},
		"identify": {
			Name:        "identify",
			Description: "Identify faces in an image against the stored gallery",
			Usage:       "face-the-music identify [-tolerance t] [-json] <image>",
			Run:         cmdIdentify,
		},
		"list": {
			Name:        "list",
			Description: "List people in the stored gallery",
			Usage:       "face-the-music list",
			Run:         cmdList,
		},
		"remove": {
			Name:        "remove",
			Description: "Remove a person from the stored gallery",
			Usage:       "face-the-music remove <person>",
			Run:         cmdRemove,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "face-the-music config",
			Run:         cmdConfig,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the dlib model files",
			Usage:       "face-the-music download-models [dir]",
			Run:         cmdDownloadModels,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "face-the-music version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "face-the-music help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

	// .env is optional
	_ = godotenv.Load()

	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg.ExpandPaths()

	logOpts := logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, Format: cfg.Logging.Format}
	if *debug {
		logOpts.Level = "debug"
	}
	if err := logging.Init(logOpts); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize logging: %v\n", err)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Debugf("face-the-music v%s starting", version)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(stdout, "face-the-music - group labeled face images and compare faces")
	fmt.Fprintf(stdout, "Version: %s\n\n", version)
	fmt.Fprintln(stdout, "Usage: face-the-music [options] <command> [arguments]")
	fmt.Fprintln(stdout, "\nOptions:")
	fmt.Fprintln(stdout, "  -config <file>   Path to configuration file")
	fmt.Fprintln(stdout, "  -debug           Enable debug logging")
	fmt.Fprintln(stdout, "\nCommands:")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(stdout, "  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Fprintln(stdout, "\nExamples:")
	fmt.Fprintln(stdout, "  face-the-music index faces/                 # Index faces/<person>/<images>")
	fmt.Fprintln(stdout, "  face-the-music compare known.jpg group.jpg  # Compare two images")
	fmt.Fprintln(stdout, "  face-the-music identify unknown.jpg         # Look up faces in the gallery")
	fmt.Fprintln(stdout, "\nRun 'face-the-music help <command>' for more information on a command.")
}
