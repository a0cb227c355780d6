package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bomkit/bomkit/pkg/bom"
	"github.com/bomkit/bomkit/pkg/common/log"
	"github.com/bomkit/bomkit/pkg/config"
	"github.com/bomkit/bomkit/pkg/paths"
	"github.com/bomkit/bomkit/pkg/stats"
)

// options holds the parsed command line
type options struct {
	configPath  string
	variable    string
	onlyPaths   bool
	onlyDirs    bool
	onlyFiles   bool
	noChecksums bool
	logLevel    string
	useMmap     bool
	bomPath     string
}

func main() {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		os.Exit(1)
	}

	logger := log.NewStandardLogger(log.WithLevel(cfg.Level()))
	collector := stats.NewAtomicCollector()

	b, err := openStore(opts, logger, collector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %s\n", opts.bomPath, err)
		os.Exit(1)
	}
	defer b.Close()

	// Decoding tolerates a foreign signature, the listing may still work
	if err := b.Header().CheckSignature(); err != nil {
		logger.Warn("%s: %v", opts.bomPath, err)
	}

	entries, err := paths.ListVariable(b, cfg.PathsVariable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing %s: %s\n", cfg.PathsVariable, err)
		os.Exit(1)
	}

	for _, e := range entries {
		if cfg.ListDirectories && e.Info.Kind != paths.KindDirectory {
			continue
		}
		if opts.onlyFiles && e.Info.Kind != paths.KindFile {
			continue
		}
		fmt.Println(formatLine(e, cfg))
	}
}

// parseFlags parses command line flags and returns the options
func parseFlags() options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "lsbom - list the contents of a bill of materials file\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: lsbom [options] bom_file\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Prints one line per recorded path: path, mode, uid/gid, and for\n")
		fmt.Fprintf(flag.CommandLine.Output(), "plain files the size and checksum. Gzip and zstd compressed files\n")
		fmt.Fprintf(flag.CommandLine.Output(), "are decompressed transparently.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
	}

	onlyPaths := flag.Bool("s", false, "Print only the path of each entry")
	onlyDirs := flag.Bool("d", false, "List only directories")
	onlyFiles := flag.Bool("f", false, "List only plain files")
	noChecksums := flag.Bool("no-checksums", false, "Suppress size and checksum columns")
	variable := flag.String("var", config.DefaultPathsVariable, "Tree variable to list")
	configPath := flag.String("config", "", "Path to a bomkit configuration file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	useMmap := flag.Bool("mmap", false, "Map the file into memory instead of reading it")

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	return options{
		configPath:  *configPath,
		variable:    *variable,
		onlyPaths:   *onlyPaths,
		onlyDirs:    *onlyDirs,
		onlyFiles:   *onlyFiles,
		noChecksums: *noChecksums,
		logLevel:    *logLevel,
		useMmap:     *useMmap,
		bomPath:     flag.Arg(0),
	}
}

// loadConfig builds the effective configuration: the config file when
// given, with explicitly set flags layered on top
func loadConfig(opts options) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	cfg.Update(func(c *config.Config) {
		if set["var"] {
			c.PathsVariable = opts.variable
		}
		if set["s"] {
			c.ListOnlyPaths = opts.onlyPaths
		}
		if set["d"] {
			c.ListDirectories = opts.onlyDirs
		}
		if set["no-checksums"] {
			c.ShowChecksums = !opts.noChecksums
		}
		if set["log-level"] {
			c.LogLevel = opts.logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// openStore loads the file, mapped or read into memory
func openStore(opts options, logger log.Logger, collector stats.Collector) (*bom.Bom, error) {
	if opts.useMmap {
		return bom.OpenMapped(opts.bomPath, bom.WithLogger(logger), bom.WithStats(collector))
	}
	return bom.Open(opts.bomPath, bom.WithLogger(logger), bom.WithStats(collector))
}

// formatLine renders one listing line per the configured shape
func formatLine(e paths.Entry, cfg *config.Config) string {
	if cfg.ListOnlyPaths {
		return e.Path
	}
	if !cfg.ShowChecksums && e.Info.Kind == paths.KindFile {
		return fmt.Sprintf("%s\t%o\t%d/%d", e.Path, e.Info.Mode, e.Info.UID, e.Info.GID)
	}
	return paths.FormatEntry(e)
}
