package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/bomkit/bomkit/pkg/bom"
	"github.com/bomkit/bomkit/pkg/common/log"
	"github.com/bomkit/bomkit/pkg/config"
	"github.com/bomkit/bomkit/pkg/paths"
	"github.com/bomkit/bomkit/pkg/stats"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem("HEADER"),
	readline.PcItem("VARS"),
	readline.PcItem("BLOCKS"),
	readline.PcItem("FREE"),
	readline.PcItem("LS"),
	readline.PcItem("COUNT"),
	readline.PcItem("DUMP"),
	readline.PcItem("DIGEST"),
	readline.PcItem("DUPS"),
)

const helpText = `
bomkit - inspect bill of materials container files.

Usage:
  bomkit [options] [bom_file]  - Start with an optional file to inspect

Options:
  -config string          - Path to a bomkit configuration file
  -log-level string       - Log level: debug, info, warn or error
  -mmap                   - Map files into memory instead of reading them

Commands (interactive mode only):
  .help                   - Show this help message
  .open PATH              - Open the file at PATH
  .close                  - Close the current file
  .exit                   - Exit the program
  .stats                  - Show decode and walk statistics

  HEADER                  - Print the decoded file header
  VARS                    - List the variable directory
  BLOCKS                  - Print the block table
  FREE                    - Print the free block table
  LS [variable]           - List the paths recorded in a tree
  COUNT [variable]        - Count the key/value pairs in a tree
  DUMP index              - Hex dump one block's bytes
  DIGEST index            - Print a block's fingerprint
  DUPS                    - Group byte-identical blocks by fingerprint
`

// session holds the interactive state
type session struct {
	store     *bom.Bom
	path      string
	cfg       *config.Config
	logger    log.Logger
	collector *stats.AtomicCollector
	useMmap   bool
}

func main() {
	configPath := flag.String("config", "", "Path to a bomkit configuration file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	useMmap := flag.Bool("mmap", false, "Map files into memory instead of reading them")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "bomkit - inspect bill of materials container files\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: bomkit [options] [bom_file]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor the interactive commands, start bomkit and type .help\n")
	}

	flag.Parse()

	cfg := config.NewDefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Update(func(c *config.Config) {
			c.LogLevel = *logLevel
		})
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}

	sess := &session{
		cfg:     cfg,
		logger:  log.NewStandardLogger(log.WithLevel(cfg.Level())),
		useMmap: *useMmap,
	}

	if flag.NArg() > 0 {
		if err := sess.open(flag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening file: %s\n", err)
			os.Exit(1)
		}
	}

	runInteractive(sess)
}

// open loads a store and makes it the session's current file
func (s *session) open(path string) error {
	collector := stats.NewAtomicCollector()

	var store *bom.Bom
	var err error
	if s.useMmap {
		store, err = bom.OpenMapped(path, bom.WithLogger(s.logger), bom.WithStats(collector))
	} else {
		store, err = bom.Open(path, bom.WithLogger(s.logger), bom.WithStats(collector))
	}
	if err != nil {
		return err
	}

	if err := store.Header().CheckSignature(); err != nil {
		s.logger.Warn("%s: %v", path, err)
	}

	s.store = store
	s.path = path
	s.collector = collector
	return nil
}

// close releases the session's current file
func (s *session) close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	s.path = ""
	s.collector = nil
	return err
}

// runInteractive starts the interactive CLI mode
func runInteractive(sess *session) {
	fmt.Println("bomkit version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	// Setup readline with history support
	historyFile := filepath.Join(os.TempDir(), ".bomkit_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bomkit> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		if sess.path != "" {
			rl.SetPrompt(fmt.Sprintf("bomkit:%s> ", sess.path))
		} else {
			rl.SetPrompt("bomkit> ")
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		// Special dot commands
		if strings.HasPrefix(cmd, ".") {
			cmd = strings.ToLower(cmd)
			switch cmd {
			case ".help":
				fmt.Print(helpText)

			case ".open":
				if len(parts) < 2 {
					fmt.Println("Error: Missing path argument")
					continue
				}

				// Close any existing file
				sess.close()

				if err := sess.open(parts[1]); err != nil {
					fmt.Fprintf(os.Stderr, "Error opening file: %s\n", err)
					continue
				}
				fmt.Printf("Opened %s (%d blocks, %d variables)\n",
					sess.path, len(sess.store.Blocks()), len(sess.store.Variables()))

			case ".close":
				if sess.store == nil {
					fmt.Println("No file open")
					continue
				}

				path := sess.path
				if err := sess.close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing file: %s\n", err)
				} else {
					fmt.Printf("Closed %s\n", path)
				}

			case ".exit":
				sess.close()
				fmt.Println("Goodbye!")
				return

			case ".stats":
				if sess.store == nil {
					fmt.Println("No file open")
					continue
				}
				printStats(sess.collector.GetStats())

			default:
				fmt.Printf("Unknown command: %s\n", cmd)
			}
			continue
		}

		// Regular commands need an open file
		if sess.store == nil {
			fmt.Println("Error: No file open")
			continue
		}

		switch cmd {
		case "HEADER":
			printHeader(sess)

		case "VARS":
			vars := sess.store.Variables()
			for _, v := range vars {
				fmt.Printf("%6d  %s\n", v.Index, v.Name)
			}
			fmt.Printf("%d variables\n", len(vars))

		case "BLOCKS":
			printBlockTable(sess.store.Blocks())

		case "FREE":
			printBlockTable(sess.store.FreeBlocks())

		case "LS":
			variable := sess.cfg.PathsVariable
			if len(parts) >= 2 {
				variable = parts[1]
			}

			entries, err := paths.ListVariable(sess.store, variable)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error listing %s: %s\n", variable, err)
				continue
			}
			for _, e := range entries {
				fmt.Println(paths.FormatEntry(e))
			}
			fmt.Printf("%d entries found\n", len(entries))

		case "COUNT":
			variable := sess.cfg.PathsVariable
			if len(parts) >= 2 {
				variable = parts[1]
			}

			count, err := bom.FoldVariable(sess.store, variable, 0,
				func(n int, _, _ []byte) int { return n + 1 })
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %s\n", variable, err)
				continue
			}
			fmt.Printf("%d pairs\n", count)

		case "DUMP":
			index, ok := parseIndex(parts)
			if !ok {
				continue
			}

			data, found := sess.store.BlockData(index)
			if !found {
				fmt.Printf("Block %d is not resolvable\n", index)
				continue
			}
			if len(data) == 0 {
				fmt.Printf("Block %d is empty\n", index)
				continue
			}
			fmt.Print(hex.Dump(data))

		case "DIGEST":
			index, ok := parseIndex(parts)
			if !ok {
				continue
			}

			digest, found := sess.store.BlockDigest(index)
			if !found {
				fmt.Printf("Block %d is not resolvable\n", index)
				continue
			}
			fmt.Printf("block %d  xxhash64 %016x\n", index, digest)

		case "DUPS":
			groups := sess.store.DuplicateBlocks()
			if len(groups) == 0 {
				fmt.Println("No duplicate blocks")
				continue
			}
			for digest, indices := range groups {
				fmt.Printf("%016x: %v\n", digest, indices)
			}
			fmt.Printf("%d duplicate groups\n", len(groups))

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}
	}
}

// parseIndex reads a block index argument
func parseIndex(parts []string) (uint32, bool) {
	if len(parts) < 2 {
		fmt.Println("Error: Missing block index argument")
		return 0, false
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		fmt.Printf("Error: %q is not a block index\n", parts[1])
		return 0, false
	}
	return uint32(index), true
}

func printHeader(sess *session) {
	hdr := sess.store.Header()
	fmt.Printf("Signature:    %q\n", hdr.Signature[:])
	fmt.Printf("Version:      %d\n", hdr.Version)
	fmt.Printf("Blocks:       %d\n", hdr.NumBlocks)
	fmt.Printf("Index region: offset %d, length %d\n", hdr.IndexOffset, hdr.IndexLength)
	fmt.Printf("Vars region:  offset %d, length %d\n", hdr.VarsOffset, hdr.VarsLength)
	fmt.Printf("File size:    %d bytes\n", sess.store.Size())

	if err := hdr.CheckSignature(); err != nil {
		fmt.Printf("Warning:      %v\n", err)
	}
}

func printBlockTable(blocks []bom.Block) {
	for i, blk := range blocks {
		fmt.Printf("%6d  address %10d  length %10d\n", i, blk.Address, blk.Length)
	}
	fmt.Printf("%d blocks\n", len(blocks))
}

// printStats renders the collector's view of the open file
func printStats(all map[string]interface{}) {
	// Helper function to safely get a uint64 value with default
	getUint64 := func(m map[string]interface{}, key string, defaultVal uint64) uint64 {
		if val, ok := m[key]; ok {
			switch v := val.(type) {
			case uint64:
				return v
			case int64:
				return uint64(v)
			case int:
				return uint64(v)
			case float64:
				return uint64(v)
			default:
				return defaultVal
			}
		}
		return defaultVal
	}

	fmt.Println("📊 Operations:")
	fmt.Printf("  • Opens: %d\n", getUint64(all, "open_ops", 0))
	fmt.Printf("  • Block reads: %d\n", getUint64(all, "block_read_ops", 0))
	fmt.Printf("  • Folds: %d\n", getUint64(all, "fold_ops", 0))
	fmt.Printf("  • Maps: %d\n", getUint64(all, "map_ops", 0))
	fmt.Printf("  • Listings: %d\n", getUint64(all, "list_paths_ops", 0))
	fmt.Printf("  • Digests: %d\n", getUint64(all, "digest_ops", 0))

	if openTime, ok := all["last_open_time"].(int64); ok && openTime > 0 {
		fmt.Println("\n⏱️ Last Open:")
		fmt.Printf("  • %s\n", time.Unix(0, openTime).Format(time.RFC3339))
	}

	fmt.Println("\n💾 Storage:")
	fmt.Printf("  • Total Bytes Read: %d\n", getUint64(all, "total_bytes_read", 0))

	if walkMap, ok := all["walk"].(map[string]interface{}); ok {
		fmt.Println("\n🌲 Last Walk:")
		fmt.Printf("  • Nodes Visited: %d\n", getUint64(walkMap, "walk_nodes_visited", 0))
		fmt.Printf("  • Pairs Emitted: %d\n", getUint64(walkMap, "walk_pairs_emitted", 0))
		fmt.Printf("  • Pairs Skipped: %d\n", getUint64(walkMap, "walk_pairs_skipped", 0))
		if durationUs, ok := walkMap["walk_duration_us"]; ok {
			switch v := durationUs.(type) {
			case int64:
				fmt.Printf("  • Duration: %d us\n", v)
			case uint64:
				fmt.Printf("  • Duration: %d us\n", v)
			}
		}
	}

	if corruptions, ok := all["corruptions"].(map[string]uint64); ok && len(corruptions) > 0 {
		fmt.Println("\n⚠️ Corruption:")
		for kind, count := range corruptions {
			displayKey := strings.Replace(kind, "_", " ", -1)
			fmt.Printf("  • %s: %d\n", displayKey, count)
		}
	} else {
		fmt.Println("\n⚠️ Corruption: none observed")
	}
}
