// Package cli implements dlc, a REPL for inspecting and exercising a
// disklru cache directory.
package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/disklru/pkg/disklru"
	"github.com/calvinalkan/disklru/pkg/fs"
)

// Run is the main entry point. Returns an exit code.
//
// With --batch, commands are read line-by-line from in; otherwise an
// interactive liner REPL runs on the terminal.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string) int {
	flags := flag.NewFlagSet("dlc", flag.ContinueOnError)
	flags.SetOutput(&strings.Builder{})
	flags.Usage = func() {}

	flagHelp := flags.BoolP("help", "h", false, "Show help")
	flagConfig := flags.StringP("config", "c", "", "Use specified config `file`")
	flagAppVersion := flags.Int("app-version", 0, "Override app version")
	flagValueCount := flags.Int("value-count", 0, "Override values per entry")
	flagMaxSize := flags.Int64("max-size", 0, "Override byte budget")
	flagBatch := flags.Bool("batch", false, "Read commands from stdin without a prompt")

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut)

		return 1
	}

	rest := flags.Args()

	if *flagHelp || len(rest) == 0 {
		printUsage(out)

		if *flagHelp {
			return 0
		}

		fmt.Fprintln(errOut, "error: no directory or command provided")

		return 1
	}

	fsys := fs.NewReal()

	if rest[0] == "init" {
		return runInit(out, errOut, fsys, rest[1:])
	}

	dir := rest[0]

	cfg, err := resolveConfig(fsys, dir, *flagConfig)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if *flagAppVersion != 0 {
		cfg.AppVersion = *flagAppVersion
	}

	if *flagValueCount != 0 {
		cfg.ValueCount = *flagValueCount
	}

	if *flagMaxSize != 0 {
		cfg.MaxSize = *flagMaxSize
	}

	cache, err := disklru.Open(disklru.Options{
		Dir:        dir,
		AppVersion: cfg.AppVersion,
		ValueCount: cfg.ValueCount,
		MaxSize:    cfg.MaxSize,
		FS:         fsys,
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	defer func() {
		if err := cache.Close(); err != nil {
			fmt.Fprintln(errOut, "error: closing cache:", err)
		}
	}()

	fmt.Fprintf(out, "opened %s (values=%d, max=%d bytes)\n", dir, cfg.ValueCount, cfg.MaxSize)

	if *flagBatch {
		return replBatch(in, out, errOut, cache, cfg.ValueCount)
	}

	return replInteractive(out, errOut, cache, cfg.ValueCount)
}

// resolveConfig loads an explicit config file, the directory's config
// file, or falls back to defaults.
func resolveConfig(fsys fs.FS, dir, explicit string) (Config, error) {
	if explicit != "" {
		return LoadConfig(fsys, explicit)
	}

	cfg, err := LoadConfig(fsys, filepath.Join(dir, ConfigFileName))
	if err != nil {
		if errors.Is(err, errConfigNotFound) {
			cfg = DefaultConfig()
			cfg.Dir = dir

			return cfg, nil
		}

		return Config{}, err
	}

	return cfg, nil
}

// runInit writes a default config file into the target directory.
func runInit(out io.Writer, errOut io.Writer, fsys fs.FS, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "error: init requires a directory")

		return 1
	}

	dir := args[0]

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	path := filepath.Join(dir, ConfigFileName)

	exists, err := fsys.Exists(path)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if exists {
		fmt.Fprintln(errOut, "error: config already exists:", path)

		return 1
	}

	cfg := DefaultConfig()
	cfg.Dir = dir

	if err := SaveConfig(fsys, path, cfg); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	fmt.Fprintln(out, "wrote", path)

	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  dlc [flags] <dir>      Open a cache directory and start a REPL")
	fmt.Fprintln(w, "  dlc init <dir>         Write a default "+ConfigFileName+" into dir")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -c, --config file      Use specified config file")
	fmt.Fprintln(w, "      --app-version n    Override app version")
	fmt.Fprintln(w, "      --value-count n    Override values per entry")
	fmt.Fprintln(w, "      --max-size n       Override byte budget")
	fmt.Fprintln(w, "      --batch            Read commands from stdin without a prompt")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "REPL commands:")
	fmt.Fprintln(w, replHelp)
}
