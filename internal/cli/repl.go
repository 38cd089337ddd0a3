package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/disklru/pkg/disklru"
)

const replHelp = `  get <key> [i]               Print value(s) for key
  put <key> <v0> [v1 ...]     Publish one value per index
  rm <key>                    Remove an entry
  keys                        List readable keys, LRU first
  size                        Show current byte total and budget
  maxsize <n>                 Change the byte budget
  evictall                    Remove every entry
  flush                       Drain eviction and flush the journal
  help                        Show this help
  exit                        Close the cache and quit`

// errQuit signals a clean REPL exit.
var errQuit = errors.New("quit")

// replInteractive runs the liner-backed prompt loop.
func replInteractive(out io.Writer, errOut io.Writer, cache *disklru.Cache, valueCount int) int {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("dlc> ")
		if err != nil {
			// io.EOF on ^D, liner.ErrPromptAborted on ^C.
			return 0
		}

		if strings.TrimSpace(input) == "" {
			continue
		}

		line.AppendHistory(input)

		if err := execLine(out, cache, valueCount, input); err != nil {
			if errors.Is(err, errQuit) {
				return 0
			}

			fmt.Fprintln(errOut, "error:", err)
		}
	}
}

// replBatch executes newline-separated commands from in.
// The first failing command stops the run with a non-zero exit code.
func replBatch(in io.Reader, out io.Writer, errOut io.Writer, cache *disklru.Cache, valueCount int) int {
	scanner := bufio.NewScanner(in)

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}

		if err := execLine(out, cache, valueCount, input); err != nil {
			if errors.Is(err, errQuit) {
				return 0
			}

			fmt.Fprintln(errOut, "error:", err)

			return 1
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

// execLine parses and executes one REPL command.
func execLine(out io.Writer, cache *disklru.Cache, valueCount int, input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "get":
		return cmdGet(out, cache, valueCount, args)

	case "put":
		return cmdPut(out, cache, valueCount, args)

	case "rm":
		if len(args) != 1 {
			return errors.New("usage: rm <key>")
		}

		removed, err := cache.Remove(args[0])
		if err != nil {
			return err
		}

		if !removed {
			fmt.Fprintln(out, "not found")

			return nil
		}

		fmt.Fprintln(out, "removed")

		return nil

	case "keys":
		for _, key := range cache.Keys() {
			fmt.Fprintln(out, key)
		}

		return nil

	case "size":
		fmt.Fprintf(out, "%d / %d bytes\n", cache.Size(), cache.MaxSize())

		return nil

	case "maxsize":
		if len(args) != 1 {
			return errors.New("usage: maxsize <n>")
		}

		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad size %q", args[0])
		}

		return cache.SetMaxSize(n)

	case "evictall":
		return cache.EvictAll()

	case "flush":
		return cache.Flush()

	case "help":
		fmt.Fprintln(out, replHelp)

		return nil

	case "exit", "quit", "q":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func cmdGet(out io.Writer, cache *disklru.Cache, valueCount int, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: get <key> [i]")
	}

	snap, ok, err := cache.Get(args[0])
	if err != nil {
		return err
	}

	if !ok {
		fmt.Fprintln(out, "not found")

		return nil
	}

	defer snap.Close()

	if len(args) == 2 {
		i, err := strconv.Atoi(args[1])
		if err != nil || i < 0 || i >= valueCount {
			return fmt.Errorf("bad index %q", args[1])
		}

		value, err := snap.String(i)
		if err != nil {
			return err
		}

		fmt.Fprintln(out, value)

		return nil
	}

	for i := range valueCount {
		value, err := snap.String(i)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "[%d] %q (%d bytes)\n", i, value, snap.Length(i))
	}

	return nil
}

func cmdPut(out io.Writer, cache *disklru.Cache, valueCount int, args []string) error {
	if len(args) != 1+valueCount {
		return fmt.Errorf("usage: put <key> <v0> ... (expected %d values)", valueCount)
	}

	ed, ok, err := cache.Edit(args[0])
	if err != nil {
		return err
	}

	if !ok {
		return errors.New("another edit is in flight")
	}

	defer ed.AbortUnlessCommitted()

	for i, value := range args[1:] {
		if err := ed.Set(i, value); err != nil {
			return err
		}
	}

	if err := ed.Commit(); err != nil {
		return err
	}

	fmt.Fprintln(out, "ok")

	return nil
}
