// dlc is a REPL for inspecting and exercising a disklru cache directory.
//
// Usage:
//
//	dlc [flags] <dir>    Open a cache directory and start a REPL
//	dlc init <dir>       Write a default .dlc.json into dir
//
// Run 'dlc --help' for flags and REPL commands.
package main

import (
	"os"

	"github.com/calvinalkan/disklru/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args))
}
