// Command hwlite-log views and analyzes hwlite protocol capture files.
//
// Capture files are written by hwlite and hwlite-sim with the
// -protocol-log flag.
//
// Usage:
//
//	hwlite-log <command> [flags] <file.hwlog>
//
// Commands:
//
//	view     View events in human-readable format
//	export   Export events to JSONL or CSV
//	filter   Filter events into a new capture file
//	stats    Summarize sessions, commands and status words
//
// Examples:
//
//	# Only decoded commands
//	hwlite-log view -layer codec host.hwlog
//
//	# One session as CSV
//	hwlite-log export -format csv -session 6f1c2a9e host.hwlog
//
//	# Keep only VERIFY_PIN exchanges
//	hwlite-log filter -command VERIFY_PIN -o pin.hwlog host.hwlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hwlite/hwlite-go/cmd/hwlite-log/commands"
)

const usage = `hwlite-log - hwlite protocol capture analyzer

Usage:
  hwlite-log <command> [flags] <file.hwlog>

Commands:
  view     View events in human-readable format
  export   Export events to JSONL or CSV
  filter   Filter events into a new capture file
  stats    Summarize sessions, commands and status words

Use "hwlite-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// selection registers the shared selection flags on fs.
func selection(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.SessionID, "session", "", "Filter by session ID (prefix)")
	fs.StringVar(&opts.TokenID, "token", "", "Filter by token instance UID (hex)")
	fs.StringVar(&opts.Command, "command", "", "Filter by command name, for example VERIFY_PIN")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, codec, session)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, presence, state, error)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	return opts
}

func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `hwlite-log %s - %s

Usage:
  hwlite-log %s [flags] <file.hwlog>

Flags:
`, name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View events in human-readable format")
	opts := selection(fs)
	path := parse(fs, args)

	if err := commands.RunView(path, *opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export events to JSONL or CSV")
	opts := selection(fs)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := parse(fs, args)

	if err := commands.RunExport(path, *format, *output, *opts); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter events into a new capture file")
	opts := selection(fs)
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	path := parse(fs, args)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, *opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Summarize sessions, commands and status words")
	path := parse(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
