// Command shelly-trace views and analyzes protocol trace files.
//
// Trace files are produced by the protolog capture infrastructure when
// a session is configured with a trace file.
//
// Usage:
//
//	shelly-trace <command> [flags] <file.slog>
//
// Commands:
//
//	view     View trace in human-readable format
//	export   Export trace to JSONL
//	stats    Show statistics about the trace
//
// Examples:
//
//	# View all events
//	shelly-trace view device.slog
//
//	# View only CoIoT events
//	shelly-trace view -layer coiot device.slog
//
//	# Export to JSONL
//	shelly-trace export device.slog > device.jsonl
//
//	# Show statistics
//	shelly-trace stats device.slog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/home-assistant-libs/shelly-go/cmd/shelly-trace/commands"
)

const usage = `shelly-trace - protocol trace analyzer

Usage:
  shelly-trace <command> [flags] <file.slog>

Commands:
  view     View trace in human-readable format
  export   Export trace to JSONL
  stats    Show statistics about the trace

Use "shelly-trace <command> -help" for more information about a command.
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

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	layer := fs.String("layer", "", "Filter by layer (ws, ble, coiot, http)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	device := fs.String("device", "", "Filter by device identifier")
	fs.Parse(args)

	path := requirePath(fs)
	if err := commands.View(os.Stdout, path, commands.ViewOptions{
		Layer:     *layer,
		Direction: *direction,
		Device:    *device,
	}); err != nil {
		fatal(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	device := fs.String("device", "", "Filter by device identifier")
	fs.Parse(args)

	path := requirePath(fs)
	if err := commands.Export(os.Stdout, path, *device); err != nil {
		fatal(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	path := requirePath(fs)
	if err := commands.Stats(os.Stdout, path); err != nil {
		fatal(err)
	}
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "expected exactly one trace file")
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
