package lib

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// Args is the parsed command line.
type Args struct {
	Mode       Mode
	ConfigFile string

	// Rank is the rank a tcp worker runs as.
	Rank int
	// MetricsAddr is the address Prometheus metrics are served on. Empty
	// turns the server off.
	MetricsAddr string
	// Validate compares the last step against a direct sum.
	Validate bool

	flags *pflag.FlagSet
	over  config.Config
}

// ParseCommandLine parses the command line arguments (without the program
// name). They're expected in the order:
// $ ddgrav <mode> [config file] [--<flag> <value>] ...
// Flags may also appear before or between the mode and file. Config
// variables set by flags override the config file.
func ParseCommandLine(argv []string) (*Args, error) {
	args := &Args{flags: pflag.NewFlagSet("ddgrav", pflag.ContinueOnError)}
	fs, o := args.flags, &args.over
	fs.SetOutput(io.Discard)

	fs.IntVar(&args.Rank, "rank", -1, "Rank of a tcp worker.")
	fs.StringVar(&args.MetricsAddr, "metrics", "",
		"Serve Prometheus metrics on this address.")
	fs.BoolVar(&args.Validate, "validate", true,
		"Compare the last step against a direct sum.")

	fs.IntVar(&o.Run.Ranks, "ranks", 0, "Overrides Run.Ranks.")
	fs.StringVar(&o.Run.Backend, "backend", "", "Overrides Run.Backend.")
	fs.IntVar(&o.Run.Threads, "threads", 0, "Overrides Run.Threads.")
	fs.StringVar(&o.Run.LogLevel, "log-level", "", "Overrides Run.LogLevel.")
	fs.StringVar(&o.Run.Snapshot, "snapshot", "", "Overrides Run.Snapshot.")
	fs.IntVar(&o.Run.Particles, "particles", 0, "Overrides Run.Particles.")
	fs.IntVar(&o.Run.Steps, "steps", 0, "Overrides Run.Steps.")
	fs.Int64Var(&o.Run.Seed, "seed", 0, "Overrides Run.Seed.")
	fs.Float64Var(&o.Gravity.OpeningAngle, "opening-angle", 0,
		"Overrides Gravity.OpeningAngle.")
	fs.StringVar(&o.Decomposition.Scheme, "scheme", "",
		"Overrides Decomposition.Scheme.")

	if err := fs.Parse(argv); err != nil {
		return nil, ddgerr.Wrap(ddgerr.Configuration, err, "parsing flags")
	}

	pos := fs.Args()
	if len(pos) == 0 {
		return args, nil
	} else if len(pos) > 2 {
		return nil, ddgerr.ConfigErrorf("Expected at most a mode and a "+
			"config file, but got %d arguments: %v.", len(pos), pos)
	}

	var err error
	if args.Mode, err = ParseMode(pos[0]); err != nil {
		return nil, err
	}
	if len(pos) == 2 {
		args.ConfigFile = pos[1]
	}
	return args, nil
}

// Config reads the config file, or starts from the defaults if there
// isn't one, applies flag overrides and validates the result.
func (args *Args) Config() (*config.Config, error) {
	cfg := config.Default()
	if args.ConfigFile != "" {
		var err error
		if cfg, err = config.ReadFile(args.ConfigFile); err != nil {
			return nil, err
		}
	}

	fs, o := args.flags, &args.over
	if fs.Changed("ranks") {
		cfg.Run.Ranks = o.Run.Ranks
	}
	if fs.Changed("backend") {
		cfg.Run.Backend = o.Run.Backend
	}
	if fs.Changed("threads") {
		cfg.Run.Threads = o.Run.Threads
	}
	if fs.Changed("log-level") {
		cfg.Run.LogLevel = o.Run.LogLevel
	}
	if fs.Changed("snapshot") {
		cfg.Run.Snapshot = o.Run.Snapshot
	}
	if fs.Changed("particles") {
		cfg.Run.Particles = o.Run.Particles
	}
	if fs.Changed("steps") {
		cfg.Run.Steps = o.Run.Steps
	}
	if fs.Changed("seed") {
		cfg.Run.Seed = o.Run.Seed
	}
	if fs.Changed("opening-angle") {
		cfg.Gravity.OpeningAngle = o.Gravity.OpeningAngle
	}
	if fs.Changed("scheme") {
		cfg.Decomposition.Scheme = o.Decomposition.Scheme
	}

	return cfg, cfg.Validate()
}

// PrintHelp writes usage information to w.
func PrintHelp(w io.Writer, args *Args) {
	fmt.Fprintln(w, `ddgrav computes gravitational forces with a Barnes-Hut tree
distributed over many ranks.

Usage:
    ddgrav <mode> [config file] [flags]

Modes:
    help     Print this message.
    check    Check a config file for errors.
    example  Print an example config file.
    run      Run every rank from this process.
    worker   Run one rank of a tcp or mpi run.

Flags:`)
	fmt.Fprint(w, args.flags.FlagUsages())
}
