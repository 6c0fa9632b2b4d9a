package lib

/* check.go contains the core functions of ddgrav's "check" mode. */

import (
	"net"
	"os"
	"runtime"

	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// Check looks for problems that config.Validate can't see because they
// depend on the mode or the machine: thread counts, files, tcp addresses
// and worker ranks. It returns the first one it finds as a Configuration error.
func Check(args *Args, cfg *config.Config) error {
	if cfg.Run.Threads > 0 {
		if n := runtime.NumCPU(); cfg.Run.Threads > n {
			return ddgerr.ConfigErrorf("%d threads requested, but only %d "+
				"are available. Set Threads = -1 to use all of them.",
				cfg.Run.Threads, n)
		}
	}

	if cfg.Run.Snapshot != "" {
		if info, err := os.Stat(cfg.Run.Snapshot); err != nil {
			return ddgerr.Wrap(ddgerr.Configuration, err, "Run.Snapshot")
		} else if info.IsDir() {
			return ddgerr.ConfigErrorf("Run.Snapshot, '%s', is a directory.",
				cfg.Run.Snapshot)
		}
	}

	if cfg.Run.Backend == "tcp" {
		seen := map[string]bool{}
		for i, addr := range cfg.Run.Address {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return ddgerr.Wrapf(ddgerr.Configuration, err,
					"Run.Address %d, '%s'", i, addr)
			}
			if seen[addr] {
				return ddgerr.ConfigErrorf("Run.Address '%s' is given "+
					"to more than one rank.", addr)
			}
			seen[addr] = true
		}
	}

	if args.Mode != WorkerMode {
		return nil
	}
	switch cfg.Run.Backend {
	case "local":
		return ddgerr.ConfigErrorf("The local backend runs every rank in " +
			"one process, so it can't be used in worker mode. Use 'run'.")
	case "tcp":
		if args.Rank < 0 || args.Rank >= cfg.Run.Ranks {
			return ddgerr.ConfigErrorf("A tcp worker needs --rank in "+
				"[0, %d), but got %d.", cfg.Run.Ranks, args.Rank)
		}
	}
	return nil
}
