package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/phil-mansfield/ddgrav/lib"
	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/logging"
	"github.com/phil-mansfield/ddgrav/lib/metrics"
	"github.com/phil-mansfield/ddgrav/lib/thread"
)

func main() {
	// Parse arguments.
	args, err := lib.ParseCommandLine(os.Args[1:])
	ddgerr.Fatal(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Run the chosen mode.
	switch args.Mode {
	case lib.HelpMode:
		lib.PrintHelp(os.Stdout, args)
	case lib.CheckMode:
		Check(args)
	case lib.ExampleMode:
		fmt.Println(config.ExampleConfigFile)
	case lib.RunMode:
		ddgerr.Fatal(Run(ctx, args))
	case lib.WorkerMode:
		ddgerr.Fatal(Worker(ctx, args))
	}
}

// Check runs ddgrav's "check" mode which tests for errors in the
// configuration.
func Check(args *lib.Args) {
	cfg, err := args.Config()
	ddgerr.Fatal(err)
	ddgerr.Fatal(lib.Check(args, cfg))
	fmt.Println("No errors detected.")
}

// Run runs ddgrav's "run" mode, which starts every rank from this process.
func Run(ctx context.Context, args *lib.Args) error {
	cfg := readConfig(args)
	m := serveMetrics(args)

	return lib.RunAll(ctx, cfg,
		func(ctx context.Context, c comm.Communicator) error {
			return simulate(ctx, c, args, cfg, m)
		})
}

// Worker runs ddgrav's "worker" mode, which runs a single rank of a tcp or
// mpi run.
func Worker(ctx context.Context, args *lib.Args) error {
	cfg := readConfig(args)
	m := serveMetrics(args)

	log, err := logging.New(args.Rank, cfg.Run.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	c, err := lib.Connect(ctx, args, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()
	return simulate(ctx, c, args, cfg, m)
}

func readConfig(args *lib.Args) *config.Config {
	cfg, err := args.Config()
	ddgerr.Fatal(err)
	ddgerr.Fatal(lib.Check(args, cfg))
	ddgerr.Fatal(thread.Set(cfg.Run.Threads))
	return cfg
}

// serveMetrics starts the metrics server if one was asked for. The server
// lives until the process exits.
func serveMetrics(args *lib.Args) *metrics.Metrics {
	if args.MetricsAddr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv := &http.Server{Addr: args.MetricsAddr, Handler: metrics.Handler(reg)}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			ddgerr.External("The metrics server on '%s' failed: %s",
				args.MetricsAddr, err.Error())
		}
	}()
	return m
}

func simulate(
	ctx context.Context, c comm.Communicator, args *lib.Args,
	cfg *config.Config, m *metrics.Metrics,
) error {
	log, err := logging.New(c.Rank(), cfg.Run.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	sum, err := lib.Simulate(ctx, c, cfg, args.Validate, log, m)
	if err != nil {
		return err
	}
	log.Debug("finished", zap.Int("owned", sum.Owned))

	if sum.Rank == 0 {
		printSummary(sum)
	}
	return nil
}

func printSummary(sum *lib.Summary) {
	fmt.Printf("ddgrav %s: %d ranks, %d steps\n", lib.Version, sum.Size,
		sum.Steps)
	fmt.Printf("    interactions:   %d\n", sum.Interactions)
	fmt.Printf("    accepted nodes: %d\n", sum.AcceptedNodes)
	if !sum.Validated {
		return
	}
	r := sum.Report
	fmt.Printf("    relative acceleration error: max %.3g, mean %.3g, "+
		"rms %.3g\n", r.MaxRel, r.MeanRel, r.RMSRel)
	fmt.Printf("    relative magnitude error:    mean %.3g\n", r.MeanMagRel)
	fmt.Printf("    error against direct sum:    max %.3g, mean %.3g\n",
		r.MaxErr, r.MeanErr)
}
