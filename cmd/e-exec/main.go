// Package main provides e-exec, which loads Epiphany programs onto an
// emulated grid, runs them to completion and exits with their status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sarchlab/esim/config"
	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/mesh"
	"github.com/sarchlab/esim/runner"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	extension  string
	platform   bool
	verbose    bool
	version    bool
}

func newFlagSet(cfg *config.Config, opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("e-exec", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.IntVar(&cfg.Rows, "r", cfg.Rows, "Rows in the grid")
	fs.IntVar(&cfg.Columns, "c", cfg.Columns, "Columns in the grid")
	fs.Func("m", "External memory size in bytes", func(s string) error {
		var n uint32
		if _, err := fmt.Sscan(s, &n); err != nil {
			return err
		}
		cfg.MemorySize = n
		return nil
	})
	fs.StringVar(&cfg.Architecture, "a", cfg.Architecture, "Epiphany architecture (EpiphanyIII or EpiphanyIV)")
	fs.StringVar(&cfg.Kernel, "k", cfg.Kernel, "Host kernel (null or unix)")
	fs.StringVar(&opts.configPath, "config", "", "Path to a JSON grid configuration")
	fs.StringVar(&opts.extension, "x", "", "Path to a Lua extension instruction script")
	fs.BoolVar(&opts.platform, "p", false, "Use the hardware platform")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose output")
	fs.BoolVar(&opts.version, "version", false, "Show version information and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: e-exec [options] {<file> <row> <column>}... [-- args]\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nRows and columns: 2 to %d. Memory: 0x%08X to 0x%08X bytes.\n",
			mesh.MaxRows, mesh.MinMemorySize, mesh.MaxMemorySize)
	}
	return fs
}

// parseArgs applies the configuration file first so that explicit flags
// win over it.
func parseArgs(args []string, stderr io.Writer) (*config.Config, *options, []string, error) {
	var opts options
	probe := newFlagSet(config.Default(), &opts, io.Discard)
	probe.Usage = func() {}
	if err := probe.Parse(args); err != nil {
		newFlagSet(config.Default(), &options{}, stderr).Usage()
		return nil, nil, nil, err
	}

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, nil, nil, err
		}
	}

	fs := newFlagSet(cfg, &opts, stderr)
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}
	return cfg, &opts, fs.Args(), nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, opts, rest, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "e-exec: %v\n", err)
		return 1
	}

	if opts.version {
		fmt.Fprintf(stdout, "e-exec %s\n", version)
		return 0
	}
	if opts.platform {
		fmt.Fprintln(stderr, "e-exec: the hardware platform is not supported")
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "e-exec: %v\n", err)
		return 1
	}

	targets, _, err := runner.ParseTargets(rest, cfg.Rows, cfg.Columns)
	if err != nil {
		fmt.Fprintf(stderr, "e-exec: %v\n", err)
		return 1
	}

	status, err := execute(cfg, opts, targets, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "e-exec: %v\n", err)
		return 1
	}
	return status
}

func execute(
	cfg *config.Config,
	opts *options,
	targets []runner.Target,
	stdin io.Reader,
	stdout, stderr io.Writer,
) (int, error) {
	logger, err := runner.NewLogger(stderr, os.LookupEnv, opts.verbose)
	if err != nil {
		return 1, err
	}

	decoder, script, err := runner.Decoder(opts.extension)
	if err != nil {
		return 1, err
	}
	if script != nil {
		defer script.Close()
	}

	kernel, err := cfg.NewKernel(stdin, stdout, stderr)
	if err != nil {
		return 1, err
	}

	faults := runner.NewFaultLog(stderr)
	m, err := cfg.NewMachine(kernel,
		emu.WithLogger(logger),
		emu.WithNotifier(faults),
		emu.WithDecoder(decoder),
	)
	if err != nil {
		return 1, errors.Join(err, kernel.Close())
	}
	defer func() { _ = m.Close() }()

	cores, err := runner.Load(m, targets)
	if err != nil {
		return 1, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := m.Start(ctx); err != nil {
		return 1, err
	}
	runner.Activate(cores)

	if err := runner.Wait(ctx, cores, runner.PollInterval); err != nil {
		return 1, err
	}
	if err := runner.Finish(m); err != nil {
		return 1, err
	}

	if opts.verbose {
		report(stderr, m, cores, faults)
	}

	return runner.ExitStatus(cores), nil
}

func report(w io.Writer, m *emu.Machine, cores []*emu.Core, faults *runner.FaultLog) {
	for _, c := range cores {
		switch {
		case faults.Faulted(c.ID()):
			fmt.Fprintf(w, "Core %s: faulted\n", c.ID())
		case c.Failed():
			fmt.Fprintf(w, "Core %s: failed\n", c.ID())
		case c.Passed():
			fmt.Fprintf(w, "Core %s: passed\n", c.ID())
		default:
			fmt.Fprintf(w, "Core %s: exit code %d\n", c.ID(), c.ExitCode())
		}
	}

	s := m.Stats()
	fmt.Fprintf(w, "Instructions executed: %d (%d float)\n", s.Instructions, s.FloatInstructions)
	fmt.Fprintf(w, "Cycles: %d (%d idle)\n", s.Cycles, s.IdleCycles)
}
