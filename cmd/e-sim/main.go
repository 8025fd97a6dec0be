// Package main provides e-sim, a long-running Epiphany grid. The grid is
// configured from the E_SIM_* environment variables, runs the programs
// given as <file> <row> <column> triples and keeps running until it is
// interrupted.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"golang.org/x/term"

	"github.com/sarchlab/esim/config"
	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/runner"
)

// Additional environment variables read by e-sim.
const (
	envExtension = "E_SIM_EXT"
	envStats     = "E_SIM_STATS"
)

const statsURL = "/debug/statsview"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "e-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		return err
	}

	targets, _, err := runner.ParseTargets(args, cfg.Rows, cfg.Columns)
	if err != nil {
		return err
	}

	logger, err := runner.NewLogger(os.Stderr, os.LookupEnv, true)
	if err != nil {
		return err
	}

	decoder, script, err := runner.Decoder(os.Getenv(envExtension))
	if err != nil {
		return err
	}
	if script != nil {
		defer script.Close()
	}

	kernel, err := cfg.NewKernel(os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}

	m, err := cfg.NewMachine(kernel,
		emu.WithLogger(logger),
		emu.WithNotifier(runner.NewFaultLog(os.Stderr)),
		emu.WithDecoder(decoder),
	)
	if err != nil {
		return errors.Join(err, kernel.Close())
	}
	defer func() { _ = m.Close() }()

	cores, err := runner.Load(m, targets)
	if err != nil {
		return err
	}

	if addr := os.Getenv(envStats); addr != "" {
		stopStats := launchStats(addr)
		defer stopStats()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The Unix kernel owns standard input, so the quit key is only read
	// when the programs cannot use it.
	if cfg.Kernel == config.KernelNull {
		restore := watchQuitKey(stop)
		defer restore()
	}

	if err := m.Start(ctx); err != nil {
		return err
	}
	runner.Activate(cores)

	return m.Join()
}

// launchStats serves runtime statistics at addr until the returned
// function is called.
func launchStats(addr string) func() {
	viewer.SetConfiguration(viewer.WithAddr(addr))
	mgr := statsview.New()
	go mgr.Start()

	fmt.Fprintf(os.Stderr, "stats server available at %s%s\n", addr, statsURL)
	return mgr.Stop
}

// watchQuitKey puts an interactive terminal in raw mode and calls quit when
// q is pressed. The returned function restores the terminal.
func watchQuitKey(quit func()) func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}
	}

	go func() {
		r := bufio.NewReader(os.Stdin)
		for {
			b, err := r.ReadByte()
			if err != nil {
				return
			}
			// Ctrl-C does not raise SIGINT in raw mode.
			if b == 'q' || b == 'Q' || b == 0x03 {
				quit()
				return
			}
		}
	}()

	return func() { _ = term.Restore(fd, old) }
}
