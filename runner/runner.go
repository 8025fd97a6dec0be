// Package runner holds the pieces shared by the e-exec and e-sim front
// ends: parsing <file> <row> <column> targets, loading them, waiting for
// the loaded cores and computing the process exit status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/insts"
	"github.com/sarchlab/esim/loader"
	"github.com/sarchlab/esim/luaext"
	"github.com/sarchlab/esim/mesh"
)

// PollInterval is how often Wait checks the loaded cores.
const PollInterval = 10 * time.Millisecond

// ErrUsage is wrapped by errors in the target list.
var ErrUsage = errors.New("usage")

// Target is one program to load.
type Target struct {
	Path string
	Core mesh.CoreID
}

// ParseTargets splits args into <file> <row> <column> triples. Everything
// after a "--" argument is returned unparsed.
func ParseTargets(args []string, rows, columns int) ([]Target, []string, error) {
	var targets []Target

	for len(args) != 0 {
		if args[0] == "--" {
			return targets, args[1:], nil
		}
		if len(args) < 3 {
			return nil, nil, fmt.Errorf("%w: expected <file> <row> <column> arguments", ErrUsage)
		}

		file := args[0]
		row, rerr := strconv.Atoi(args[1])
		col, cerr := strconv.Atoi(args[2])
		if rerr != nil || cerr != nil {
			return nil, nil, fmt.Errorf("%w: invalid row/column numbers given for %s", ErrUsage, file)
		}
		if row < 0 || row >= rows || col < 0 || col >= columns {
			return nil, nil, fmt.Errorf("%w: coordinates %d * %d for %s are invalid", ErrUsage, row, col, file)
		}

		targets = append(targets, Target{
			Path: file,
			Core: mesh.CoreID{Row: uint8(row), Column: uint8(col)},
		})
		args = args[3:]
	}

	return targets, nil, nil
}

// Load loads every target onto its core and returns the cores in target
// order. The cores are left inactive.
func Load(m *emu.Machine, targets []Target) ([]*emu.Core, error) {
	cores := make([]*emu.Core, 0, len(targets))
	for _, t := range targets {
		c := m.Core(t.Core)
		if c == nil {
			return nil, fmt.Errorf("%w: no core %s", ErrUsage, t.Core)
		}
		if _, err := loader.LoadFile(m, c, t.Path); err != nil {
			return nil, err
		}
		cores = append(cores, c)
	}
	return cores, nil
}

// Activate sets ACTIVE on every core.
func Activate(cores []*emu.Core) {
	for _, c := range cores {
		c.SetActive(true)
	}
}

// Wait blocks until none of the cores is active or idle, or ctx is done.
func Wait(ctx context.Context, cores []*emu.Core, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for running(cores) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func running(cores []*emu.Core) bool {
	for _, c := range cores {
		if c.IsActive() || c.IsIdle() {
			return true
		}
	}
	return false
}

// Finish halts the machine and waits for every core loop to stop. Faults
// are reported after the faulting core clears ACTIVE, so a FaultLog is
// only complete once Finish returns.
func Finish(m *emu.Machine) error {
	m.Halt()
	return m.Join()
}

// ExitStatus is 1 if any core failed its test, otherwise 0.
func ExitStatus(cores []*emu.Core) int {
	for _, c := range cores {
		if c.Failed() {
			return 1
		}
	}
	return 0
}

// FaultLog is a notifier that prints fault events and remembers which
// cores faulted.
type FaultLog struct {
	w io.Writer

	mu      sync.Mutex
	faulted map[mesh.CoreID]bool
}

// NewFaultLog creates a FaultLog printing to w. A nil w only records.
func NewFaultLog(w io.Writer) *FaultLog {
	return &FaultLog{w: w, faulted: make(map[mesh.CoreID]bool)}
}

// Wants selects fault events only.
func (f *FaultLog) Wants(kind emu.EventKind) bool {
	return kind != emu.EventValidInstruction
}

// Notify records and prints e.
func (f *FaultLog) Notify(e emu.Event) {
	if !e.IsFault() {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.faulted[e.Core] = true
	if f.w != nil {
		fmt.Fprintln(f.w, e)
	}
}

// Faulted reports whether core id raised a fault.
func (f *FaultLog) Faulted(id mesh.CoreID) bool {
	if f == nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faulted[id]
}

// NewLogger builds the machine logger. The level comes from E_SIM_LOG;
// verbose raises it to at least Info.
func NewLogger(w io.Writer, lookup func(string) (string, bool), verbose bool) (*emu.SlogLogger, error) {
	level, err := emu.LevelFromEnv("E_SIM_LOG", lookup)
	if err != nil {
		return nil, err
	}
	if verbose && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	return emu.NewTextLogger(w, level), nil
}

// Decoder returns a decoder with the extension script at path registered.
// An empty path gives a plain decoder and a nil script.
func Decoder(path string) (*insts.Decoder, *luaext.Script, error) {
	d := insts.NewDecoder()
	if path == "" {
		return d, nil, nil
	}

	s, err := luaext.Load(path)
	if err != nil {
		return nil, nil, err
	}
	s.Register(d)
	return d, s, nil
}
