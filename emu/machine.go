// Package emu emulates a grid of Epiphany eCores. Every core runs its own
// goroutine; cores share a flat address space made of their local memories
// and one external memory segment.
package emu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/esim/bits"
	"github.com/sarchlab/esim/insts"
	"github.com/sarchlab/esim/mesh"
)

// Default core loop sleep durations.
const (
	DefaultIdleDuration  = 10 * time.Millisecond
	DefaultSleepDuration = 50 * time.Millisecond
)

// ErrAlreadyStarted is returned by Start on a machine that is running.
var ErrAlreadyStarted = errors.New("machine already started")

// Machine is a grid of cores sharing external memory.
type Machine struct {
	arch    mesh.Architecture
	rows    int
	columns int

	cores   []*Core
	memory  *Memory
	decoder *insts.Decoder

	kernel     Kernel
	logger     Logger
	notifier   Notifier
	traceValid bool

	idleDuration  time.Duration
	sleepDuration time.Duration

	halting atomic.Bool
	wandMu  sync.Mutex

	runMu     sync.Mutex
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// MachineOption is a functional option for configuring a Machine.
type MachineOption func(*Machine)

// WithKernel sets the kernel that services traps and breakpoints.
func WithKernel(k Kernel) MachineOption {
	return func(m *Machine) {
		m.kernel = k
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l Logger) MachineOption {
	return func(m *Machine) {
		m.logger = l
	}
}

// WithNotifier sets the sink for core events.
func WithNotifier(n Notifier) MachineOption {
	return func(m *Machine) {
		m.notifier = n
	}
}

// WithDecoder sets the instruction decoder, for example one with
// extensions registered.
func WithDecoder(d *insts.Decoder) MachineOption {
	return func(m *Machine) {
		m.decoder = d
	}
}

// WithIdleDuration sets how long an idle core waits between polls.
func WithIdleDuration(d time.Duration) MachineOption {
	return func(m *Machine) {
		m.idleDuration = d
	}
}

// WithSleepDuration sets how long an inactive core waits between polls.
func WithSleepDuration(d time.Duration) MachineOption {
	return func(m *Machine) {
		m.sleepDuration = d
	}
}

// NewMachine creates a rows x columns grid with memorySize bytes of external
// memory. All cores start inactive.
func NewMachine(
	arch mesh.Architecture,
	rows, columns int,
	memorySize uint32,
	opts ...MachineOption,
) (*Machine, error) {
	if err := ValidateGrid(arch, rows, columns, memorySize); err != nil {
		return nil, err
	}

	m := &Machine{
		arch:          arch,
		rows:          rows,
		columns:       columns,
		kernel:        NullKernel{},
		logger:        NullLogger{},
		idleDuration:  DefaultIdleDuration,
		sleepDuration: DefaultSleepDuration,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.decoder == nil {
		m.decoder = insts.NewDecoder()
	}
	if f, ok := m.notifier.(kindFilter); ok {
		m.traceValid = f.Wants(EventValidInstruction)
	} else {
		m.traceValid = m.notifier != nil
	}

	m.memory = newMemory(memorySize, m.Core)
	m.cores = make([]*Core, 0, rows*columns)
	for r := 0; r < rows; r++ {
		for c := 0; c < columns; c++ {
			m.cores = append(m.cores, newCore(m, mesh.CoreID{Row: uint8(r), Column: uint8(c)}))
		}
	}

	return m, nil
}

// ValidateGrid checks that a grid of the given shape and external memory size
// can be built, returning an ErrInvalidArgument error when it cannot.
func ValidateGrid(arch mesh.Architecture, rows, columns int, memorySize uint32) error {
	switch {
	case !arch.Valid():
		return fmt.Errorf("%w: architecture %d", ErrInvalidArgument, arch)
	case rows < 2 || rows > mesh.MaxRows:
		return fmt.Errorf("%w: %d rows, want 2 to %d", ErrInvalidArgument, rows, mesh.MaxRows)
	case columns < 2 || columns > mesh.MaxColumns:
		return fmt.Errorf("%w: %d columns, want 2 to %d", ErrInvalidArgument, columns, mesh.MaxColumns)
	case memorySize < mesh.MinMemorySize || memorySize > mesh.MaxMemorySize:
		return fmt.Errorf("%w: external memory of %d bytes", ErrInvalidArgument, memorySize)
	}

	last := mesh.CoreID{Row: uint8(rows - 1), Column: uint8(columns - 1)}
	if last.Address(0) >= mesh.ExternalBase {
		return fmt.Errorf("%w: core %s overlaps external memory", ErrInvalidArgument, last)
	}
	return nil
}

// Arch returns the emulated architecture.
func (m *Machine) Arch() mesh.Architecture { return m.arch }

// Rows returns the number of grid rows.
func (m *Machine) Rows() int { return m.rows }

// Columns returns the number of grid columns.
func (m *Machine) Columns() int { return m.columns }

// Core returns the core at id, or nil if id is outside the grid.
func (m *Machine) Core(id mesh.CoreID) *Core {
	if int(id.Row) >= m.rows || int(id.Column) >= m.columns {
		return nil
	}
	return m.cores[int(id.Row)*m.columns+int(id.Column)]
}

// Cores returns every core in row-major order.
func (m *Machine) Cores() []*Core { return m.cores }

// Memory returns the machine's memory router.
func (m *Machine) Memory() *Memory { return m.memory }

// Decoder returns the instruction decoder shared by all cores.
func (m *Machine) Decoder() *insts.Decoder { return m.decoder }

// Kernel returns the machine's kernel.
func (m *Machine) Kernel() Kernel { return m.kernel }

// Logger returns the machine's logger.
func (m *Machine) Logger() Logger { return m.logger }

// Stats sums the statistics of every core.
func (m *Machine) Stats() Stats {
	var total Stats
	for _, c := range m.cores {
		s := c.timer.Stats()
		total.Cycles += s.Cycles
		total.IdleCycles += s.IdleCycles
		total.Instructions += s.Instructions
		total.IntegerInstructions += s.IntegerInstructions
		total.FloatInstructions += s.FloatInstructions
	}
	return total
}

// Active reports whether any core has ACTIVE set or is waiting in IDLE.
func (m *Machine) Active() bool {
	for _, c := range m.cores {
		if c.IsActive() || c.IsIdle() {
			return true
		}
	}
	return false
}

// Start launches one goroutine per core. The loops stop when the machine
// halts or ctx is cancelled.
func (m *Machine) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.group != nil {
		return ErrAlreadyStarted
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.cores {
		g.Go(func() error { return c.Run(gctx) })
	}
	m.group = g
	return nil
}

// Halting reports whether Halt has been called.
func (m *Machine) Halting() bool { return m.halting.Load() }

// Halt asks every core loop to stop after its current tick.
func (m *Machine) Halt() { m.halting.Store(true) }

// Join waits for every core loop to stop.
func (m *Machine) Join() error {
	m.runMu.Lock()
	g := m.group
	m.runMu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

// Close halts the machine, joins the core loops and closes the kernel.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		m.Halt()
		m.closeErr = errors.Join(m.Join(), m.kernel.Close())
	})
	return m.closeErr
}

// sync latches the Sync interrupt on every core.
func (m *Machine) sync() {
	for _, c := range m.cores {
		_ = c.interrupts.Trigger(InterruptSync, CauseNone)
	}
}

// wiredAnd sets the caller's WAND flag. Once every core has set it, the
// flags are cleared and WiredAnd is latched everywhere.
func (m *Machine) wiredAnd(caller *Core) {
	m.wandMu.Lock()
	defer m.wandMu.Unlock()

	caller.withRegs(func(r RegFile) { r.SetBit(RegStatus, StatusWiredAnd, true) })

	for _, c := range m.cores {
		var set bool
		c.withRegs(func(r RegFile) { set = r.Check(RegStatus, StatusWiredAnd) })
		if !set {
			return
		}
	}

	for _, c := range m.cores {
		c.withRegs(func(r RegFile) {
			r.Set(RegStatus, bits.Clear(r.Get(RegStatus), StatusWiredAnd))
		})
		_ = c.interrupts.Trigger(InterruptWiredAnd, CauseNone)
	}
	m.logger.Debug(caller.id, "wired-and complete")
}
