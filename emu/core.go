package emu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/esim/insts"
	"github.com/sarchlab/esim/mesh"
)

// StepResult represents the result of one tick of a core.
type StepResult struct {
	// Executed is true if an instruction was executed.
	Executed bool

	// Interrupted is true if an interrupt was delivered this tick.
	Interrupted bool

	// Sleep is how long the core loop should wait before the next tick.
	Sleep time.Duration

	// Err is set when a fault halted the core.
	Err error
}

// Core is one eCore: 1 MiB of local memory holding its register file, an
// interrupt controller, a DMA engine, an event timer and a debug unit.
type Core struct {
	id      mesh.CoreID
	machine *Machine

	mu    sync.Mutex
	local []byte

	interrupts *InterruptController
	dma        *DMAEngine
	timer      *EventTimer
	debug      *DebugUnit

	idle     atomic.Bool
	passed   atomic.Bool
	failed   atomic.Bool
	exitCode atomic.Int32
}

func newCore(m *Machine, id mesh.CoreID) *Core {
	c := &Core{
		id:      id,
		machine: m,
		local:   make([]byte, mesh.LocalMemorySize),
	}
	c.interrupts = &InterruptController{core: c}
	c.dma = &DMAEngine{core: c}
	c.timer = &EventTimer{core: c}
	c.debug = &DebugUnit{core: c}

	RegFile(c.local).Set(RegCoreID, id.Register())
	return c
}

// ID returns the core's mesh coordinate.
func (c *Core) ID() mesh.CoreID { return c.id }

// Machine returns the machine the core belongs to.
func (c *Core) Machine() *Machine { return c.machine }

// Interrupts returns the core's interrupt controller.
func (c *Core) Interrupts() *InterruptController { return c.interrupts }

// DMA returns the core's DMA engine.
func (c *Core) DMA() *DMAEngine { return c.dma }

// Timer returns the core's event timer.
func (c *Core) Timer() *EventTimer { return c.timer }

// Debugger returns the core's debug unit.
func (c *Core) Debugger() *DebugUnit { return c.debug }

// withRegs runs fn with the core lock held.
func (c *Core) withRegs(fn func(r RegFile)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(RegFile(c.local))
}

func checkGPR(n uint8) {
	if n >= insts.NumRegisters {
		panic(fmt.Sprintf("emu: register r%d out of range", n))
	}
}

// Reg reads general-purpose register n. It panics if n > 63.
func (c *Core) Reg(n uint8) uint32 {
	checkGPR(n)
	var v uint32
	c.withRegs(func(r RegFile) { v = r.Reg(n) })
	return v
}

// SetReg writes general-purpose register n. It panics if n > 63.
func (c *Core) SetReg(n uint8, v uint32) {
	checkGPR(n)
	c.withRegs(func(r RegFile) { r.SetReg(n, v) })
}

func checkSysReg(off uint32) {
	if !mesh.InRegisterFile(off) || off%4 != 0 {
		panic(fmt.Sprintf("emu: 0x%05X is not a register offset", off))
	}
}

// SysReg reads the register at a local offset such as RegStatus.
func (c *Core) SysReg(off uint32) uint32 {
	checkSysReg(off)
	var v uint32
	c.withRegs(func(r RegFile) { v = r.Get(off) })
	return v
}

// SetSysReg writes the register at a local offset directly, without the
// side effects a memory store would have.
func (c *Core) SetSysReg(off, v uint32) {
	checkSysReg(off)
	c.withRegs(func(r RegFile) { r.Set(off, v) })
}

// PC returns the program counter.
func (c *Core) PC() uint32 { return c.SysReg(RegPC) }

// SetPC sets the program counter.
func (c *Core) SetPC(pc uint32) { c.SetSysReg(RegPC, pc) }

// Status returns the STATUS register.
func (c *Core) Status() uint32 { return c.SysReg(RegStatus) }

// IsActive reports whether the ACTIVE bit is set.
func (c *Core) IsActive() bool {
	var on bool
	c.withRegs(func(r RegFile) { on = r.Check(RegStatus, StatusActive) })
	return on
}

// SetActive sets or clears the ACTIVE bit.
func (c *Core) SetActive(on bool) {
	c.withRegs(func(r RegFile) { r.SetBit(RegStatus, StatusActive, on) })
}

// IsIdle reports whether the core is waiting in IDLE for an interrupt.
func (c *Core) IsIdle() bool { return c.idle.Load() }

// Passed reports whether the core executed the pass trap.
func (c *Core) Passed() bool { return c.passed.Load() }

// Failed reports whether the core executed the fail trap.
func (c *Core) Failed() bool { return c.failed.Load() }

// ExitCode returns the code passed to the exit trap, or 0.
func (c *Core) ExitCode() int32 { return c.exitCode.Load() }

// halt clears ACTIVE. It bypasses the STATUS store mask.
func (c *Core) halt() {
	c.SetActive(false)
}

func (c *Core) notify(e Event) {
	if n := c.machine.notifier; n != nil {
		e.Core = c.id
		n.Notify(e)
	}
}

// errNoMatch marks a word that no decoder table recognized.
var errNoMatch = errors.New("no instruction matches")

func (c *Core) fetch(pc uint32) (insts.Instruction, uint32, error) {
	mem := c.machine.memory
	dec := c.machine.decoder

	lo, err := mem.Read16(c, pc)
	if err != nil {
		return insts.Instruction{}, 0, err
	}
	if inst, ok := dec.Decode16(lo); ok {
		return inst, uint32(lo), nil
	}

	hi, err := mem.Read16(c, pc+2)
	if err != nil {
		return insts.Instruction{}, 0, err
	}

	word := uint32(lo) | uint32(hi)<<16
	inst, ok := dec.Decode32(word)
	if !ok {
		return inst, word, errNoMatch
	}
	return inst, word, nil
}

// fail halts the core and then reports the fault.
func (c *Core) fail(e Event, err error) StepResult {
	c.halt()
	c.notify(e)
	c.machine.logger.Verbose(c.id, "core halted", "event", e.Kind, "err", err)
	return StepResult{Err: err}
}

func (c *Core) memoryFault(pc uint32, err error) StepResult {
	e := Event{Kind: EventInvalidMemoryAccess, PC: pc}
	var mf *MemoryFault
	if errors.As(err, &mf) {
		e.Addr, e.Write = mf.Addr, mf.Write
	}
	return c.fail(e, err)
}

// Step runs one tick of the core loop: timers, DMA and interrupts are
// serviced and, if the core is active, one instruction is executed.
func (c *Core) Step() StepResult {
	var res StepResult

	c.timer.tickClock()
	c.dma.Update()

	res.Interrupted = c.interrupts.Update()

	if c.idle.Load() {
		c.timer.tickIdle()
		if !res.Interrupted {
			res.Sleep = c.machine.idleDuration
			return res
		}
		c.idle.Store(false)
		c.SetActive(true)
	}

	if c.debug.Update() {
		c.halt()
		res.Sleep = c.machine.sleepDuration
		return res
	}

	if !c.IsActive() {
		res.Sleep = c.machine.sleepDuration
		return res
	}

	pc := c.PC()
	if pc%2 != 0 {
		err := fmt.Errorf("odd program counter 0x%08X", pc)
		return c.fail(Event{Kind: EventInvalidProgramCounter, PC: pc}, err)
	}

	inst, word, err := c.fetch(pc)
	switch {
	case errors.Is(err, errNoMatch):
		return c.fail(Event{Kind: EventInvalidInstruction, PC: pc, Word: word},
			fmt.Errorf("invalid instruction 0x%08X at 0x%08X", word, pc))
	case err != nil:
		return c.memoryFault(pc, err)
	}

	if err := inst.Check(); err != nil {
		return c.fail(Event{Kind: EventInvalidEncoding, PC: pc, Inst: inst}, err)
	}

	c.machine.logger.Trace(c.id, "execute", "pc", pc, "inst", inst)

	sig, err := c.execute(inst, pc)

	var mis *MisalignedError
	var mf *MemoryFault
	switch {
	case errors.As(err, &mis):
		// The access is abandoned; the handler sees IRET past it.
		_ = c.interrupts.Trigger(InterruptSoftwareException, CauseUnalignedAccess)
		sig = SignalNext
	case errors.As(err, &mf):
		return c.memoryFault(pc, err)
	case err != nil:
		return c.fail(Event{Kind: EventInvalidEncoding, PC: pc, Inst: inst}, err)
	}

	c.timer.tickInstruction(inst, c.integerMode())
	c.advance(inst, pc, sig)

	if c.machine.traceValid {
		c.notify(Event{Kind: EventValidInstruction, PC: pc, Inst: inst})
	}

	res.Executed = true
	return res
}

// advance moves PC past an executed instruction, honoring the hardware
// loop registers.
func (c *Core) advance(inst insts.Instruction, pc uint32, sig Signal) {
	switch sig {
	case SignalNext:
		c.withRegs(func(r RegFile) {
			next := pc + inst.Width()
			if lc := r.Get(RegLC); lc != 0 && pc == r.Get(RegLE) {
				r.Set(RegLC, lc-1)
				next = r.Get(RegLS)
			}
			r.Set(RegPC, next)
		})
	case SignalIdle:
		c.withRegs(func(r RegFile) {
			r.Set(RegPC, pc+inst.Width())
			r.SetBit(RegStatus, StatusActive, false)
		})
		c.idle.Store(true)
	}
}

// Run executes the core loop until the machine halts or ctx is done.
func (c *Core) Run(ctx context.Context) error {
	done := ctx.Done()

	for !c.machine.Halting() {
		res := c.Step()
		if res.Sleep <= 0 {
			select {
			case <-done:
				return nil
			default:
			}
			continue
		}

		t := time.NewTimer(res.Sleep)
		select {
		case <-done:
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	return nil
}
