package emu

import (
	"fmt"

	"github.com/sarchlab/esim/bits"
	"github.com/sarchlab/esim/mesh"
)

// Interrupt is an interrupt level. Lower levels have higher priority and
// vector to level*4.
type Interrupt uint8

// Interrupt levels.
const (
	InterruptSync Interrupt = iota
	InterruptSoftwareException
	InterruptTimer0
	InterruptTimer1
	InterruptMessage
	InterruptDMA0
	InterruptDMA1
	InterruptWiredAnd
	InterruptUser

	numInterrupts = 9
)

// interruptBits masks the ILAT, IMASK and IPEND bits in use.
const interruptBits = 1<<numInterrupts - 1

var interruptNames = [numInterrupts]string{
	"sync", "software-exception", "timer0", "timer1", "message",
	"dma0", "dma1", "wired-and", "user",
}

func (i Interrupt) String() string {
	if i < numInterrupts {
		return interruptNames[i]
	}
	return fmt.Sprintf("interrupt(%d)", uint8(i))
}

// ExceptionCause explains a software exception.
type ExceptionCause uint8

// Exception causes.
const (
	CauseNone ExceptionCause = iota
	CauseUnimplemented
	CauseSoftwareInterrupt
	CauseUnalignedAccess
	CauseIllegalAccess
	CauseFloatingPoint
)

// causeCodes holds the EXCAUSE encodings for Epiphany III and IV.
var causeCodes = [...]struct{ iii, iv uint32 }{
	CauseUnimplemented:     {0x4, 0xF},
	CauseSoftwareInterrupt: {0x1, 0xE},
	CauseUnalignedAccess:   {0x2, 0xD},
	CauseIllegalAccess:     {0x5, 0xC},
	CauseFloatingPoint:     {0x3, 0x7},
}

// Code returns the EXCAUSE value of the cause and the width of the field
// for the architecture.
func (c ExceptionCause) Code(arch mesh.Architecture) (code uint32, width int) {
	if c == CauseNone || int(c) >= len(causeCodes) {
		return 0, 0
	}
	if arch == mesh.EpiphanyIV {
		return causeCodes[c].iv, 4
	}
	return causeCodes[c].iii, 3
}

// InterruptController latches, prioritizes and delivers a core's
// interrupts. All state lives in the core's registers.
type InterruptController struct {
	core *Core
}

// Trigger latches an interrupt. A cause is required for SoftwareException
// and User and forbidden otherwise.
func (ic *InterruptController) Trigger(level Interrupt, cause ExceptionCause) error {
	if level >= numInterrupts {
		return fmt.Errorf("%w: interrupt level %d", ErrInvalidArgument, level)
	}
	if int(cause) >= len(causeCodes) {
		return fmt.Errorf("%w: exception cause %d", ErrInvalidArgument, cause)
	}

	needsCause := level == InterruptSoftwareException || level == InterruptUser
	if needsCause != (cause != CauseNone) {
		return fmt.Errorf("%w: cause %d with interrupt %s", ErrInvalidArgument, cause, level)
	}

	code, width := cause.Code(ic.core.machine.arch)

	ic.core.withRegs(func(r RegFile) {
		r.Set(RegILat, bits.Set(r.Get(RegILat), int(level)))
		if width > 0 {
			r.Set(RegStatus, bits.Insert(r.Get(RegStatus), code, StatusExCauseLSB, width))
		}
	})

	ic.core.machine.logger.Debug(ic.core.id, "interrupt latched", "level", level)
	return nil
}

// Update delivers the highest-priority deliverable interrupt. It reports
// whether one was delivered.
func (ic *InterruptController) Update() bool {
	delivered := Interrupt(numInterrupts)

	ic.core.withRegs(func(r RegFile) {
		if r.Check(RegStatus, StatusGID) {
			return
		}

		latch, mask, pend := r.Get(RegILat), r.Get(RegIMask), r.Get(RegIPend)
		for i := Interrupt(0); i < numInterrupts; i++ {
			bit := uint32(1) << i
			if latch&bit == 0 || mask&bit != 0 {
				continue
			}
			// Skip while this or a higher-priority level is in service.
			if pend&(bit<<1-1) != 0 {
				continue
			}

			r.Set(RegIRET, r.Get(RegPC))
			r.Set(RegILat, latch&^bit)
			r.Set(RegIPend, pend|bit)

			status := bits.Set(r.Get(RegStatus), StatusGID)
			if r.Check(RegConfig, ConfigKernelOnIRQ) {
				status = bits.Set(status, StatusKernel)
			}
			r.Set(RegStatus, status)
			r.Set(RegPC, mesh.VectorBase+uint32(i)*4)

			delivered = i
			return
		}
	})

	if delivered == numInterrupts {
		return false
	}

	ic.core.machine.logger.Debug(ic.core.id, "interrupt delivered", "level", delivered)
	return true
}

// Return leaves the interrupt in service: the highest-priority pending
// bit is cleared, interrupts are re-enabled and PC is restored from IRET.
func (ic *InterruptController) Return() {
	ic.core.withRegs(func(r RegFile) {
		pend := r.Get(RegIPend)
		r.Set(RegIPend, pend&(pend-1))

		status := bits.Clear(r.Get(RegStatus), StatusGID)
		r.Set(RegStatus, bits.Clear(status, StatusKernel))
		r.Set(RegPC, r.Get(RegIRET))
	})
}

// Pending returns the IPEND register.
func (ic *InterruptController) Pending() uint32 {
	var v uint32
	ic.core.withRegs(func(r RegFile) { v = r.Get(RegIPend) })
	return v
}
