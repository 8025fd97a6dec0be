package emu

// DebugUnit holds a core's DEBUGSTATUS state. A core whose halt bit is set
// does not execute.
type DebugUnit struct {
	core *Core
}

// Update reports whether the core is halted by the debugger.
func (d *DebugUnit) Update() bool {
	return d.Halted()
}

// Halted reports whether the halt bit is set.
func (d *DebugUnit) Halted() bool {
	var on bool
	d.core.withRegs(func(r RegFile) { on = r.Check(RegDebugStatus, DebugHalt) })
	return on
}

// MultiBreakpoint reports whether the core stopped on an MBKPT.
func (d *DebugUnit) MultiBreakpoint() bool {
	var on bool
	d.core.withRegs(func(r RegFile) { on = r.Check(RegDebugStatus, DebugMultiBkpt) })
	return on
}

// Halt stops the core at its current PC.
func (d *DebugUnit) Halt() {
	d.core.withRegs(func(r RegFile) { r.SetBit(RegDebugStatus, DebugHalt, true) })
}

// Resume clears the halt and breakpoint bits and sets ACTIVE.
func (d *DebugUnit) Resume() {
	d.core.withRegs(func(r RegFile) {
		r.SetBit(RegDebugStatus, DebugHalt, false)
		r.SetBit(RegDebugStatus, DebugMultiBkpt, false)
		r.SetBit(RegStatus, StatusActive, true)
	})
}

func (d *DebugUnit) breakpoint(multi bool) {
	d.core.withRegs(func(r RegFile) {
		r.SetBit(RegDebugStatus, DebugHalt, true)
		if multi {
			r.SetBit(RegDebugStatus, DebugMultiBkpt, true)
		}
	})
	d.core.machine.logger.Debug(d.core.id, "breakpoint", "multi", multi)
}
