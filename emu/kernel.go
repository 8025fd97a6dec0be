package emu

import "fmt"

// Capabilities tells the machine which services a kernel provides.
type Capabilities uint8

// Kernel capabilities.
const (
	CapSystemCalls Capabilities = 1 << iota
	CapDebugging

	CapNone Capabilities = 0
	CapAll               = CapSystemCalls | CapDebugging
)

func (c Capabilities) String() string {
	switch c {
	case CapNone:
		return "none"
	case CapSystemCalls:
		return "syscalls"
	case CapDebugging:
		return "debugging"
	case CapAll:
		return "all"
	}
	return fmt.Sprintf("capabilities(%d)", uint8(c))
}

// Error numbers returned to programs in r3.
const (
	ENOENT       = 2
	EIO          = 5
	EBADF        = 9
	EACCES       = 13
	EFAULT       = 14
	EEXIST       = 17
	EINVAL       = 22
	ENAMETOOLONG = 36
	ENOSYS       = 38
)

// SyscallRegs carries a system call between a core and its kernel: r3 holds
// the call number, r0-r2 the arguments. The kernel leaves the result in R0
// and the error number in R3.
type SyscallRegs struct {
	R0, R1, R2, R3 uint32
}

// Number returns the system call number.
func (r *SyscallRegs) Number() uint32 { return r.R3 }

func (r *SyscallRegs) ok(result uint32) {
	r.R0, r.R3 = result, 0
}

func (r *SyscallRegs) fail(errno uint32) {
	r.R0, r.R3 = ^uint32(0), errno
}

// Kernel services traps and breakpoints for every core of a machine. It is
// called from core goroutines concurrently.
type Kernel interface {
	Capabilities() Capabilities
	Syscall(c *Core, regs *SyscallRegs)
	Breakpoint(c *Core)
	Close() error
}

// NullKernel provides nothing. Without CapSystemCalls a syscall trap halts
// the core like any other trap, and breakpoints only halt the core.
type NullKernel struct{}

// Capabilities returns CapNone.
func (NullKernel) Capabilities() Capabilities { return CapNone }

// Syscall fails every call. Cores never call it since Capabilities
// excludes CapSystemCalls.
func (NullKernel) Syscall(_ *Core, regs *SyscallRegs) { regs.fail(ENOSYS) }

// Breakpoint does nothing.
func (NullKernel) Breakpoint(*Core) {}

// Close does nothing.
func (NullKernel) Close() error { return nil }
