package emu

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument reports a malformed API call, such as an interrupt
// level paired with the wrong exception cause.
var ErrInvalidArgument = errors.New("invalid argument")

// MemoryFault reports an access to an address that does not resolve to
// usable memory. It halts the issuing core.
type MemoryFault struct {
	Addr   uint32
	Write  bool
	Reason string
}

func (e *MemoryFault) Error() string {
	kind := "read"
	if e.Write {
		kind = "write"
	}
	if e.Reason == "" {
		return fmt.Sprintf("invalid memory %s at 0x%08X", kind, e.Addr)
	}
	return fmt.Sprintf("invalid memory %s at 0x%08X: %s", kind, e.Addr, e.Reason)
}

func fault(addr uint32, write bool, reason string) *MemoryFault {
	return &MemoryFault{Addr: addr, Write: write, Reason: reason}
}

// MisalignedError reports a multi-byte access whose address is not a
// multiple of its size. The instruction is abandoned and a software
// exception is raised; the core keeps running.
type MisalignedError struct {
	Addr  uint32
	Size  uint32
	Write bool
}

func (e *MisalignedError) Error() string {
	return fmt.Sprintf("unaligned %d-byte access at 0x%08X", e.Size, e.Addr)
}
