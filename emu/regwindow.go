package emu

import (
	"github.com/sarchlab/esim/bits"
	"github.com/sarchlab/esim/mesh"
)

// writeHook runs under the target core's lock before a register store is
// committed. It returns the value that is actually written.
type writeHook func(r RegFile, v uint32) uint32

type registerSlot struct {
	reserved bool
	write    writeHook
}

// registerWindow maps every word of the register file to its handler.
var registerWindow [mesh.RegisterFileSize / 4]registerSlot

func slotAt(off uint32) *registerSlot {
	return &registerWindow[(off-mesh.RegisterFileBase)/4]
}

func reserveRegisters(start, end uint32) {
	for off := start; off < end; off += 4 {
		slotAt(off).reserved = true
	}
}

func init() {
	reserveRegisters(RegGPR+4*64, RegConfig)
	reserveRegisters(0xF0410, 0xF0414)
	reserveRegisters(0xF0444, 0xF0448)
	reserveRegisters(0xF044C, RegDMA0)
	reserveRegisters(RegDMA1+0x20, RegMemStatus)
	reserveRegisters(RegMemProtect+4, RegMeshConfig)
	reserveRegisters(RegRMeshRoute+4, mesh.RegisterFileBase+mesh.RegisterFileSize)

	slotAt(RegStatus).write = writeStatus
	slotAt(RegStatusStore).write = writeStatusStore
	slotAt(RegDebugCmd).write = writeDebugCmd
	slotAt(RegResetCore).write = writeResetCore
	slotAt(RegILatSet).write = writeILatSet
	slotAt(RegILatClear).write = writeILatClear
}

// ACTIVE, GID and kernel mode cannot be changed by a store to STATUS.
func writeStatus(r RegFile, v uint32) uint32 {
	return bits.Insert(v, r.Field(RegStatus, 0, 3), 0, 3)
}

func writeStatusStore(r RegFile, v uint32) uint32 {
	r.Set(RegStatus, v)
	return v
}

func writeDebugCmd(r RegFile, v uint32) uint32 {
	switch bits.Extract(v, 0, 2) {
	case 0:
		r.SetBit(RegDebugStatus, DebugHalt, false)
	case 1:
		r.SetBit(RegDebugStatus, DebugHalt, true)
	}
	return v
}

func writeResetCore(r RegFile, v uint32) uint32 {
	if !bits.Check(v, 0) {
		id := r.Get(RegCoreID)
		r.clear()
		r.Set(RegCoreID, id)
	}
	return v
}

func writeILatSet(r RegFile, v uint32) uint32 {
	r.Set(RegILat, r.Get(RegILat)|v&interruptBits)
	return v
}

func writeILatClear(r RegFile, v uint32) uint32 {
	r.Set(RegILat, r.Get(RegILat)&^(v&interruptBits))
	return v
}

// checkRegisterAccess validates a load or store that targets the register
// window. Only aligned word accesses to documented registers are legal.
func checkRegisterAccess(addr, off, size uint32, write bool) error {
	if off%4 != 0 {
		return fault(addr, write, "unaligned register access")
	}
	if size != 4 {
		return fault(addr, write, "register access must be a word")
	}
	if slotAt(off).reserved {
		return fault(addr, write, "reserved register")
	}
	return nil
}

// storeRegister commits a checked register store, running its hook.
// The caller holds the core lock.
func storeRegister(r RegFile, off, v uint32) {
	if hook := slotAt(off).write; hook != nil {
		v = hook(r, v)
	}
	r.Set(off, v)
}
