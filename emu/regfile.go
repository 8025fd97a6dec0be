package emu

import (
	"encoding/binary"

	"github.com/sarchlab/esim/bits"
	"github.com/sarchlab/esim/mesh"
)

// Local offsets of the memory-mapped registers.
const (
	RegGPR = mesh.RegisterFileBase // r0; rN lives at RegGPR + 4*N

	RegConfig      = 0xF0400
	RegStatus      = 0xF0404
	RegPC          = 0xF0408
	RegDebugStatus = 0xF040C
	RegLC          = 0xF0414
	RegLS          = 0xF0418
	RegLE          = 0xF041C
	RegIRET        = 0xF0420
	RegIMask       = 0xF0424
	RegILat        = 0xF0428
	RegILatSet     = 0xF042C
	RegILatClear   = 0xF0430
	RegIPend       = 0xF0434
	RegCTimer0     = 0xF0438
	RegCTimer1     = 0xF043C
	RegStatusStore = 0xF0440
	RegDebugCmd    = 0xF0448

	RegDMA0 = 0xF0500 // first register of DMA channel 0
	RegDMA1 = 0xF0520 // first register of DMA channel 1

	RegMemStatus  = 0xF0604
	RegMemProtect = 0xF0608

	RegMeshConfig = 0xF0700
	RegCoreID     = 0xF0704
	RegMulticast  = 0xF0708
	RegResetCore  = 0xF070C
	RegCMeshRoute = 0xF0710
	RegXMeshRoute = 0xF0714
	RegRMeshRoute = 0xF0718
)

// Offsets within a DMA channel block.
const (
	DMAConfig = 0x00
	DMAStride = 0x04
	DMACount  = 0x08
	DMASource = 0x0C
	DMADest   = 0x10
	DMAAuto0  = 0x14
	DMAAuto1  = 0x18
	DMAStatus = 0x1C
)

// STATUS bits.
const (
	StatusActive     = 0
	StatusGID        = 1
	StatusKernel     = 2
	StatusWiredAnd   = 3
	StatusAZ         = 4
	StatusAN         = 5
	StatusAC         = 6
	StatusAV         = 7
	StatusBZ         = 8
	StatusBN         = 9
	StatusBV         = 10
	StatusAVS        = 12
	StatusBIS        = 13
	StatusBVS        = 14
	StatusBUS        = 15
	StatusExCauseLSB = 16
)

// CONFIG bits and fields.
const (
	ConfigTruncate        = 0
	ConfigInvalidEnable   = 1
	ConfigOverflowEnable  = 2
	ConfigUnderflowEnable = 3
	ConfigTimer0ModeLSB   = 4
	ConfigTimer1ModeLSB   = 8
	ConfigArithModeLSB    = 17
	ConfigKernelOnIRQ     = 25
)

// DEBUGSTATUS bits.
const (
	DebugHalt      = 0
	DebugMultiBkpt = 2
)

// RegFile is a view of the register window inside a core's local memory.
// It performs no locking; callers hold the owning core's lock.
type RegFile []byte

func gprOffset(n uint8) uint32 {
	return RegGPR + uint32(n&63)*4
}

// Reg reads general-purpose register n.
func (r RegFile) Reg(n uint8) uint32 {
	return r.Get(gprOffset(n))
}

// SetReg writes general-purpose register n.
func (r RegFile) SetReg(n uint8, v uint32) {
	r.Set(gprOffset(n), v)
}

// Get reads the word at a local offset.
func (r RegFile) Get(off uint32) uint32 {
	return binary.LittleEndian.Uint32(r[off : off+4])
}

// Set writes the word at a local offset without side effects.
func (r RegFile) Set(off, v uint32) {
	binary.LittleEndian.PutUint32(r[off:off+4], v)
}

// Check reports whether a bit of the register at off is set.
func (r RegFile) Check(off uint32, bit int) bool {
	return bits.Check(r.Get(off), bit)
}

// SetBit sets or clears a bit of the register at off.
func (r RegFile) SetBit(off uint32, bit int, on bool) {
	v := r.Get(off)
	if on {
		v = bits.Set(v, bit)
	} else {
		v = bits.Clear(v, bit)
	}
	r.Set(off, v)
}

// Field extracts a bit field of the register at off.
func (r RegFile) Field(off uint32, start, count int) uint32 {
	return bits.Extract(r.Get(off), start, count)
}

// clear zeroes the whole register window.
func (r RegFile) clear() {
	clear(r[mesh.RegisterFileBase : mesh.RegisterFileBase+mesh.RegisterFileSize])
}
