// Package mesh models the Epiphany eMesh address space.
//
// Every 32-bit address carries a core coordinate in its top 12 bits and a
// local offset in the low 20 bits:
//
//	row[31:26] | column[25:20] | local[19:0]
//
// Coordinate (0, 0) is special: it aliases the core performing the access.
package mesh

import (
	"errors"
	"fmt"
)

// Address space layout.
const (
	MaxRows    = 64
	MaxColumns = 64

	LocalMemorySize = 1 << 20

	VectorBase       = 0x00000000
	VectorTableSize  = 16 * 4
	RegisterFileBase = 0x000F0000
	RegisterFileSize = 2 * 1024

	Reserved0Base = 0x00008000
	Reserved0End  = RegisterFileBase
	Reserved1Base = RegisterFileBase + RegisterFileSize
	Reserved1End  = LocalMemorySize

	ExternalBase     = 0x8E000000
	HostExternalBase = 0x1E000000
	MinMemorySize    = 32 * 1024 * 1024
	MaxMemorySize    = 1024 * 1024 * 1024
)

const (
	rowShift    = 26
	columnShift = 20
	coordMask   = 0x3F
	localMask   = LocalMemorySize - 1
)

// ErrOutOfRange is returned for a coordinate outside the 64x64 mesh.
var ErrOutOfRange = errors.New("mesh: coordinate out of range")

// CoreID identifies an eCore by its mesh coordinate.
type CoreID struct {
	Row    uint8
	Column uint8
}

// Current is the coordinate that aliases the accessing core.
var Current = CoreID{}

// NewCoreID validates and returns a coordinate.
func NewCoreID(row, column int) (CoreID, error) {
	if row < 0 || row >= MaxRows || column < 0 || column >= MaxColumns {
		return CoreID{}, fmt.Errorf("%w: (%d, %d)", ErrOutOfRange, row, column)
	}
	return CoreID{Row: uint8(row), Column: uint8(column)}, nil
}

// FromAddress splits an address into its core coordinate and local offset.
func FromAddress(addr uint32) (CoreID, uint32) {
	id := CoreID{
		Row:    uint8((addr >> rowShift) & coordMask),
		Column: uint8((addr >> columnShift) & coordMask),
	}
	return id, addr & localMask
}

// Address returns the global address of a local offset on this core.
func (id CoreID) Address(local uint32) uint32 {
	return uint32(id.Row)<<rowShift | uint32(id.Column)<<columnShift | local&localMask
}

// IsCurrent reports whether the coordinate aliases the accessing core.
func (id CoreID) IsCurrent() bool {
	return id == Current
}

// Register returns the value of the COREID register for this core.
func (id CoreID) Register() uint32 {
	return uint32(id.Row)<<6 | uint32(id.Column)
}

func (id CoreID) String() string {
	return fmt.Sprintf("(%d, %d)", id.Row, id.Column)
}

// IsLocal reports whether an address uses the short, core-relative form.
func IsLocal(addr uint32) bool {
	return addr&^localMask == 0
}

// IsReserved reports whether a local offset falls in one of the reserved
// holes of the core address space.
func IsReserved(local uint32) bool {
	return (local >= Reserved0Base && local < Reserved0End) ||
		(local >= Reserved1Base && local < Reserved1End)
}

// InRegisterFile reports whether a local offset lies in the memory-mapped
// register file.
func InRegisterFile(local uint32) bool {
	return local >= RegisterFileBase && local < RegisterFileBase+RegisterFileSize
}
