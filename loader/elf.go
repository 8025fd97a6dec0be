// Package loader reads Epiphany ELF executables and places their segments
// in a machine's memory.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/mesh"
)

// MachineEpiphany is the ELF machine number of the Epiphany architecture.
const MachineEpiphany elf.Machine = 0x1223

// ErrFormat is returned for files that are not Epiphany executables.
var ErrFormat = errors.New("not an Epiphany executable")

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// Addr is the device address the segment is linked at. It may be local,
	// global or external.
	Addr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a parsed executable.
type Program struct {
	// Entry is the address of the first instruction. Cores start at the
	// reset vector, which the toolchain points at the entry.
	Entry uint32
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
}

// Load parses the executable at path.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	prog, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}

// Parse reads an executable image.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	defer func() { _ = f.Close() }()

	if err := checkHeader(&f.FileHeader); err != nil {
		return nil, err
	}

	prog := &Program{Entry: uint32(f.Entry)}
	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		seg, err := readSegment(phdr)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)
	}
	return prog, nil
}

func checkHeader(h *elf.FileHeader) error {
	switch {
	case h.Class != elf.ELFCLASS32:
		return fmt.Errorf("%w: class is %v, want ELFCLASS32", ErrFormat, h.Class)
	case h.Data != elf.ELFDATA2LSB:
		return fmt.Errorf("%w: data encoding is %v, want ELFDATA2LSB", ErrFormat, h.Data)
	case h.OSABI != elf.ELFOSABI_NONE:
		return fmt.Errorf("%w: OS ABI is %v", ErrFormat, h.OSABI)
	case h.Type != elf.ET_EXEC:
		return fmt.Errorf("%w: object type is %v, want ET_EXEC", ErrFormat, h.Type)
	case h.Machine != MachineEpiphany:
		return fmt.Errorf("%w: machine type is %v", ErrFormat, h.Machine)
	}
	return nil
}

func readSegment(phdr *elf.Prog) (Segment, error) {
	data := make([]byte, phdr.Filesz)
	if phdr.Filesz > 0 {
		n, err := phdr.ReadAt(data, 0)
		if err != nil && err != io.EOF {
			return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
		}
		if uint64(n) != phdr.Filesz {
			return Segment{}, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
				phdr.Vaddr, n, phdr.Filesz)
		}
	}

	var flags SegmentFlags
	if phdr.Flags&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if phdr.Flags&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if phdr.Flags&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}

	return Segment{
		Addr:    uint32(phdr.Vaddr),
		Data:    data,
		MemSize: uint32(phdr.Memsz),
		Flags:   flags,
	}, nil
}

// Placement resolves where a segment linked at addr lands when the program
// is loaded onto core c: the core whose memory receives it and the address
// to write through that core.
//
// Local addresses go to c. Global addresses inside the grid go to the named
// core's local offset. Everything else is external memory; host physical
// addresses outside the device window are moved into it.
func Placement(m *emu.Machine, c *emu.Core, addr uint32) (*emu.Core, uint32) {
	id, local := mesh.FromAddress(addr)
	if id.IsCurrent() {
		return c, addr
	}
	if dest := m.Core(id); dest != nil {
		return dest, local
	}

	size := m.Memory().Size()
	if addr < mesh.ExternalBase || addr-mesh.ExternalBase >= size {
		addr += mesh.ExternalBase - mesh.HostExternalBase
	}
	return c, addr
}

// LoadInto writes every segment into m on behalf of core c. Memory past a
// segment's file contents is zeroed.
func (p *Program) LoadInto(m *emu.Machine, c *emu.Core) error {
	mem := m.Memory()

	for _, seg := range p.Segments {
		dest, addr := Placement(m, c, seg.Addr)

		image := seg.Data
		if seg.MemSize > uint32(len(image)) {
			image = make([]byte, seg.MemSize)
			copy(image, seg.Data)
		}

		if err := mem.WriteBytes(dest, addr, image); err != nil {
			return fmt.Errorf("segment at 0x%08X: %w", seg.Addr, err)
		}
		m.Logger().Debug(c.ID(), "segment loaded",
			"addr", seg.Addr, "size", len(image), "core", dest.ID().String())
	}
	return nil
}

// LoadFile parses the executable at path and loads it onto c.
func LoadFile(m *emu.Machine, c *emu.Core, path string) (*Program, error) {
	prog, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := prog.LoadInto(m, c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}
