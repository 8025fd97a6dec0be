package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	header32Size = 52
	prog32Size   = 32
)

// WriteTo writes p as an Epiphany executable with one PT_LOAD header per
// segment and no section headers.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(MachineEpiphany),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     p.Entry,
		Phoff:     header32Size,
		Ehsize:    header32Size,
		Phentsize: prog32Size,
		Phnum:     uint16(len(p.Segments)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)

	offset := uint32(header32Size + prog32Size*len(p.Segments))
	for _, seg := range p.Segments {
		memSize := seg.MemSize
		if memSize < uint32(len(seg.Data)) {
			memSize = uint32(len(seg.Data))
		}

		prog := elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    offset,
			Vaddr:  seg.Addr,
			Paddr:  seg.Addr,
			Filesz: uint32(len(seg.Data)),
			Memsz:  memSize,
			Flags:  uint32(progFlags(seg.Flags)),
			Align:  4,
		}
		_ = binary.Write(&buf, binary.LittleEndian, &prog)
		offset += uint32(len(seg.Data))
	}

	for _, seg := range p.Segments {
		buf.Write(seg.Data)
	}

	return buf.WriteTo(w)
}

// WriteFile writes p to path.
func (p *Program) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create ELF file: %w", err)
	}

	if _, err := p.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write ELF file: %w", err)
	}
	return f.Close()
}

func progFlags(flags SegmentFlags) elf.ProgFlag {
	var pf elf.ProgFlag
	if flags&SegmentFlagExecute != 0 {
		pf |= elf.PF_X
	}
	if flags&SegmentFlagWrite != 0 {
		pf |= elf.PF_W
	}
	if flags&SegmentFlagRead != 0 {
		pf |= elf.PF_R
	}
	return pf
}
