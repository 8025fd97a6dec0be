// Package main provides e-dis, which prints the instructions in the
// executable segments of an Epiphany program.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/esim/insts"
	"github.com/sarchlab/esim/loader"
	"github.com/sarchlab/esim/runner"
)

var (
	all       = flag.Bool("all", false, "Disassemble every segment, not only executable ones")
	extension = flag.String("x", "", "Path to a Lua extension instruction script")
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: e-dis [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	prog, err := loader.Load(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	dec, script, err := runner.Decoder(*extension)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading extension: %v\n", err)
		os.Exit(1)
	}
	if script != nil {
		defer script.Close()
	}

	fmt.Printf("Entry point: 0x%08X\n", prog.Entry)
	for _, seg := range prog.Segments {
		if !*all && seg.Flags&loader.SegmentFlagExecute == 0 {
			continue
		}
		fmt.Printf("\nSegment at 0x%08X (%d bytes):\n", seg.Addr, len(seg.Data))
		disassemble(os.Stdout, dec, seg.Addr, seg.Data)
	}
}

// disassemble prints one line per instruction. Words no decoder table
// recognizes are printed as .hword and skipped two bytes at a time.
func disassemble(w io.Writer, dec *insts.Decoder, addr uint32, data []byte) {
	le := binary.LittleEndian

	for off := 0; off+2 <= len(data); {
		pc := addr + uint32(off)
		lo := le.Uint16(data[off:])

		if inst, ok := dec.Decode16(lo); ok {
			fmt.Fprintf(w, "%08x:\t    %04x\t%s\n", pc, lo, inst)
			off += 2
			continue
		}

		if off+4 <= len(data) {
			word := le.Uint32(data[off:])
			if inst, ok := dec.Decode32(word); ok {
				fmt.Fprintf(w, "%08x:\t%08x\t%s\n", pc, word, inst)
				off += 4
				continue
			}
		}

		fmt.Fprintf(w, "%08x:\t    %04x\t.hword 0x%04x\n", pc, lo, lo)
		off += 2
	}
}
