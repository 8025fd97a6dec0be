package insts

import "fmt"

// Op represents an Epiphany opcode.
type Op uint16

// Epiphany opcodes.
const (
	OpUnknown Op = iota
	OpB
	OpLDRIndex
	OpSTRIndex
	OpLDRDisp
	OpSTRDisp
	OpLDRPostMod // post-modify by register
	OpSTRPostMod // post-modify by register
	OpLDRDispPM  // post-modify by scaled immediate
	OpSTRDispPM  // post-modify by scaled immediate
	OpTESTSET
	OpMOV
	OpMOVImm
	OpMOVT
	OpMOVTS
	OpMOVFS
	OpJR
	OpJALR
	OpADD
	OpSUB
	OpAND
	OpORR
	OpEOR
	OpLSL
	OpLSR
	OpASR
	OpADDImm
	OpSUBImm
	OpLSLImm
	OpLSRImm
	OpASRImm
	OpBITR
	OpFADD
	OpFSUB
	OpFMUL
	OpFMADD
	OpFMSUB
	OpFLOAT
	OpFIX
	OpFABS
	OpNOP
	OpIDLE
	OpBKPT
	OpMBKPT
	OpRTI
	OpSWI
	OpSYNC
	OpWAND
	OpGIE
	OpGID
	OpTRAP
	OpUNIMPL
	OpExtension
)

var opNames = map[Op]string{
	OpB:          "b",
	OpLDRIndex:   "ldr",
	OpSTRIndex:   "str",
	OpLDRDisp:    "ldr",
	OpSTRDisp:    "str",
	OpLDRPostMod: "ldr",
	OpSTRPostMod: "str",
	OpLDRDispPM:  "ldr",
	OpSTRDispPM:  "str",
	OpTESTSET:    "testset",
	OpMOV:        "mov",
	OpMOVImm:     "mov",
	OpMOVT:       "movt",
	OpMOVTS:      "movts",
	OpMOVFS:      "movfs",
	OpJR:         "jr",
	OpJALR:       "jalr",
	OpADD:        "add",
	OpSUB:        "sub",
	OpAND:        "and",
	OpORR:        "orr",
	OpEOR:        "eor",
	OpLSL:        "lsl",
	OpLSR:        "lsr",
	OpASR:        "asr",
	OpADDImm:     "add",
	OpSUBImm:     "sub",
	OpLSLImm:     "lsl",
	OpLSRImm:     "lsr",
	OpASRImm:     "asr",
	OpBITR:       "bitr",
	OpFADD:       "fadd",
	OpFSUB:       "fsub",
	OpFMUL:       "fmul",
	OpFMADD:      "fmadd",
	OpFMSUB:      "fmsub",
	OpFLOAT:      "float",
	OpFIX:        "fix",
	OpFABS:       "fabs",
	OpNOP:        "nop",
	OpIDLE:       "idle",
	OpBKPT:       "bkpt",
	OpMBKPT:      "mbkpt",
	OpRTI:        "rti",
	OpSWI:        "swi",
	OpSYNC:       "sync",
	OpWAND:       "wand",
	OpGIE:        "gie",
	OpGID:        "gid",
	OpTRAP:       "trap",
	OpUNIMPL:     "unimpl",
	OpExtension:  "ext",
}

// Mnemonic returns the assembly mnemonic of the opcode.
func (o Op) Mnemonic() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

func (o Op) String() string {
	return o.Mnemonic()
}

// IsLoad reports whether the opcode reads data memory into a register.
func (o Op) IsLoad() bool {
	switch o {
	case OpLDRIndex, OpLDRDisp, OpLDRPostMod, OpLDRDispPM:
		return true
	}
	return false
}

// IsStore reports whether the opcode writes a register to data memory.
func (o Op) IsStore() bool {
	switch o {
	case OpSTRIndex, OpSTRDisp, OpSTRPostMod, OpSTRDispPM:
		return true
	}
	return false
}

// IsFloat reports whether the opcode executes on the floating-point unit.
func (o Op) IsFloat() bool {
	return o >= OpFADD && o <= OpFABS
}

// Size is the width of a load or store transfer.
type Size uint8

// Transfer sizes, in the order of the two-bit size field.
const (
	SizeByte Size = iota
	SizeHalf
	SizeWord
	SizeDouble
)

// Bytes returns the transfer width in bytes.
func (s Size) Bytes() uint32 {
	return 1 << s
}

func (s Size) suffix() string {
	switch s {
	case SizeByte:
		return "b"
	case SizeHalf:
		return "h"
	case SizeDouble:
		return "d"
	}
	return ""
}

// Cond represents an Epiphany condition code.
type Cond uint8

// Epiphany condition codes.
const (
	CondEQ   Cond = 0x0 // AZ
	CondNE   Cond = 0x1 // ~AZ
	CondGTU  Cond = 0x2 // ~AZ & AC
	CondGTEU Cond = 0x3 // AC
	CondLTEU Cond = 0x4 // AZ | ~AC
	CondLTU  Cond = 0x5 // ~AC
	CondGT   Cond = 0x6 // ~AZ & (AV == AN)
	CondGTE  Cond = 0x7 // AV == AN
	CondLT   Cond = 0x8 // AV != AN
	CondLTE  Cond = 0x9 // AZ | (AV != AN)
	CondBEQ  Cond = 0xA // BZ
	CondBNE  Cond = 0xB // ~BZ
	CondBLT  Cond = 0xC // BN & ~BZ
	CondBLTE Cond = 0xD // BN | BZ
	CondAL   Cond = 0xE // always
	CondBL   Cond = 0xF // always, and write the link register
)

// Status flag bit positions consumed by condition evaluation.
const (
	FlagAZ = 4
	FlagAN = 5
	FlagAC = 6
	FlagAV = 7
	FlagBZ = 8
	FlagBN = 9
)

var condSuffixes = [16]string{
	"eq", "ne", "gtu", "gteu", "lteu", "ltu", "gt", "gte",
	"lt", "lte", "beq", "bne", "blt", "blte", "", "l",
}

// Suffix returns the assembly suffix of the condition.
func (c Cond) Suffix() string {
	return condSuffixes[c&0xF]
}

func (c Cond) String() string {
	if c == CondAL {
		return "al"
	}
	return c.Suffix()
}

// Evaluate reports whether the condition holds for the given STATUS value.
func (c Cond) Evaluate(status uint32) bool {
	flag := func(bit uint) bool { return status&(1<<bit) != 0 }
	az, an, ac, av := flag(FlagAZ), flag(FlagAN), flag(FlagAC), flag(FlagAV)
	bz, bn := flag(FlagBZ), flag(FlagBN)

	switch c {
	case CondEQ:
		return az
	case CondNE:
		return !az
	case CondGTU:
		return !az && ac
	case CondGTEU:
		return ac
	case CondLTEU:
		return az || !ac
	case CondLTU:
		return !ac
	case CondGT:
		return !az && av == an
	case CondGTE:
		return av == an
	case CondLT:
		return av != an
	case CondLTE:
		return az || av != an
	case CondBEQ:
		return bz
	case CondBNE:
		return !bz
	case CondBLT:
		return bn && !bz
	case CondBLTE:
		return bn || bz
	case CondAL, CondBL:
		return true
	}
	panic(fmt.Sprintf("insts: invalid condition code %d", uint8(c)))
}
