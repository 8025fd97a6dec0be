package insts

import (
	"errors"
	"fmt"
)

// ErrInvalidEncoding is returned by Check and Encode when an instruction
// matches an opcode pattern but violates an encoding constraint.
var ErrInvalidEncoding = errors.New("invalid instruction encoding")

// Register numbers with a fixed role.
const (
	RegLR = 14 // link register
	RegSP = 13 // stack pointer by convention
	RegFP = 11 // frame pointer by convention

	NumRegisters = 64
)

// System register groups selected by MOVTS/MOVFS.
const (
	GroupCore = iota
	GroupDMA
	GroupMemProtect
	GroupConfig
)

// Instruction represents a decoded Epiphany instruction.
type Instruction struct {
	Op      Op     // Operation code
	Raw     uint32 // Raw instruction bits (16-bit words in the low half)
	Is16Bit bool   // true for the short encoding

	Rd uint8 // Destination (or store data) register
	Rn uint8 // First source / base register
	Rm uint8 // Second source / index register

	// Imm holds the immediate operand. Branch offsets are signed byte
	// offsets, displacements are unscaled magnitudes, MOV immediates are
	// unsigned and ADD/SUB immediates are sign-extended.
	Imm int32

	Cond     Cond // Condition code for B and MOV
	Size     Size // Transfer size for loads and stores
	Subtract bool // Subtract the offset or index instead of adding it
	Group    uint8

	// Extension instructions carry the decoder's payload and name.
	ExtName string
	Ext     any
}

// Width returns the instruction width in bytes.
func (i Instruction) Width() uint32 {
	if i.Is16Bit {
		return 2
	}
	return 4
}

// Check validates constraints that the opcode tables cannot express.
func (i Instruction) Check() error {
	switch {
	case i.Op.IsLoad() || i.Op.IsStore():
		if i.Size == SizeDouble && i.Rd%2 != 0 {
			return fmt.Errorf("%w: %s needs an even register, got r%d",
				ErrInvalidEncoding, i.Op, i.Rd)
		}
	case i.Op == OpTESTSET:
		if i.Size != SizeWord {
			return fmt.Errorf("%w: testset must transfer a word", ErrInvalidEncoding)
		}
	case i.Op == OpMOV:
		if i.Cond == CondBL {
			return fmt.Errorf("%w: mov cannot use the link condition", ErrInvalidEncoding)
		}
	case i.Op == OpFLOAT || i.Op == OpFIX || i.Op == OpFABS:
		if i.Rm != i.Rn {
			return fmt.Errorf("%w: %s needs rm == rn, got r%d and r%d",
				ErrInvalidEncoding, i.Op, i.Rm, i.Rn)
		}
	}
	return nil
}

func (i Instruction) sign() string {
	if i.Subtract {
		return "-"
	}
	return "+"
}

func (i Instruction) String() string {
	m := i.Op.Mnemonic()

	switch i.Op {
	case OpB:
		return fmt.Sprintf("b%s %d", i.Cond.Suffix(), i.Imm)
	case OpLDRIndex, OpSTRIndex:
		return fmt.Sprintf("%s%s r%d, [r%d, %sr%d]", m, i.Size.suffix(), i.Rd, i.Rn, i.sign(), i.Rm)
	case OpLDRDisp, OpSTRDisp:
		return fmt.Sprintf("%s%s r%d, [r%d, #%s%d]", m, i.Size.suffix(), i.Rd, i.Rn, i.sign(), i.Imm)
	case OpLDRPostMod, OpSTRPostMod:
		return fmt.Sprintf("%s%s r%d, [r%d], %sr%d", m, i.Size.suffix(), i.Rd, i.Rn, i.sign(), i.Rm)
	case OpLDRDispPM, OpSTRDispPM:
		return fmt.Sprintf("%s%s r%d, [r%d], #%s%d", m, i.Size.suffix(), i.Rd, i.Rn, i.sign(), i.Imm)
	case OpTESTSET:
		return fmt.Sprintf("%s r%d, [r%d, %sr%d]", m, i.Rd, i.Rn, i.sign(), i.Rm)
	case OpMOV:
		return fmt.Sprintf("mov%s r%d, r%d", i.Cond.Suffix(), i.Rd, i.Rn)
	case OpMOVImm, OpMOVT:
		return fmt.Sprintf("%s r%d, #%d", m, i.Rd, i.Imm)
	case OpMOVTS:
		return fmt.Sprintf("%s %s, r%d", m, SystemRegisterName(i.Group, i.Rn), i.Rd)
	case OpMOVFS:
		return fmt.Sprintf("%s r%d, %s", m, i.Rd, SystemRegisterName(i.Group, i.Rn))
	case OpJR, OpJALR:
		return fmt.Sprintf("%s r%d", m, i.Rn)
	case OpADD, OpSUB, OpAND, OpORR, OpEOR, OpLSL, OpLSR, OpASR,
		OpFADD, OpFSUB, OpFMUL, OpFMADD, OpFMSUB:
		return fmt.Sprintf("%s r%d, r%d, r%d", m, i.Rd, i.Rn, i.Rm)
	case OpADDImm, OpSUBImm, OpLSLImm, OpLSRImm, OpASRImm:
		return fmt.Sprintf("%s r%d, r%d, #%d", m, i.Rd, i.Rn, i.Imm)
	case OpBITR, OpFLOAT, OpFIX, OpFABS:
		return fmt.Sprintf("%s r%d, r%d", m, i.Rd, i.Rn)
	case OpTRAP:
		return fmt.Sprintf("trap %d", i.Imm)
	case OpExtension:
		if i.ExtName != "" {
			return i.ExtName
		}
	}
	return m
}

var systemRegisterNames = [4][]string{
	GroupCore: {
		"config", "status", "pc", "debugstatus", "", "lc", "ls", "le",
		"iret", "imask", "ilat", "ilatst", "ilatcl", "ipend", "ctimer0",
		"ctimer1", "fstatus", "", "debugcmd",
	},
	GroupDMA: {
		"dma0config", "dma0stride", "dma0count", "dma0srcaddr",
		"dma0dstaddr", "dma0auto0", "dma0auto1", "dma0status",
		"dma1config", "dma1stride", "dma1count", "dma1srcaddr",
		"dma1dstaddr", "dma1auto0", "dma1auto1", "dma1status",
	},
	GroupMemProtect: {"", "memstatus", "memprotect"},
	GroupConfig: {
		"meshconfig", "coreid", "multicast", "resetcore", "cmeshroute",
		"xmeshroute", "rmeshroute",
	},
}

// SystemRegisterName returns the assembler name of a system register, or a
// generic group[index] form for unnamed slots.
func SystemRegisterName(group, index uint8) string {
	if int(group) < len(systemRegisterNames) {
		names := systemRegisterNames[group]
		if int(index) < len(names) && names[index] != "" {
			return names[index]
		}
	}
	return fmt.Sprintf("g%d[%d]", group, index)
}
