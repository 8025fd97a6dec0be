// Package insts provides Epiphany instruction definitions, decoding and
// encoding.
//
// This package classifies raw 16-bit and 32-bit instruction words into
// Instruction records following the decode tables of the Epiphany
// architecture reference. It supports:
//   - Branches: B<cond>, BL
//   - Loads and stores: index, displacement, post-modify and
//     displacement-post-modify forms, plus TESTSET
//   - Integer ALU: ADD, SUB, AND, ORR, EOR, shifts, BITR, immediates
//   - Floating point: FADD, FSUB, FMUL, FMADD, FMSUB, FLOAT, FIX, FABS
//   - Moves: MOV<cond>, MOV/MOVT immediate, MOVTS, MOVFS
//   - Control: JR, JALR, RTI, SWI, TRAP, IDLE, SYNC, WAND, GIE, GID,
//     BKPT, MBKPT, NOP, UNIMPL
//
// Words that match no table entry are offered to registered extension
// decoders before decoding reports no match.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst, ok := decoder.Decode16(0x01A2) // NOP
//	if ok {
//		fmt.Println(inst)
//	}
package insts
