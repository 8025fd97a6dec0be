package emu

import (
	"math"

	"github.com/sarchlab/esim/insts"
)

const (
	signBit  = 1 << 31
	expMask  = 0x7F800000
	fracMask = 0x007FFFFF
	quietNaN = 0x7FC00000
)

func isNaN32(v uint32) bool      { return v&expMask == expMask && v&fracMask != 0 }
func isInf32(v uint32) bool      { return v&^signBit == expMask }
func isDenormal32(v uint32) bool { return v&expMask == 0 && v&fracMask != 0 }

// flushDenormal replaces a denormal with a zero of the same sign.
func flushDenormal(v uint32) uint32 {
	if isDenormal32(v) {
		return v & signBit
	}
	return v
}

// fpExceptions records the IEEE conditions raised by one operation.
type fpExceptions struct {
	invalid   bool
	overflow  bool
	underflow bool
}

// FPU implements the floating-point unit on a locked register file view.
// It has no denormal support: denormal operands read as zero and denormal
// results are flushed.
type FPU struct {
	regs RegFile
}

// IntegerMode reports whether CONFIG routes FADD, FSUB, FMUL, FMADD and
// FMSUB to integer arithmetic.
func (f FPU) IntegerMode() bool {
	return f.regs.Field(RegConfig, ConfigArithModeLSB, 3) != 0
}

// Execute runs a floating-point instruction and reports whether an
// enabled exception must be raised.
func (f FPU) Execute(inst insts.Instruction) bool {
	r := f.regs
	d, n, m := r.Reg(inst.Rd), r.Reg(inst.Rn), r.Reg(inst.Rm)

	switch inst.Op {
	case insts.OpFLOAT:
		result := math.Float32bits(float32(int32(n)))
		r.SetReg(inst.Rd, result)
		f.setFlags(result, fpExceptions{})
		return false

	case insts.OpFIX:
		result, ex := fix(n, r.Check(RegConfig, ConfigTruncate))
		r.SetReg(inst.Rd, result)
		f.setFlags(result, ex)
		return f.enabled(ex)

	case insts.OpFABS:
		result := flushDenormal(n) &^ signBit
		r.SetReg(inst.Rd, result)
		f.setFlags(result, fpExceptions{})
		return false
	}

	if f.IntegerMode() {
		result := integerArith(inst.Op, d, n, m)
		r.SetReg(inst.Rd, result)
		f.setFlags(result, fpExceptions{})
		return false
	}

	result, ex := floatArith(inst.Op, d, n, m)
	r.SetReg(inst.Rd, result)
	f.setFlags(result, ex)
	return f.enabled(ex)
}

// setFlags updates BZ, BN and BV and the sticky BIS, BVS and BUS bits.
func (f FPU) setFlags(result uint32, ex fpExceptions) {
	r := f.regs
	r.SetBit(RegStatus, StatusBZ, result&^signBit == 0)
	r.SetBit(RegStatus, StatusBN, result&signBit != 0)
	r.SetBit(RegStatus, StatusBV, ex.overflow)

	if ex.invalid {
		r.SetBit(RegStatus, StatusBIS, true)
	}
	if ex.overflow {
		r.SetBit(RegStatus, StatusBVS, true)
	}
	if ex.underflow {
		r.SetBit(RegStatus, StatusBUS, true)
	}
}

func (f FPU) enabled(ex fpExceptions) bool {
	r := f.regs
	return ex.invalid && r.Check(RegConfig, ConfigInvalidEnable) ||
		ex.overflow && r.Check(RegConfig, ConfigOverflowEnable) ||
		ex.underflow && r.Check(RegConfig, ConfigUnderflowEnable)
}

func integerArith(op insts.Op, d, n, m uint32) uint32 {
	switch op {
	case insts.OpFADD:
		return n + m
	case insts.OpFSUB:
		return n - m
	case insts.OpFMUL:
		return n * m
	case insts.OpFMADD:
		return d + n*m
	case insts.OpFMSUB:
		return d - n*m
	}
	return d
}

func floatArith(op insts.Op, d, n, m uint32) (uint32, fpExceptions) {
	var ex fpExceptions
	d, n, m = flushDenormal(d), flushDenormal(n), flushDenormal(m)
	fd, fn, fm := math.Float32frombits(d), math.Float32frombits(n), math.Float32frombits(m)

	var result float32
	switch op {
	case insts.OpFADD:
		result = fn + fm
	case insts.OpFSUB:
		result = fn - fm
	case insts.OpFMUL:
		result = fn * fm
	case insts.OpFMADD:
		result = float32(float64(fd) + float64(fn)*float64(fm))
	case insts.OpFMSUB:
		result = float32(float64(fd) - float64(fn)*float64(fm))
	}

	sign := (n ^ m) & signBit
	if op == insts.OpFMADD || op == insts.OpFMSUB {
		sign ^= d & signBit
	}

	v := math.Float32bits(result)
	switch {
	case isNaN32(v):
		ex.invalid = true
		return quietNaN | sign, ex
	case isInf32(v) && !isInf32(d) && !isInf32(n) && !isInf32(m):
		ex.overflow = true
	case isDenormal32(v):
		ex.underflow = true
		v &= signBit
	}
	return v, ex
}

// fix converts a float to a signed word. NaN and out-of-range values
// saturate by sign.
func fix(v uint32, truncate bool) (uint32, fpExceptions) {
	var ex fpExceptions
	v = flushDenormal(v)

	if isNaN32(v) {
		ex.invalid = true
		if v&signBit != 0 {
			return uint32(1) << 31, ex
		}
		return math.MaxInt32, ex
	}

	f := float64(math.Float32frombits(v))
	if truncate {
		f = math.Trunc(f)
	} else {
		f = math.RoundToEven(f)
	}

	switch {
	case f > math.MaxInt32:
		ex.invalid = true
		return math.MaxInt32, ex
	case f < math.MinInt32:
		ex.invalid = true
		return uint32(1) << 31, ex
	}
	return uint32(int32(f)), ex
}

// integerMode reports whether the FPU is in integer mode.
func (c *Core) integerMode() bool {
	var on bool
	c.withRegs(func(r RegFile) { on = FPU{regs: r}.IntegerMode() })
	return on
}

func (c *Core) executeFloat(inst insts.Instruction) {
	var raise bool
	c.withRegs(func(r RegFile) { raise = FPU{regs: r}.Execute(inst) })

	if raise {
		_ = c.interrupts.Trigger(InterruptSoftwareException, CauseFloatingPoint)
	}
}
