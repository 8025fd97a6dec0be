package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/esim/asm"
	"github.com/sarchlab/esim/bits"
	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/insts"
	"github.com/sarchlab/esim/mesh"
)

func f32(v float32) uint32 { return math.Float32bits(v) }

// extWord holds a 16-bit extension opcode followed by a NOP.
const extWord = 0x01A20009

// addOne is an extension instruction that increments rd.
type addOne struct{}

func (addOne) Execute(c *emu.Core, inst insts.Instruction) (emu.Signal, error) {
	c.SetReg(inst.Rd, c.Reg(inst.Rd)+1)
	return emu.SignalNext, nil
}

var _ = Describe("Core", func() {
	var (
		m *emu.Machine
		c *emu.Core
	)

	BeforeEach(func() {
		m = newMachine()
		c = coreAt(m, 0, 1)
	})

	status := func(bit int) bool {
		return bits.Check(c.Status(), bit)
	}

	Describe("integer programs", func() {
		It("should add and exit with r0", func() {
			load(c, func(p *asm.Program) {
				p.MovImm(0, 40)
				p.MovImm(1, 2)
				p.Add(0, 0, 1)
				p.Trap(emu.TrapExit)
			})

			Expect(run(c, 10)).To(Equal(4))
			Expect(c.ExitCode()).To(Equal(int32(42)))
			Expect(c.IsActive()).To(BeFalse())
			Expect(c.Timer().Stats().Instructions).To(Equal(uint64(4)))
		})

		It("should loop on a conditional branch", func() {
			load(c, func(p *asm.Program) {
				p.MovImm(0, 0)
				p.MovImm(1, 10)
				p.Label("loop")
				p.Add(0, 0, 1)
				p.SubImm(1, 1, 1)
				p.B(insts.CondNE, "loop")
				p.Trap(emu.TrapExit)
			})

			run(c, 100)
			Expect(c.ExitCode()).To(Equal(int32(55)))
			Expect(c.Reg(1)).To(BeZero())
		})

		It("should set sticky overflow", func() {
			load(c, func(p *asm.Program) {
				p.Li(0, 0x7FFFFFFF)
				p.MovImm(1, 1)
				p.Add(2, 0, 1)
				p.Add(3, 1, 1)
				p.Trap(emu.TrapPass)
			})

			run(c, 10)
			Expect(c.Reg(2)).To(Equal(uint32(0x80000000)))
			Expect(status(emu.StatusAV)).To(BeFalse())
			Expect(status(emu.StatusAVS)).To(BeTrue())
			Expect(status(emu.StatusAN)).To(BeFalse())
		})

		It("should compare signed and unsigned values", func() {
			load(c, func(p *asm.Program) {
				p.MovImm(0, 1)
				p.Li(1, 0xFFFFFFFF)
				p.MovImm(3, 0)
				p.MovImm(4, 0)
				p.MovImm(5, 0)
				p.MovImm(7, 1)
				p.Sub(2, 1, 0)
				p.MovCond(insts.CondLT, 3, 7)
				p.MovCond(insts.CondGTU, 4, 7)
				p.MovCond(insts.CondEQ, 5, 7)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Passed()).To(BeTrue())
			Expect(c.Reg(3)).To(Equal(uint32(1)))
			Expect(c.Reg(4)).To(Equal(uint32(1)))
			Expect(c.Reg(5)).To(BeZero())
			Expect(status(emu.StatusAC)).To(BeTrue())
		})

		It("should clear carry on logic operations", func() {
			load(c, func(p *asm.Program) {
				p.MovImm(0, 3)
				p.MovImm(1, 1)
				p.Sub(2, 0, 1)
				p.Eor(2, 0, 0)
				p.Trap(emu.TrapPass)
			})

			run(c, 10)
			Expect(status(emu.StatusAZ)).To(BeTrue())
			Expect(status(emu.StatusAC)).To(BeFalse())
		})

		It("should shift and reverse bits", func() {
			load(c, func(p *asm.Program) {
				p.Li(0, 0x80000010)
				p.MovImm(1, 36)
				p.Lsr(2, 0, 1)
				p.AsrImm(3, 0, 4)
				p.LslImm(4, 0, 1)
				p.Bitr(5, 0)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(2)).To(Equal(uint32(0x08000001)))
			Expect(c.Reg(3)).To(Equal(uint32(0xF8000001)))
			Expect(c.Reg(4)).To(Equal(uint32(0x20)))
			Expect(c.Reg(5)).To(Equal(uint32(0x08000001)))
		})

		It("should call and return through the link register", func() {
			load(c, func(p *asm.Program) {
				p.Bl("fn")
				p.Trap(emu.TrapPass)
				p.Label("fn")
				p.MovImm(4, 5)
				p.Jr(insts.RegLR)
			})

			run(c, 10)
			Expect(c.Passed()).To(BeTrue())
			Expect(c.Reg(4)).To(Equal(uint32(5)))
			Expect(c.Reg(insts.RegLR)).To(Equal(uint32(origin + 4)))
		})

		It("should record a failing test", func() {
			load(c, func(p *asm.Program) {
				p.Trap(emu.TrapFail)
			})

			run(c, 10)
			Expect(c.Failed()).To(BeTrue())
			Expect(c.Passed()).To(BeFalse())
		})
	})

	Describe("loads and stores", func() {
		It("should transfer bytes, halves and words", func() {
			load(c, func(p *asm.Program) {
				p.Li(2, 0x2000)
				p.Li(0, 0xCAFEF00D)
				p.Str(insts.SizeWord, 0, 2, 1)
				p.Ldr(insts.SizeByte, 3, 2, 5)
				p.Ldr(insts.SizeHalf, 4, 2, 3)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(3)).To(Equal(uint32(0xF0)))
			Expect(c.Reg(4)).To(Equal(uint32(0xCAFE)))
		})

		It("should post-modify the base and move doubles", func() {
			load(c, func(p *asm.Program) {
				p.Li(2, 0x2000)
				p.MovImm(0, 7)
				p.StrPM(insts.SizeWord, 0, 2, 2)
				p.MovImm(4, 1)
				p.MovImm(5, 2)
				p.Str(insts.SizeDouble, 4, 2, 0)
				p.Ldr(insts.SizeDouble, 6, 2, 0)
				p.Ldr(insts.SizeWord, 8, 2, -2)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(2)).To(Equal(uint32(0x2008)))
			Expect(c.Reg(6)).To(Equal(uint32(1)))
			Expect(c.Reg(7)).To(Equal(uint32(2)))
			Expect(c.Reg(8)).To(Equal(uint32(7)))

			hi, err := m.Memory().Read32(c, 0x200C)
			Expect(err).NotTo(HaveOccurred())
			Expect(hi).To(Equal(uint32(2)))
		})

		It("should index by register", func() {
			load(c, func(p *asm.Program) {
				p.Li(2, 0x2000)
				p.MovImm(3, 0x10)
				p.MovImm(0, 9)
				p.StrIndex(insts.SizeWord, 0, 2, 3)
				p.LdrPostMod(insts.SizeWord, 1, 2, 3)
				p.LdrPostMod(insts.SizeWord, 1, 2, 3)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(1)).To(Equal(uint32(9)))
			Expect(c.Reg(2)).To(Equal(uint32(0x2020)))
		})

		It("should claim a remote word with TESTSET", func() {
			remote := mesh.CoreID{Row: 1, Column: 1}.Address(0x3000)
			load(c, func(p *asm.Program) {
				p.Li(2, remote)
				p.MovImm(3, 0)
				p.MovImm(0, 5)
				p.MovImm(1, 9)
				p.TestSet(0, 2, 3)
				p.TestSet(1, 2, 3)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(0)).To(BeZero())
			Expect(c.Reg(1)).To(Equal(uint32(5)))

			v, _ := m.Memory().Read32(coreAt(m, 1, 1), 0x3000)
			Expect(v).To(Equal(uint32(5)))
		})

		It("should raise an exception on misaligned access and continue", func() {
			load(c, func(p *asm.Program) {
				p.Li(2, 0x2001)
				p.Ldr(insts.SizeWord, 0, 2, 0)
				p.Trap(emu.TrapPass)
			})

			c.Step()
			c.Step()
			Expect(c.IsActive()).To(BeTrue())
			Expect(c.PC()).To(Equal(uint32(origin + 6)))
			Expect(c.SysReg(emu.RegILat)).To(Equal(uint32(1 << emu.InterruptSoftwareException)))
			Expect(bits.Extract(c.Status(), emu.StatusExCauseLSB, 3)).To(Equal(uint32(0x2)))
		})
	})

	Describe("end to end", func() {
		It("should run a program on core (0,0) without touching the others", func() {
			c00 := coreAt(m, 0, 0)
			load(c00, func(p *asm.Program) {
				p.MovImm(0, 5)
				p.Trap(emu.TrapExit)
			})

			run(c00, 10)
			Expect(c00.ExitCode()).To(Equal(int32(5)))
			Expect(c00.IsActive()).To(BeFalse())

			for _, other := range m.Cores()[1:] {
				Expect(other.IsActive()).To(BeFalse())
				Expect(other.Reg(0)).To(BeZero())
				Expect(other.PC()).To(BeZero())
				Expect(other.ExitCode()).To(BeZero())
			}
		})

		It("should leave memory alone on a misaligned store", func() {
			vector := assemble(4, func(p *asm.Program) { p.Rti() })
			Expect(m.Memory().WriteBytes(c, 4, vector)).To(Succeed())
			load(c, func(p *asm.Program) {
				p.Li(1, 0xDEADBEEF)
				p.Li(2, 0x2002)
				p.Str(insts.SizeWord, 1, 2, 0)
				p.Trap(emu.TrapPass)
			})

			run(c, 10)
			Expect(c.Passed()).To(BeTrue())
			Expect(bits.Extract(c.Status(), emu.StatusExCauseLSB, 3)).To(Equal(uint32(0x2)))

			image, err := m.Memory().ReadBytes(c, 0x2000, 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(image).To(Equal(make([]byte, 8)))
		})
	})

	Describe("hardware loops", func() {
		It("should repeat the body while LC is nonzero", func() {
			var body uint32
			load(c, func(p *asm.Program) {
				p.MovImm(0, 0)
				body = p.PC()
				p.AddImm(0, 0, 1)
				p.Trap(emu.TrapExit)
			})
			c.SetSysReg(emu.RegLS, body)
			c.SetSysReg(emu.RegLE, body)
			c.SetSysReg(emu.RegLC, 3)

			run(c, 20)
			Expect(c.ExitCode()).To(Equal(int32(4)))
			Expect(c.SysReg(emu.RegLC)).To(BeZero())
		})
	})

	Describe("system registers", func() {
		It("should move to and from system registers", func() {
			load(c, func(p *asm.Program) {
				p.MovImm(1, 6)
				p.Movts(insts.GroupCore, 5, 1)
				p.Movfs(2, insts.GroupCore, 5)
				p.Movfs(3, insts.GroupCore, 2)
				p.Trap(emu.TrapPass)
			})

			run(c, 10)
			Expect(c.SysReg(emu.RegLC)).To(Equal(uint32(6)))
			Expect(c.Reg(2)).To(Equal(uint32(6)))
			Expect(c.Reg(3)).To(Equal(uint32(origin + 6)))
		})

		It("should jump when PC is written", func() {
			image := assemble(0x180, func(p *asm.Program) { p.Trap(emu.TrapPass) })
			Expect(m.Memory().WriteBytes(c, 0x180, image)).To(Succeed())

			load(c, func(p *asm.Program) {
				p.MovImm(2, 0x180)
				p.Movts(insts.GroupCore, 2, 2)
				p.Trap(emu.TrapFail)
			})

			run(c, 10)
			Expect(c.Passed()).To(BeTrue())
			Expect(c.Failed()).To(BeFalse())
		})
	})

	Describe("floating point", func() {
		It("should compute and convert", func() {
			load(c, func(p *asm.Program) {
				p.Li(0, f32(1.5))
				p.Li(1, f32(2.25))
				p.Fadd(2, 0, 1)
				p.Fmul(3, 0, 1)
				p.Fix(4, 2)
				p.Li(6, 0xFFFFFFFD)
				p.Float(5, 6)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(2)).To(Equal(f32(3.75)))
			Expect(c.Reg(3)).To(Equal(f32(3.375)))
			Expect(c.Reg(4)).To(Equal(uint32(4)))
			Expect(c.Reg(5)).To(Equal(f32(-3)))
			Expect(status(emu.StatusBN)).To(BeTrue())
			Expect(c.Timer().Stats().FloatInstructions).To(Equal(uint64(4)))
		})

		It("should truncate when configured", func() {
			c.SetSysReg(emu.RegConfig, 1<<emu.ConfigTruncate)
			load(c, func(p *asm.Program) {
				p.Li(0, f32(3.75))
				p.Fix(1, 0)
				p.Trap(emu.TrapPass)
			})

			run(c, 10)
			Expect(c.Reg(1)).To(Equal(uint32(3)))
		})

		It("should use integer arithmetic in integer mode", func() {
			c.SetSysReg(emu.RegConfig, 1<<emu.ConfigArithModeLSB)
			load(c, func(p *asm.Program) {
				p.MovImm(0, 6)
				p.MovImm(1, 7)
				p.Fmul(2, 0, 1)
				p.Trap(emu.TrapPass)
			})

			run(c, 10)
			Expect(c.Reg(2)).To(Equal(uint32(42)))
			Expect(c.Timer().Stats().IntegerInstructions).To(Equal(uint64(1)))
		})

		It("should raise an enabled invalid exception", func() {
			c.SetSysReg(emu.RegConfig, 1<<emu.ConfigInvalidEnable)
			load(c, func(p *asm.Program) {
				p.Li(0, 0x7F800000)
				p.Fsub(1, 0, 0)
			})

			c.Step()
			c.Step()
			c.Step()
			Expect(c.Reg(1)).To(Equal(uint32(0x7FC00000)))
			Expect(status(emu.StatusBIS)).To(BeTrue())
			Expect(c.SysReg(emu.RegILat)).To(Equal(uint32(1 << emu.InterruptSoftwareException)))
			Expect(bits.Extract(c.Status(), emu.StatusExCauseLSB, 3)).To(Equal(uint32(0x3)))
		})

		It("should give a quiet NaN signed by the inputs", func() {
			load(c, func(p *asm.Program) {
				p.Li(0, 0xFFC00001)
				p.Li(1, f32(2))
				p.Li(2, f32(-2))
				p.Fadd(3, 0, 1)
				p.Fmul(4, 0, 2)
				p.Li(5, f32(-1))
				p.Fmadd(5, 0, 1)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Passed()).To(BeTrue())
			Expect(c.Reg(3)).To(Equal(uint32(0xFFC00000)))
			Expect(c.Reg(4)).To(Equal(uint32(0x7FC00000)))
			Expect(c.Reg(5)).To(Equal(uint32(0x7FC00000)))
			Expect(status(emu.StatusBIS)).To(BeTrue())
		})

		It("should read denormal operands as zero", func() {
			load(c, func(p *asm.Program) {
				p.Li(0, 0x00400000)
				p.Li(1, f32(1<<30))
				p.Fmul(2, 0, 1)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(2)).To(BeZero())
			Expect(status(emu.StatusBZ)).To(BeTrue())
		})

		It("should flush denormal results to a signed zero", func() {
			load(c, func(p *asm.Program) {
				p.Li(0, f32(-1e-30))
				p.Li(1, f32(1e-10))
				p.Fmul(2, 0, 1)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(2)).To(Equal(uint32(0x80000000)))
			Expect(status(emu.StatusBZ)).To(BeTrue())
			Expect(status(emu.StatusBUS)).To(BeTrue())
		})

		It("should raise an enabled overflow exception on an infinite result", func() {
			c.SetSysReg(emu.RegConfig, 1<<emu.ConfigOverflowEnable)
			load(c, func(p *asm.Program) {
				p.Li(0, f32(3e38))
				p.Fadd(1, 0, 0)
			})

			c.Step()
			c.Step()
			c.Step()
			Expect(c.Reg(1)).To(Equal(uint32(0x7F800000)))
			Expect(status(emu.StatusBV)).To(BeTrue())
			Expect(status(emu.StatusBVS)).To(BeTrue())
			Expect(c.SysReg(emu.RegILat)).To(Equal(uint32(1 << emu.InterruptSoftwareException)))
			Expect(bits.Extract(c.Status(), emu.StatusExCauseLSB, 3)).To(Equal(uint32(0x3)))
		})

		It("should saturate FIX on NaN and give zero for denormals", func() {
			load(c, func(p *asm.Program) {
				p.Li(0, 0x7FC00000)
				p.Fix(1, 0)
				p.Li(2, 0xFFC00000)
				p.Fix(3, 2)
				p.Li(4, 0x80000001)
				p.Fix(5, 4)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Reg(1)).To(Equal(uint32(0x7FFFFFFF)))
			Expect(c.Reg(3)).To(Equal(uint32(0x80000000)))
			Expect(c.Reg(5)).To(BeZero())
			Expect(status(emu.StatusBIS)).To(BeTrue())
		})
	})

	Describe("interrupts", func() {
		It("should service a software interrupt and return", func() {
			vector := assemble(4, func(p *asm.Program) { p.BOffset(insts.CondAL, 0x200-4) })
			Expect(m.Memory().WriteBytes(c, 4, vector)).To(Succeed())
			handler := assemble(0x200, func(p *asm.Program) {
				p.MovImm(5, 99)
				p.Rti()
			})
			Expect(m.Memory().WriteBytes(c, 0x200, handler)).To(Succeed())

			load(c, func(p *asm.Program) {
				p.Swi()
				p.MovImm(6, 1)
				p.Trap(emu.TrapPass)
			})

			run(c, 20)
			Expect(c.Passed()).To(BeTrue())
			Expect(c.Reg(5)).To(Equal(uint32(99)))
			Expect(c.Reg(6)).To(Equal(uint32(1)))
			Expect(c.Interrupts().Pending()).To(BeZero())
			Expect(bits.Extract(c.Status(), emu.StatusExCauseLSB, 3)).To(Equal(uint32(0x1)))
		})

		It("should wake from IDLE on a timer interrupt", func() {
			vector := assemble(8, func(p *asm.Program) { p.Rti() })
			Expect(m.Memory().WriteBytes(c, 8, vector)).To(Succeed())
			c.SetSysReg(emu.RegConfig, emu.TimerClock<<emu.ConfigTimer0ModeLSB)
			c.SetSysReg(emu.RegCTimer0, 3)

			load(c, func(p *asm.Program) {
				p.Idle()
				p.MovImm(3, 7)
				p.Trap(emu.TrapPass)
			})

			res := c.Step()
			Expect(res.Executed).To(BeTrue())
			Expect(c.IsIdle()).To(BeTrue())
			Expect(c.IsActive()).To(BeFalse())

			res = c.Step()
			Expect(res.Executed).To(BeFalse())
			Expect(res.Sleep).To(Equal(emu.DefaultIdleDuration))

			for i := 0; i < 10 && !c.Passed(); i++ {
				c.Step()
			}
			Expect(c.Passed()).To(BeTrue())
			Expect(c.Reg(3)).To(Equal(uint32(7)))
			Expect(c.IsIdle()).To(BeFalse())
			Expect(c.Timer().Stats().IdleCycles).To(BeNumerically(">=", 1))
		})
	})

	Describe("debug", func() {
		It("should stop on BKPT until resumed", func() {
			load(c, func(p *asm.Program) {
				p.Bkpt()
				p.Trap(emu.TrapPass)
			})

			c.Step()
			Expect(c.Debugger().Halted()).To(BeTrue())

			res := c.Step()
			Expect(res.Executed).To(BeFalse())
			Expect(c.IsActive()).To(BeFalse())

			c.Debugger().Resume()
			run(c, 10)
			Expect(c.Passed()).To(BeTrue())
		})

		It("should stop every core on MBKPT", func() {
			load(c, func(p *asm.Program) { p.Mbkpt() })

			c.Step()
			for _, other := range m.Cores() {
				Expect(other.Debugger().Halted()).To(BeTrue())
				Expect(other.Debugger().MultiBreakpoint()).To(BeTrue())
			}
		})
	})

	Describe("inactive cores", func() {
		It("should sleep without executing", func() {
			res := c.Step()
			Expect(res.Executed).To(BeFalse())
			Expect(res.Sleep).To(Equal(emu.DefaultSleepDuration))
			Expect(c.Timer().Stats().Cycles).To(Equal(uint64(1)))
		})

		It("should still take latched interrupts", func() {
			c.SetPC(origin)
			Expect(c.Interrupts().Trigger(emu.InterruptTimer0, emu.CauseNone)).To(Succeed())

			res := c.Step()
			Expect(res.Interrupted).To(BeTrue())
			Expect(res.Executed).To(BeFalse())
			Expect(c.SysReg(emu.RegIPend)).To(Equal(uint32(1 << 2)))
			Expect(c.SysReg(emu.RegILat)).To(BeZero())
			Expect(c.SysReg(emu.RegIRET)).To(Equal(uint32(origin)))
			Expect(c.PC()).To(Equal(uint32(0x8)))
			Expect(c.IsActive()).To(BeFalse())
		})
	})
})

var _ = Describe("Core faults", func() {
	var (
		n *emu.ChannelNotifier
		m *emu.Machine
		c *emu.Core
	)

	BeforeEach(func() {
		n = emu.NewChannelNotifier(8,
			emu.EventInvalidProgramCounter, emu.EventInvalidInstruction,
			emu.EventInvalidEncoding, emu.EventInvalidMemoryAccess)
	})

	setup := func(opts ...emu.MachineOption) {
		m = newMachine(append(opts, emu.WithNotifier(n))...)
		c = coreAt(m, 1, 0)
	}

	next := func() emu.Event {
		var e emu.Event
		Expect(n.Events()).To(Receive(&e))
		return e
	}

	It("should halt on an odd program counter", func() {
		setup()
		c.SetPC(origin + 1)
		c.SetActive(true)

		res := c.Step()
		Expect(res.Err).To(HaveOccurred())
		Expect(c.IsActive()).To(BeFalse())

		e := next()
		Expect(e.Kind).To(Equal(emu.EventInvalidProgramCounter))
		Expect(e.Core).To(Equal(c.ID()))
		Expect(e.PC).To(Equal(uint32(origin + 1)))
	})

	It("should clear ACTIVE before reporting a fault", func() {
		var active []bool
		m = newMachine(emu.WithNotifier(emu.NotifierFunc(func(e emu.Event) {
			active = append(active, m.Core(e.Core).IsActive())
		})))
		c = coreAt(m, 1, 0)
		c.SetPC(origin + 1)
		c.SetActive(true)

		c.Step()
		Expect(active).To(Equal([]bool{false}))
	})

	It("should halt on an unknown instruction", func() {
		setup()
		load(c, func(p *asm.Program) { p.Word(0x00400009) })

		c.Step()
		e := next()
		Expect(e.Kind).To(Equal(emu.EventInvalidInstruction))
		Expect(e.Word).To(Equal(uint32(0x00400009)))
		Expect(e.IsFault()).To(BeTrue())
	})

	It("should halt on a memory fault", func() {
		setup()
		load(c, func(p *asm.Program) {
			p.MovImm(2, uint16(mesh.Reserved0Base))
			p.Str(insts.SizeWord, 0, 2, 0)
		})

		run(c, 10)
		Expect(c.IsActive()).To(BeFalse())

		e := next()
		Expect(e.Kind).To(Equal(emu.EventInvalidMemoryAccess))
		Expect(e.Addr).To(Equal(uint32(mesh.Reserved0Base)))
		Expect(e.Write).To(BeTrue())
		Expect(e.PC).To(Equal(uint32(origin + 4)))
	})

	It("should fault on TESTSET against the issuing core", func() {
		setup()
		own := c.ID().Address(0x3000)
		load(c, func(p *asm.Program) {
			p.Li(2, own)
			p.MovImm(3, 0)
			p.MovImm(0, 7)
			p.TestSet(0, 2, 3)
			p.Trap(emu.TrapPass)
		})

		run(c, 10)
		Expect(c.Passed()).To(BeFalse())

		e := next()
		Expect(e.Kind).To(Equal(emu.EventInvalidMemoryAccess))
		Expect(e.Addr).To(Equal(own))

		v, err := m.Memory().Read32(c, 0x3000)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
	})

	It("should halt on a fetch outside usable memory", func() {
		setup()
		c.SetPC(mesh.Reserved0Base)
		c.SetActive(true)

		c.Step()
		Expect(next().Kind).To(Equal(emu.EventInvalidMemoryAccess))
	})

	Context("with extension decoders", func() {
		var dec *insts.Decoder

		BeforeEach(func() {
			dec = insts.NewDecoder()
		})

		It("should report an extension without an executor as invalid", func() {
			dec.AddExtension("bare", func(word uint32, is16Bit bool) (insts.Instruction, bool) {
				return insts.Instruction{}, is16Bit && word == 0x0009
			})
			setup(emu.WithDecoder(dec))
			load(c, func(p *asm.Program) { p.Word(extWord) })

			c.Step()
			e := next()
			Expect(e.Kind).To(Equal(emu.EventInvalidEncoding))
			Expect(e.Inst.ExtName).To(Equal("bare"))
		})

		It("should execute extension instructions", func() {
			dec.AddExtension("inc", func(word uint32, is16Bit bool) (insts.Instruction, bool) {
				return insts.Instruction{Rd: 1, Ext: addOne{}}, is16Bit && word == 0x0009
			})
			setup(emu.WithDecoder(dec))
			load(c, func(p *asm.Program) {
				p.MovImm(1, 41)
				p.Word(extWord)
				p.Trap(emu.TrapExit)
			})

			run(c, 10)
			Expect(c.Reg(1)).To(Equal(uint32(42)))
			Expect(n.Events()).NotTo(Receive())
		})
	})
})
