package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/esim/asm"
	"github.com/sarchlab/esim/emu"
)

var _ = Describe("EventTimer", func() {
	var c *emu.Core

	BeforeEach(func() {
		c = coreAt(newMachine(), 1, 1)
	})

	It("should count clock ticks and fire once at zero", func() {
		c.SetSysReg(emu.RegConfig, emu.TimerClock<<emu.ConfigTimer1ModeLSB)
		c.SetSysReg(emu.RegCTimer1, 2)

		c.Step()
		Expect(c.SysReg(emu.RegCTimer1)).To(Equal(uint32(1)))
		Expect(c.SysReg(emu.RegILat)).To(BeZero())

		c.Step()
		Expect(c.SysReg(emu.RegCTimer1)).To(BeZero())
		Expect(c.SysReg(emu.RegIPend)).To(Equal(uint32(1 << emu.InterruptTimer1)))

		c.SetSysReg(emu.RegIPend, 0)
		c.Step()
		Expect(c.SysReg(emu.RegILat)).To(BeZero())
		Expect(c.SysReg(emu.RegIPend)).To(BeZero())
	})

	It("should stay still when off", func() {
		c.SetSysReg(emu.RegCTimer0, 5)
		c.Step()
		Expect(c.SysReg(emu.RegCTimer0)).To(Equal(uint32(5)))
	})

	It("should count integer instructions", func() {
		c.SetSysReg(emu.RegConfig, emu.TimerIntegerInsts<<emu.ConfigTimer0ModeLSB)
		c.SetSysReg(emu.RegCTimer0, 10)
		load(c, func(p *asm.Program) {
			p.MovImm(0, 1)
			p.Add(1, 0, 0)
			p.Add(1, 1, 0)
			p.Trap(emu.TrapPass)
		})

		run(c, 10)
		Expect(c.SysReg(emu.RegCTimer0)).To(Equal(uint32(8)))
	})

	It("should count float instructions", func() {
		c.SetSysReg(emu.RegConfig,
			emu.TimerFloatInsts<<emu.ConfigTimer0ModeLSB|emu.TimerClock<<emu.ConfigTimer1ModeLSB)
		c.SetSysReg(emu.RegCTimer0, 10)
		c.SetSysReg(emu.RegCTimer1, 100)
		load(c, func(p *asm.Program) {
			p.Fadd(1, 0, 0)
			p.Trap(emu.TrapPass)
		})

		run(c, 10)
		Expect(c.SysReg(emu.RegCTimer0)).To(Equal(uint32(9)))
		Expect(c.SysReg(emu.RegCTimer1)).To(Equal(uint32(98)))
	})

	It("should keep statistics", func() {
		load(c, func(p *asm.Program) {
			p.MovImm(0, 1)
			p.Fmul(1, 0, 0)
			p.Trap(emu.TrapPass)
		})
		run(c, 10)
		c.Step()

		Expect(c.Timer().Stats()).To(Equal(emu.Stats{
			Cycles:            4,
			Instructions:      3,
			FloatInstructions: 1,
		}))
	})
})
