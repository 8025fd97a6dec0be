package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/esim/bits"
	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/mesh"
)

var _ = Describe("InterruptController", func() {
	var (
		c  *emu.Core
		ic *emu.InterruptController
	)

	BeforeEach(func() {
		c = coreAt(newMachine(), 0, 1)
		ic = c.Interrupts()
		c.SetPC(0x300)
		c.SetActive(true)
	})

	excause := func(width int) uint32 {
		return bits.Extract(c.Status(), emu.StatusExCauseLSB, width)
	}

	Describe("Trigger", func() {
		It("should reject a cause on ordinary interrupts", func() {
			err := ic.Trigger(emu.InterruptSync, emu.CauseUnalignedAccess)
			Expect(err).To(MatchError(emu.ErrInvalidArgument))
		})

		It("should require a cause for software exceptions", func() {
			err := ic.Trigger(emu.InterruptSoftwareException, emu.CauseNone)
			Expect(err).To(MatchError(emu.ErrInvalidArgument))
		})

		It("should reject unknown levels", func() {
			Expect(ic.Trigger(emu.Interrupt(9), emu.CauseNone)).NotTo(Succeed())
		})

		It("should latch the level", func() {
			Expect(ic.Trigger(emu.InterruptTimer1, emu.CauseNone)).To(Succeed())
			Expect(c.SysReg(emu.RegILat)).To(Equal(uint32(1 << 3)))
		})

		It("should record Epiphany III cause codes in three bits", func() {
			Expect(ic.Trigger(emu.InterruptSoftwareException, emu.CauseUnalignedAccess)).To(Succeed())
			Expect(excause(3)).To(Equal(uint32(0x2)))

			Expect(ic.Trigger(emu.InterruptSoftwareException, emu.CauseIllegalAccess)).To(Succeed())
			Expect(excause(3)).To(Equal(uint32(0x5)))
		})

		It("should record Epiphany IV cause codes in four bits", func() {
			m, err := emu.NewMachine(mesh.EpiphanyIV, 2, 2, mesh.MinMemorySize)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)
			c = m.Cores()[0]

			Expect(c.Interrupts().Trigger(emu.InterruptSoftwareException,
				emu.CauseUnalignedAccess)).To(Succeed())
			Expect(excause(4)).To(Equal(uint32(0xD)))

			Expect(c.Interrupts().Trigger(emu.InterruptUser, emu.CauseFloatingPoint)).To(Succeed())
			Expect(excause(4)).To(Equal(uint32(0x7)))
		})
	})

	Describe("Update", func() {
		It("should deliver a latched interrupt to its vector", func() {
			Expect(ic.Trigger(emu.InterruptTimer0, emu.CauseNone)).To(Succeed())

			Expect(ic.Update()).To(BeTrue())
			Expect(c.PC()).To(Equal(uint32(2 * 4)))
			Expect(c.SysReg(emu.RegIRET)).To(Equal(uint32(0x300)))
			Expect(ic.Pending()).To(Equal(uint32(1 << 2)))
			Expect(c.SysReg(emu.RegILat)).To(BeZero())
			Expect(bits.Check(c.Status(), emu.StatusGID)).To(BeTrue())
		})

		It("should deliver the highest priority first", func() {
			Expect(ic.Trigger(emu.InterruptUser, emu.CauseSoftwareInterrupt)).To(Succeed())
			Expect(ic.Trigger(emu.InterruptSync, emu.CauseNone)).To(Succeed())

			Expect(ic.Update()).To(BeTrue())
			Expect(c.PC()).To(BeZero())
			Expect(c.SysReg(emu.RegILat)).To(Equal(uint32(1 << 8)))
		})

		It("should hold masked interrupts", func() {
			c.SetSysReg(emu.RegIMask, 1<<4)
			Expect(ic.Trigger(emu.InterruptMessage, emu.CauseNone)).To(Succeed())

			Expect(ic.Update()).To(BeFalse())
			Expect(c.PC()).To(Equal(uint32(0x300)))
		})

		It("should hold everything while interrupts are disabled", func() {
			c.SetSysReg(emu.RegStatus, 1|1<<emu.StatusGID)
			Expect(ic.Trigger(emu.InterruptSync, emu.CauseNone)).To(Succeed())

			Expect(ic.Update()).To(BeFalse())
		})

		It("should only nest higher priority interrupts", func() {
			c.SetSysReg(emu.RegIPend, 1<<2)

			Expect(ic.Trigger(emu.InterruptTimer1, emu.CauseNone)).To(Succeed())
			Expect(ic.Update()).To(BeFalse())

			Expect(ic.Trigger(emu.InterruptSync, emu.CauseNone)).To(Succeed())
			Expect(ic.Update()).To(BeTrue())
			Expect(ic.Pending()).To(Equal(uint32(1<<2 | 1)))
		})

		It("should enter kernel mode when configured", func() {
			c.SetSysReg(emu.RegConfig, 1<<emu.ConfigKernelOnIRQ)
			Expect(ic.Trigger(emu.InterruptDMA0, emu.CauseNone)).To(Succeed())

			Expect(ic.Update()).To(BeTrue())
			Expect(bits.Check(c.Status(), emu.StatusKernel)).To(BeTrue())
		})
	})

	Describe("Return", func() {
		It("should restore PC and retire the interrupt in service", func() {
			Expect(ic.Trigger(emu.InterruptTimer0, emu.CauseNone)).To(Succeed())
			Expect(ic.Update()).To(BeTrue())

			ic.Return()
			Expect(c.PC()).To(Equal(uint32(0x300)))
			Expect(ic.Pending()).To(BeZero())
			Expect(bits.Check(c.Status(), emu.StatusGID)).To(BeFalse())
		})

		It("should retire only the highest priority pending level", func() {
			c.SetSysReg(emu.RegIPend, 1<<1|1<<6)
			ic.Return()
			Expect(ic.Pending()).To(Equal(uint32(1 << 6)))
		})
	})
})
