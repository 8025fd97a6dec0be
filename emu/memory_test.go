package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/mesh"
)

var _ = Describe("Memory", func() {
	var (
		m        *emu.Machine
		mem      *emu.Memory
		c00, c11 *emu.Core
	)

	BeforeEach(func() {
		m = newMachine()
		mem = m.Memory()
		c00 = coreAt(m, 0, 0)
		c11 = coreAt(m, 1, 1)
	})

	global := func(c *emu.Core, local uint32) uint32 {
		return c.ID().Address(local)
	}

	Describe("Translate", func() {
		It("should resolve local addresses to the caller", func() {
			t, err := mem.Translate(c11, 0x2000, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Region).To(Equal(emu.RegionLocal))
			Expect(t.Core).To(BeIdenticalTo(c11))
			Expect(t.Offset).To(Equal(uint32(0x2000)))
			Expect(t.Global).To(BeFalse())
		})

		It("should resolve global addresses to the named core", func() {
			t, err := mem.Translate(c00, global(c11, 0x2000), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Core).To(BeIdenticalTo(c11))
			Expect(t.Global).To(BeTrue())
		})

		It("should resolve the external segment", func() {
			t, err := mem.Translate(c00, mesh.ExternalBase+0x40, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Region).To(Equal(emu.RegionExternal))
			Expect(t.Offset).To(Equal(uint32(0x40)))
		})

		It("should fault on cores outside the grid", func() {
			id := mesh.CoreID{Row: 5, Column: 0}
			_, err := mem.Translate(c00, id.Address(0x100), false)

			var mf *emu.MemoryFault
			Expect(err).To(BeAssignableToTypeOf(mf))
		})

		It("should fault on reserved local memory", func() {
			_, err := mem.Translate(c00, mesh.Reserved0Base, false)
			Expect(err).To(HaveOccurred())

			_, err = mem.Translate(c00, mesh.Reserved1Base, true)
			Expect(err).To(HaveOccurred())
		})

		It("should fault past the end of external memory", func() {
			_, err := mem.Translate(c00, mesh.ExternalBase+mem.Size(), false)
			Expect(err).To(HaveOccurred())
		})

		It("should report unusable addresses as invalid when probing", func() {
			Expect(mem.Probe(c00, mesh.Reserved0Base).Region).To(Equal(emu.RegionInvalid))
		})
	})

	Describe("loads and stores", func() {
		It("should share a core's memory through its global address", func() {
			Expect(mem.Write32(c00, global(c11, 0x2000), 0xDEADBEEF)).To(Succeed())

			v, err := mem.Read32(c11, 0x2000)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint32(0xDEADBEEF)))

			b, err := mem.Read8(c11, 0x2001)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(Equal(uint8(0xBE)))
		})

		It("should store doubles low word first", func() {
			Expect(mem.Write64(c00, 0x2008, 0x11223344_55667788)).To(Succeed())

			lo, _ := mem.Read32(c00, 0x2008)
			hi, _ := mem.Read32(c00, 0x200C)
			Expect(lo).To(Equal(uint32(0x55667788)))
			Expect(hi).To(Equal(uint32(0x11223344)))
		})

		It("should reject misaligned accesses", func() {
			_, err := mem.Read16(c00, 0x2001)

			var mis *emu.MisalignedError
			Expect(err).To(BeAssignableToTypeOf(mis))

			err = mem.Write32(c00, 0x2002, 1)
			Expect(err).To(BeAssignableToTypeOf(mis))
		})

		It("should copy bytes through external memory", func() {
			Expect(mem.WriteBytes(c00, mesh.ExternalBase+0x10, []byte("hello"))).To(Succeed())

			got, err := mem.ReadBytes(c11, mesh.ExternalBase+0x10, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(got)).To(Equal("hello"))
		})

		It("should fault a byte run that reaches reserved memory", func() {
			_, err := mem.ReadBytes(c00, mesh.Reserved0Base-2, 4)

			var mf *emu.MemoryFault
			Expect(err).To(BeAssignableToTypeOf(mf))
			Expect(err.(*emu.MemoryFault).Addr).To(Equal(uint32(mesh.Reserved0Base)))
		})
	})

	Describe("register window", func() {
		It("should keep ACTIVE, GID and kernel mode on STATUS stores", func() {
			c00.SetActive(true)
			Expect(mem.Write32(c00, emu.RegStatus, 0xFFFFFFF0)).To(Succeed())
			Expect(c00.Status()).To(Equal(uint32(0xFFFFFFF1)))
		})

		It("should write STATUS raw through STATUS_STORE", func() {
			Expect(mem.Write32(c00, emu.RegStatusStore, 0x5)).To(Succeed())
			Expect(c00.Status()).To(Equal(uint32(0x5)))
		})

		It("should fault on reserved registers", func() {
			err := mem.Write32(c00, 0xF0410, 1)
			Expect(err).To(HaveOccurred())

			_, err = mem.Read32(c00, 0xF0600)
			Expect(err).To(HaveOccurred())
		})

		It("should only allow word accesses", func() {
			Expect(mem.Write8(c00, emu.RegConfig, 1)).NotTo(Succeed())

			_, err := mem.Read16(c00, emu.RegConfig)
			Expect(err).To(HaveOccurred())
		})

		It("should expose general-purpose registers", func() {
			Expect(mem.Write32(c00, global(c11, emu.RegGPR+4*63), 42)).To(Succeed())
			Expect(c11.Reg(63)).To(Equal(uint32(42)))
		})

		It("should set and clear latched interrupts", func() {
			Expect(mem.Write32(c00, emu.RegILatSet, 0xFFFF)).To(Succeed())
			Expect(c00.SysReg(emu.RegILat)).To(Equal(uint32(0x1FF)))

			Expect(mem.Write32(c00, emu.RegILatClear, 0x1)).To(Succeed())
			Expect(c00.SysReg(emu.RegILat)).To(Equal(uint32(0x1FE)))
		})

		It("should halt and resume through DEBUGCMD", func() {
			Expect(mem.Write32(c00, emu.RegDebugCmd, 1)).To(Succeed())
			Expect(c00.Debugger().Halted()).To(BeTrue())

			Expect(mem.Write32(c00, emu.RegDebugCmd, 0)).To(Succeed())
			Expect(c00.Debugger().Halted()).To(BeFalse())
		})

		It("should reset the register file but keep COREID", func() {
			c11.SetReg(5, 7)
			c11.SetPC(0x400)

			Expect(mem.Write32(c00, global(c11, emu.RegResetCore), 0)).To(Succeed())
			Expect(c11.Reg(5)).To(BeZero())
			Expect(c11.PC()).To(BeZero())
			Expect(c11.SysReg(emu.RegCoreID)).To(Equal(uint32(1<<6 | 1)))
		})
	})

	Describe("TestSet", func() {
		var addr uint32

		BeforeEach(func() {
			addr = global(c11, 0x3000)
		})

		It("should store only when the word is zero", func() {
			old, err := mem.TestSet(c00, addr, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(old).To(BeZero())

			old, err = mem.TestSet(c00, addr, 9)
			Expect(err).NotTo(HaveOccurred())
			Expect(old).To(Equal(uint32(7)))

			v, _ := mem.Read32(c11, 0x3000)
			Expect(v).To(Equal(uint32(7)))
		})

		It("should require another core's global address", func() {
			_, err := mem.TestSet(c11, 0x3000, 1)
			Expect(err).To(HaveOccurred())

			_, err = mem.TestSet(c11, addr, 1)
			Expect(err).To(HaveOccurred())

			_, err = mem.TestSet(c00, mesh.ExternalBase, 1)
			Expect(err).To(HaveOccurred())
		})

		It("should refuse registers", func() {
			_, err := mem.TestSet(c00, global(c11, emu.RegConfig), 1)
			Expect(err).To(HaveOccurred())
		})

		It("should require word alignment", func() {
			_, err := mem.TestSet(c00, addr+2, 1)

			var mis *emu.MisalignedError
			Expect(err).To(BeAssignableToTypeOf(mis))
		})
	})
})
