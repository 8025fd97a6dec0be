package asm_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/esim/asm"
	"github.com/sarchlab/esim/insts"
)

var _ = Describe("Program", func() {
	var (
		p       *asm.Program
		decoder *insts.Decoder
	)

	BeforeEach(func() {
		p = asm.New(0x100)
		decoder = insts.NewDecoder()
	})

	// disassemble walks an image the way the core fetches it.
	disassemble := func(image []byte) []insts.Instruction {
		var out []insts.Instruction
		for pc := 0; pc < len(image); {
			lo := binary.LittleEndian.Uint16(image[pc:])
			if inst, ok := decoder.Decode16(lo); ok {
				out = append(out, inst)
				pc += 2
				continue
			}
			word := binary.LittleEndian.Uint32(image[pc:])
			inst, ok := decoder.Decode32(word)
			Expect(ok).To(BeTrue(), "word 0x%08X at %d", word, pc)
			out = append(out, inst)
			pc += 4
		}
		return out
	}

	It("should emit short encodings when operands allow", func() {
		p.Nop()
		p.Trap(3)

		image, err := p.Bytes()
		Expect(err).NotTo(HaveOccurred())
		Expect(image).To(Equal([]byte{0xA2, 0x01, 0xE2, 0x0F}))
		Expect(p.PC()).To(Equal(uint32(0x104)))
	})

	It("should load 32-bit constants with MOV and MOVT", func() {
		p.Li(10, 0x12345678)
		p.Li(1, 5)

		image, err := p.Bytes()
		Expect(err).NotTo(HaveOccurred())

		got := disassemble(image)
		Expect(got).To(HaveLen(3))
		Expect(got[0].Op).To(Equal(insts.OpMOVImm))
		Expect(got[0].Imm).To(Equal(int32(0x5678)))
		Expect(got[1].Op).To(Equal(insts.OpMOVT))
		Expect(got[1].Imm).To(Equal(int32(0x1234)))
		Expect(got[2].Is16Bit).To(BeTrue())
	})

	It("should resolve forward and backward label branches", func() {
		p.Label("top")
		p.B(insts.CondNE, "end")
		p.Nop()
		p.B(insts.CondAL, "top")
		p.Label("end")
		p.Bl("top")

		image, err := p.Bytes()
		Expect(err).NotTo(HaveOccurred())

		got := disassemble(image)
		Expect(got).To(HaveLen(4))
		Expect(got[0].Cond).To(Equal(insts.CondNE))
		Expect(got[0].Imm).To(Equal(int32(10)))
		Expect(got[2].Imm).To(Equal(int32(-6)))
		Expect(got[3].Cond).To(Equal(insts.CondBL))
		Expect(got[3].Imm).To(Equal(int32(-10)))
	})

	It("should encode signed displacements as subtracting loads", func() {
		p.Ldr(insts.SizeWord, 2, 12, -3)
		p.StrPM(insts.SizeDouble, 4, 5, 1)

		image, err := p.Bytes()
		Expect(err).NotTo(HaveOccurred())

		got := disassemble(image)
		Expect(got[0].Op).To(Equal(insts.OpLDRDisp))
		Expect(got[0].Subtract).To(BeTrue())
		Expect(got[0].Imm).To(Equal(int32(3)))
		Expect(got[1].Op).To(Equal(insts.OpSTRDispPM))
		Expect(got[1].Size).To(Equal(insts.SizeDouble))
	})

	It("should report undefined labels", func() {
		p.B(insts.CondAL, "nowhere")

		_, err := p.Bytes()
		Expect(err).To(MatchError(asm.ErrUndefinedLabel))
	})

	It("should keep the first encoding error", func() {
		p.Trap(99)
		p.Nop()

		Expect(p.Err()).To(MatchError(insts.ErrOperandRange))
		_, err := p.Bytes()
		Expect(err).To(HaveOccurred())
	})

	It("should reject double transfers to odd registers", func() {
		p.Ldr(insts.SizeDouble, 3, 0, 0)
		Expect(p.Err()).To(MatchError(insts.ErrInvalidEncoding))
	})

	It("should pad to an alignment with NOPs", func() {
		p.Nop()
		p.Align(8)
		Expect(p.PC() % 8).To(BeZero())
	})
})
