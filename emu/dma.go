package emu

import (
	"errors"

	"github.com/sarchlab/esim/bits"
	"github.com/sarchlab/esim/insts"
)

// DMA channel CONFIG bits and fields.
const (
	DMAEnable     = 0
	DMAIRQEnable  = 4
	DMASizeLSB    = 5
	dmaSizeWidth  = 2
	dmaChannels   = 2
	dmaBlockBytes = RegDMA1 - RegDMA0

	// dmaBurst bounds the elements a channel moves in one tick. Whole rows
	// are always finished, so a tick may overshoot by less than a row.
	dmaBurst = 4096
)

// dmaDescriptor is a snapshot of one channel's registers.
type dmaDescriptor struct {
	config uint32
	stride uint32
	count  uint32
	src    uint32
	dst    uint32
}

func (d dmaDescriptor) size() insts.Size {
	return insts.Size(bits.Extract(d.config, DMASizeLSB, dmaSizeWidth))
}

// DMAEngine runs a core's two DMA channels. A channel enabled through its
// CONFIG register moves up to dmaBurst elements per tick and stays enabled
// until its last row is done.
type DMAEngine struct {
	core *Core
}

// Update services every enabled channel.
func (e *DMAEngine) Update() {
	for ch := 0; ch < dmaChannels; ch++ {
		e.run(ch)
	}
}

// Busy reports whether a channel is enabled and not yet serviced.
func (e *DMAEngine) Busy(ch int) bool {
	var on bool
	e.core.withRegs(func(r RegFile) {
		on = r.Check(channelBase(ch)+DMAConfig, DMAEnable)
	})
	return on
}

func channelBase(ch int) uint32 {
	return RegDMA0 + uint32(ch)*dmaBlockBytes
}

func (e *DMAEngine) run(ch int) {
	base := channelBase(ch)

	var d dmaDescriptor
	e.core.withRegs(func(r RegFile) {
		d = dmaDescriptor{
			config: r.Get(base + DMAConfig),
			stride: r.Get(base + DMAStride),
			count:  r.Get(base + DMACount),
			src:    r.Get(base + DMASource),
			dst:    r.Get(base + DMADest),
		}
	})
	if !bits.Check(d.config, DMAEnable) {
		return
	}

	src, dst, rows, err := e.transfer(d)
	done := rows == 0 || err != nil

	var status uint32
	var mf *MemoryFault
	if errors.As(err, &mf) {
		status = mf.Addr
	} else if err != nil {
		status = d.src
	}

	e.core.withRegs(func(r RegFile) {
		if done {
			r.Set(base+DMAConfig, bits.Clear(d.config, DMAEnable))
			r.Set(base+DMACount, 0)
		} else {
			r.Set(base+DMACount, rows<<16|d.count&0xFFFF)
		}
		r.Set(base+DMASource, src)
		r.Set(base+DMADest, dst)
		r.Set(base+DMAStatus, status)
	})

	if !done {
		return
	}

	if err != nil {
		e.core.halt()
		e.core.notify(Event{Kind: EventInvalidMemoryAccess, PC: e.core.PC(),
			Addr: status, Write: mf != nil && mf.Write})
		e.core.machine.logger.Verbose(e.core.id, "dma fault", "channel", ch, "err", err)
		return
	}

	e.core.machine.logger.Debug(e.core.id, "dma done", "channel", ch)
	if bits.Check(d.config, DMAIRQEnable) {
		_ = e.core.interrupts.Trigger(InterruptDMA0+Interrupt(ch), CauseNone)
	}
}

// transfer copies rows of count[15:0] elements, count[31:16] rows in all,
// stepping each address by its signed stride after every element. It stops
// early once dmaBurst elements have moved or the machine is halting, and
// returns the final addresses and the rows still to copy.
func (e *DMAEngine) transfer(d dmaDescriptor) (src, dst, rows uint32, err error) {
	lsu := LoadStoreUnit{core: e.core, memory: e.core.machine.memory}
	size := d.size()

	inner := d.count & 0xFFFF
	rows = d.count >> 16
	if rows == 0 {
		rows = 1
	}
	srcStride := uint32(int32(int16(d.stride)))
	dstStride := uint32(int32(int16(d.stride >> 16)))

	src, dst = d.src, d.dst
	moved := uint32(0)
	for rows != 0 {
		if moved >= dmaBurst || e.core.machine.Halting() {
			return src, dst, rows, nil
		}
		for i := uint32(0); i < inner; i++ {
			v, err := lsu.read(src, size)
			if err != nil {
				return src, dst, rows, err
			}
			if err := lsu.write(dst, size, v); err != nil {
				return src, dst, rows, err
			}
			src += srcStride
			dst += dstStride
		}
		moved += inner
		rows--
	}
	return src, dst, 0, nil
}
