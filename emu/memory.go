package emu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/esim/mesh"
)

// Region classifies a translated address.
type Region uint8

// Address regions.
const (
	RegionInvalid Region = iota
	RegionLocal
	RegionExternal
)

func (r Region) String() string {
	switch r {
	case RegionLocal:
		return "local"
	case RegionExternal:
		return "external"
	}
	return "invalid"
}

// Target is the result of address translation.
type Target struct {
	Region Region
	Core   *Core  // owning core for RegionLocal
	Offset uint32 // offset into the core's local memory or external memory
	Global bool   // the address named its core explicitly
}

// Memory routes loads and stores between core-local memories and the
// shared external segment. External memory sits behind one machine-wide
// lock; each core's local memory is guarded by that core's lock.
type Memory struct {
	size    uint32
	mu      sync.Mutex
	storage *mem.Storage
	cores   func(mesh.CoreID) *Core
}

func newMemory(size uint32, cores func(mesh.CoreID) *Core) *Memory {
	return &Memory{
		size:    size,
		storage: mem.NewStorage(uint64(size)),
		cores:   cores,
	}
}

// Size returns the size of external memory in bytes.
func (m *Memory) Size() uint32 {
	return m.size
}

// Translate resolves addr as seen by caller. Reserved ranges, cores outside
// the grid and unmapped addresses fault. A nil caller can only use global
// and external addresses.
func (m *Memory) Translate(caller *Core, addr uint32, write bool) (Target, error) {
	if addr >= mesh.ExternalBase && addr-mesh.ExternalBase < m.size {
		return Target{Region: RegionExternal, Offset: addr - mesh.ExternalBase}, nil
	}

	id, local := mesh.FromAddress(addr)
	if mesh.IsReserved(local) {
		return Target{}, fault(addr, write, "reserved memory")
	}

	core := caller
	global := !id.IsCurrent()
	if global {
		core = m.cores(id)
	}
	if core == nil {
		return Target{}, fault(addr, write, "no core at "+id.String())
	}

	return Target{Region: RegionLocal, Core: core, Offset: local, Global: global}, nil
}

// Probe is Translate without the fault: unusable addresses come back as
// RegionInvalid.
func (m *Memory) Probe(caller *Core, addr uint32) Target {
	t, err := m.Translate(caller, addr, false)
	if err != nil {
		return Target{Region: RegionInvalid}
	}
	return t
}

// transfer performs one translated access of len(buf) bytes.
func (m *Memory) transfer(caller *Core, addr uint32, buf []byte, write bool) error {
	t, err := m.Translate(caller, addr, write)
	if err != nil {
		return err
	}

	n := uint64(len(buf))
	if n == 0 {
		return nil
	}

	switch t.Region {
	case RegionExternal:
		if uint64(t.Offset)+n > uint64(m.size) {
			return fault(addr, write, "out of bounds")
		}
		return m.transferExternal(addr, t.Offset, buf, write)

	case RegionLocal:
		if uint64(t.Offset)+n > mesh.LocalMemorySize {
			return fault(addr, write, "out of bounds")
		}

		reg := mesh.InRegisterFile(t.Offset)
		if reg {
			if err := checkRegisterAccess(addr, t.Offset, uint32(n), write); err != nil {
				return err
			}
		}

		c := t.Core
		c.mu.Lock()
		defer c.mu.Unlock()

		switch {
		case !write:
			copy(buf, c.local[t.Offset:])
		case reg:
			storeRegister(RegFile(c.local), t.Offset, binary.LittleEndian.Uint32(buf))
		default:
			copy(c.local[t.Offset:], buf)
		}
		return nil
	}

	return fault(addr, write, "unmapped")
}

func (m *Memory) transferExternal(addr, off uint32, buf []byte, write bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if write {
		if err := m.storage.Write(uint64(off), buf); err != nil {
			return fault(addr, true, err.Error())
		}
		return nil
	}

	data, err := m.storage.Read(uint64(off), uint64(len(buf)))
	if err != nil {
		return fault(addr, false, err.Error())
	}
	copy(buf, data)
	return nil
}

func checkAlignment(addr, size uint32, write bool) error {
	if addr%size != 0 {
		return &MisalignedError{Addr: addr, Size: size, Write: write}
	}
	return nil
}

// Read8 loads a byte.
func (m *Memory) Read8(c *Core, addr uint32) (uint8, error) {
	var buf [1]byte
	err := m.transfer(c, addr, buf[:], false)
	return buf[0], err
}

// Read16 loads a halfword.
func (m *Memory) Read16(c *Core, addr uint32) (uint16, error) {
	if err := checkAlignment(addr, 2, false); err != nil {
		return 0, err
	}
	var buf [2]byte
	err := m.transfer(c, addr, buf[:], false)
	return binary.LittleEndian.Uint16(buf[:]), err
}

// Read32 loads a word.
func (m *Memory) Read32(c *Core, addr uint32) (uint32, error) {
	if err := checkAlignment(addr, 4, false); err != nil {
		return 0, err
	}
	var buf [4]byte
	err := m.transfer(c, addr, buf[:], false)
	return binary.LittleEndian.Uint32(buf[:]), err
}

// Read64 loads a doubleword as two word accesses, low word first.
func (m *Memory) Read64(c *Core, addr uint32) (uint64, error) {
	if err := checkAlignment(addr, 8, false); err != nil {
		return 0, err
	}
	lo, err := m.Read32(c, addr)
	if err != nil {
		return 0, err
	}
	hi, err := m.Read32(c, addr+4)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// Write8 stores a byte.
func (m *Memory) Write8(c *Core, addr uint32, v uint8) error {
	return m.transfer(c, addr, []byte{v}, true)
}

// Write16 stores a halfword.
func (m *Memory) Write16(c *Core, addr uint32, v uint16) error {
	if err := checkAlignment(addr, 2, true); err != nil {
		return err
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return m.transfer(c, addr, buf[:], true)
}

// Write32 stores a word. Stores to the register window run the register's
// side effects.
func (m *Memory) Write32(c *Core, addr uint32, v uint32) error {
	if err := checkAlignment(addr, 4, true); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return m.transfer(c, addr, buf[:], true)
}

// Write64 stores a doubleword as two word accesses, low word first.
func (m *Memory) Write64(c *Core, addr uint32, v uint64) error {
	if err := checkAlignment(addr, 8, true); err != nil {
		return err
	}
	if err := m.Write32(c, addr, uint32(v)); err != nil {
		return err
	}
	return m.Write32(c, addr+4, uint32(v>>32))
}

// bulkSafe reports whether n bytes at t can be copied in one access: the
// range must stay inside ordinary local memory or external memory.
func (m *Memory) bulkSafe(t Target, n uint32) bool {
	switch t.Region {
	case RegionLocal:
		return uint64(t.Offset)+uint64(n) <= mesh.Reserved0Base
	case RegionExternal:
		return uint64(t.Offset)+uint64(n) <= uint64(m.size)
	}
	return false
}

// ReadBytes loads n bytes starting at addr.
func (m *Memory) ReadBytes(c *Core, addr uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative byte count %d", ErrInvalidArgument, n)
	}

	buf := make([]byte, n)
	if m.bulkSafe(m.Probe(c, addr), uint32(n)) {
		return buf, m.transfer(c, addr, buf, false)
	}

	for i := range buf {
		v, err := m.Read8(c, addr+uint32(i))
		if err != nil {
			return nil, err
		}
		buf[i] = v
	}
	return buf, nil
}

// WriteBytes stores data starting at addr.
func (m *Memory) WriteBytes(c *Core, addr uint32, data []byte) error {
	if m.bulkSafe(m.Probe(c, addr), uint32(len(data))) {
		return m.transfer(c, addr, data, true)
	}

	for i, v := range data {
		if err := m.Write8(c, addr+uint32(i), v); err != nil {
			return err
		}
	}
	return nil
}

// TestSet atomically stores value at addr if the word there is zero and
// returns the previous word. The address must name another core's local
// memory through its global address.
func (m *Memory) TestSet(caller *Core, addr, value uint32) (uint32, error) {
	if err := checkAlignment(addr, 4, true); err != nil {
		return 0, err
	}

	t := m.Probe(caller, addr)
	switch {
	case t.Region != RegionLocal || !t.Global:
		return 0, fault(addr, true, "testset needs a global core address")
	case t.Core == caller:
		return 0, fault(addr, true, "testset on the issuing core")
	case mesh.InRegisterFile(t.Offset):
		return 0, fault(addr, true, "testset on a register")
	}

	c := t.Core
	c.mu.Lock()
	defer c.mu.Unlock()

	r := RegFile(c.local)
	old := r.Get(t.Offset)
	if old == 0 {
		r.Set(t.Offset, value)
	}
	return old, nil
}
