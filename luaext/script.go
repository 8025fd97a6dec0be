// Package luaext implements extension instructions in Lua.
//
// A script may define any of these globals:
//
//	decode16(word)      -> name or nil
//	decode32(word)      -> name or nil
//	execute(name, word)
//
// The decode functions claim words the built-in decoder tables do not
// recognize. execute runs a claimed instruction and can use the builtins
// reg(n), setreg(n, v), pc(), setpc(v), load32(addr) and store32(addr, v).
// Unless setpc is called, PC advances past the instruction.
package luaext

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/esim/emu"
	"github.com/sarchlab/esim/insts"
)

// ErrNoExecute is returned when a script claims an instruction but does not
// define execute.
var ErrNoExecute = errors.New("script does not define execute")

// Script is a loaded extension script. Calls into the Lua state are
// serialized, so one Script can serve every core of a machine.
type Script struct {
	name string

	mu     sync.Mutex
	state  *lua.LState
	core   *emu.Core
	jumped bool
	err    error
}

// Load runs the script at path. The extension is named after the file.
func Load(path string) (*Script, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s := newScript(name)
	if err := s.state.DoFile(path); err != nil {
		s.state.Close()
		return nil, fmt.Errorf("failed to load extension script: %w", err)
	}
	return s, nil
}

// LoadString runs src as a script with the given extension name.
func LoadString(name, src string) (*Script, error) {
	s := newScript(name)
	if err := s.state.DoString(src); err != nil {
		s.state.Close()
		return nil, fmt.Errorf("failed to load extension script %s: %w", name, err)
	}
	return s, nil
}

func newScript(name string) *Script {
	s := &Script{name: name, state: lua.NewState()}

	builtins := map[string]lua.LGFunction{
		"reg":     s.luaReg,
		"setreg":  s.luaSetReg,
		"pc":      s.luaPC,
		"setpc":   s.luaSetPC,
		"load32":  s.luaLoad32,
		"store32": s.luaStore32,
	}
	for fn, impl := range builtins {
		s.state.SetGlobal(fn, s.state.NewFunction(impl))
	}
	return s
}

// Name returns the extension name.
func (s *Script) Name() string { return s.name }

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Close()
}

// Register adds the script's decoder to d. It returns false if an extension
// with the same name is already registered.
func (s *Script) Register(d *insts.Decoder) bool {
	return d.AddExtension(s.name, s.Decode)
}

// Decode classifies word through decode16 or decode32. Words the script
// does not claim, or that raise a Lua error, are not matched.
func (s *Script) Decode(word uint32, is16Bit bool) (insts.Instruction, bool) {
	fn := "decode32"
	if is16Bit {
		fn = "decode16"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ret, ok := s.call(fn, lua.LNumber(word))
	if !ok {
		return insts.Instruction{}, false
	}
	name, isString := ret.(lua.LString)
	if !isString || name == "" {
		return insts.Instruction{}, false
	}

	return insts.Instruction{
		Op:      insts.OpExtension,
		ExtName: string(name),
		Ext:     s,
	}, true
}

// Execute runs a decoded instruction on c.
func (s *Script) Execute(c *emu.Core, inst insts.Instruction) (emu.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.state.GetGlobal("execute").(*lua.LFunction)
	if !ok {
		return emu.SignalNone, fmt.Errorf("%s: %w", s.name, ErrNoExecute)
	}

	s.core, s.jumped, s.err = c, false, nil
	defer func() { s.core = nil }()

	err := s.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
		lua.LString(inst.ExtName), lua.LNumber(inst.Raw))
	if s.err != nil {
		return emu.SignalNone, s.err
	}
	if err != nil {
		return emu.SignalNone, fmt.Errorf("%s: %s: %w", s.name, inst.ExtName, err)
	}

	if s.jumped {
		return emu.SignalNone, nil
	}
	return emu.SignalNext, nil
}

// call invokes the global fn with args and returns its first result. It
// reports false when fn is not defined or fails.
func (s *Script) call(fn string, args ...lua.LValue) (lua.LValue, bool) {
	f, ok := s.state.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return lua.LNil, false
	}

	if err := s.state.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, false
	}
	ret := s.state.Get(-1)
	s.state.Pop(1)
	return ret, true
}

func (s *Script) active(L *lua.LState) *emu.Core {
	if s.core == nil {
		L.RaiseError("no instruction is executing")
	}
	return s.core
}

func checkRegister(L *lua.LState, n int) uint8 {
	r := L.CheckInt(n)
	if r < 0 || r > 63 {
		L.ArgError(n, "register out of range")
	}
	return uint8(r)
}

func checkWord(L *lua.LState, n int) uint32 {
	return uint32(int64(L.CheckNumber(n)))
}

func (s *Script) luaReg(L *lua.LState) int {
	c := s.active(L)
	L.Push(lua.LNumber(c.Reg(checkRegister(L, 1))))
	return 1
}

func (s *Script) luaSetReg(L *lua.LState) int {
	c := s.active(L)
	c.SetReg(checkRegister(L, 1), checkWord(L, 2))
	return 0
}

func (s *Script) luaPC(L *lua.LState) int {
	c := s.active(L)
	L.Push(lua.LNumber(c.PC()))
	return 1
}

func (s *Script) luaSetPC(L *lua.LState) int {
	c := s.active(L)
	c.SetPC(checkWord(L, 1))
	s.jumped = true
	return 0
}

func (s *Script) luaLoad32(L *lua.LState) int {
	c := s.active(L)
	v, err := c.Machine().Memory().Read32(c, checkWord(L, 1))
	if err != nil {
		s.err = err
		L.RaiseError("%s", err.Error())
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (s *Script) luaStore32(L *lua.LState) int {
	c := s.active(L)
	if err := c.Machine().Memory().Write32(c, checkWord(L, 1), checkWord(L, 2)); err != nil {
		s.err = err
		L.RaiseError("%s", err.Error())
	}
	return 0
}
