package emu

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"
)

// newlib system call numbers.
const (
	SyscallOpen         = 2
	SyscallClose        = 3
	SyscallRead         = 4
	SyscallWrite        = 5
	SyscallLseek        = 6
	SyscallUnlink       = 7
	SyscallFstat        = 10
	SyscallStat         = 15
	SyscallGettimeofday = 19
	SyscallLink         = 21
)

// newlib open flags.
const (
	openWriteOnly = 0x1
	openReadWrite = 0x2
	openAppend    = 0x8
	openCreate    = 0x200
	openTruncate  = 0x400
	openExclusive = 0x800
)

// MaxPath is the longest path, including the terminator, a program may
// pass.
const MaxPath = 4096

// statSize is the size of newlib's struct stat.
const statSize = 56

// errNameTooLong is returned when a path has no terminator within MaxPath.
var errNameTooLong = errors.New("path too long")

// UnixKernelOption configures a UnixKernel.
type UnixKernelOption func(*UnixKernel)

// WithStdin sets the reader behind descriptor 0.
func WithStdin(r io.Reader) UnixKernelOption {
	return func(k *UnixKernel) { k.stdin = r }
}

// WithStdout sets the writer behind descriptor 1.
func WithStdout(w io.Writer) UnixKernelOption {
	return func(k *UnixKernel) { k.stdout = w }
}

// WithStderr sets the writer behind descriptor 2.
func WithStderr(w io.Writer) UnixKernelOption {
	return func(k *UnixKernel) { k.stderr = w }
}

// WithClock sets the time source for gettimeofday.
func WithClock(now func() time.Time) UnixKernelOption {
	return func(k *UnixKernel) { k.now = now }
}

// UnixKernel forwards newlib system calls to the host.
type UnixKernel struct {
	fds    *FDTable
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

// NewUnixKernel creates a kernel bound to the process's standard streams.
func NewUnixKernel(opts ...UnixKernelOption) *UnixKernel {
	k := &UnixKernel{
		fds:    NewFDTable(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// FDs returns the kernel's descriptor table.
func (k *UnixKernel) FDs() *FDTable { return k.fds }

// Capabilities returns CapAll.
func (k *UnixKernel) Capabilities() Capabilities { return CapAll }

// Breakpoint logs the breakpoint. The core stays halted until resumed.
func (k *UnixKernel) Breakpoint(c *Core) {
	c.machine.logger.Verbose(c.id, "breakpoint hit", "pc", c.PC())
}

// Close closes every file the program left open.
func (k *UnixKernel) Close() error {
	return k.fds.CloseAll()
}

// Syscall executes the call in regs.
func (k *UnixKernel) Syscall(c *Core, regs *SyscallRegs) {
	c.machine.logger.Debug(c.id, "syscall", "number", regs.Number())

	switch regs.Number() {
	case SyscallOpen:
		k.open(c, regs)
	case SyscallClose:
		k.close(regs)
	case SyscallRead:
		k.read(c, regs)
	case SyscallWrite:
		k.write(c, regs)
	case SyscallLseek:
		k.lseek(regs)
	case SyscallUnlink:
		k.unlink(c, regs)
	case SyscallFstat:
		k.fstat(c, regs)
	case SyscallStat:
		k.stat(c, regs)
	case SyscallGettimeofday:
		k.gettimeofday(c, regs)
	case SyscallLink:
		k.link(c, regs)
	default:
		regs.fail(ENOSYS)
	}
}

// errnoFor maps a host error to an error number.
func errnoFor(err error) uint32 {
	var mf *MemoryFault
	var mis *MisalignedError
	switch {
	case errors.As(err, &mf), errors.As(err, &mis):
		return EFAULT
	case errors.Is(err, errNameTooLong):
		return ENAMETOOLONG
	case errors.Is(err, ErrBadFD):
		return EBADF
	case errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, fs.ErrInvalid):
		return EINVAL
	}
	return EIO
}

// readPath reads a NUL-terminated path from the program's memory.
func readPath(c *Core, addr uint32) (string, error) {
	if addr == 0 {
		return "", fault(addr, false, "null path")
	}

	mem := c.machine.memory
	buf := make([]byte, 0, 64)
	for i := uint32(0); i < MaxPath; i++ {
		b, err := mem.Read8(c, addr+i)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", errNameTooLong
}

func hostOpenFlags(flags uint32) int {
	var host int
	switch flags & 0x3 {
	case openWriteOnly:
		host = os.O_WRONLY
	case openReadWrite:
		host = os.O_RDWR
	default:
		host = os.O_RDONLY
	}

	for _, f := range []struct {
		newlib uint32
		host   int
	}{
		{openAppend, os.O_APPEND},
		{openCreate, os.O_CREATE},
		{openTruncate, os.O_TRUNC},
		{openExclusive, os.O_EXCL},
	} {
		if flags&f.newlib != 0 {
			host |= f.host
		}
	}
	return host
}

func (k *UnixKernel) open(c *Core, regs *SyscallRegs) {
	path, err := readPath(c, regs.R0)
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}

	fd, err := k.fds.Open(path, hostOpenFlags(regs.R1), os.FileMode(regs.R2&0o777))
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	regs.ok(fd)
}

func (k *UnixKernel) close(regs *SyscallRegs) {
	if err := k.fds.Close(regs.R0); err != nil {
		regs.fail(errnoFor(err))
		return
	}
	regs.ok(0)
}

func (k *UnixKernel) read(c *Core, regs *SyscallRegs) {
	fd, addr, n := regs.R0, regs.R1, regs.R2
	if !k.fds.IsOpen(fd) {
		regs.fail(EBADF)
		return
	}

	buf := make([]byte, n)
	var got int
	var err error
	switch fd {
	case FDStdin:
		got, err = k.stdin.Read(buf)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FDStdout, FDStderr:
		err = ErrBadFD
	default:
		got, err = k.fds.Read(fd, buf)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}

	if err := c.machine.memory.WriteBytes(c, addr, buf[:got]); err != nil {
		regs.fail(EFAULT)
		return
	}
	regs.ok(uint32(got))
}

func (k *UnixKernel) write(c *Core, regs *SyscallRegs) {
	fd, addr, n := regs.R0, regs.R1, regs.R2
	if !k.fds.IsOpen(fd) {
		regs.fail(EBADF)
		return
	}

	buf, err := c.machine.memory.ReadBytes(c, addr, int(n))
	if err != nil {
		regs.fail(EFAULT)
		return
	}

	var wrote int
	switch fd {
	case FDStdin:
		err = ErrBadFD
	case FDStdout:
		wrote, err = k.stdout.Write(buf)
	case FDStderr:
		wrote, err = k.stderr.Write(buf)
	default:
		wrote, err = k.fds.Write(fd, buf)
	}
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	regs.ok(uint32(wrote))
}

func (k *UnixKernel) lseek(regs *SyscallRegs) {
	pos, err := k.fds.Seek(regs.R0, int64(int32(regs.R1)), int(regs.R2))
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	regs.ok(uint32(pos))
}

func (k *UnixKernel) unlink(c *Core, regs *SyscallRegs) {
	path, err := readPath(c, regs.R0)
	if err == nil {
		err = os.Remove(path)
	}
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	regs.ok(0)
}

func (k *UnixKernel) link(c *Core, regs *SyscallRegs) {
	oldPath, err := readPath(c, regs.R0)
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	newPath, err := readPath(c, regs.R1)
	if err == nil {
		err = os.Link(oldPath, newPath)
	}
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	regs.ok(0)
}

func (k *UnixKernel) fstat(c *Core, regs *SyscallRegs) {
	info, err := k.fds.Stat(regs.R0)
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	k.putStat(c, regs, regs.R1, info)
}

func (k *UnixKernel) stat(c *Core, regs *SyscallRegs) {
	path, err := readPath(c, regs.R0)
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		regs.fail(errnoFor(err))
		return
	}
	k.putStat(c, regs, regs.R1, info)
}

func (k *UnixKernel) putStat(c *Core, regs *SyscallRegs, addr uint32, info fs.FileInfo) {
	if err := c.machine.memory.WriteBytes(c, addr, encodeStat(info)); err != nil {
		regs.fail(EFAULT)
		return
	}
	regs.ok(0)
}

// Unix file type bits.
const (
	modeRegular = 0o100000
	modeDir     = 0o040000
	modeChar    = 0o020000
)

// encodeStat lays out info as newlib's little-endian struct stat.
func encodeStat(info fs.FileInfo) []byte {
	buf := make([]byte, statSize)
	le := binary.LittleEndian

	mode := uint32(info.Mode().Perm())
	switch {
	case info.IsDir():
		mode |= modeDir
	case info.Mode()&fs.ModeCharDevice != 0:
		mode |= modeChar
	default:
		mode |= modeRegular
	}

	mtime := uint32(info.ModTime().Unix())
	if info.ModTime().IsZero() {
		mtime = 0
	}

	le.PutUint16(buf[8:], 1)
	le.PutUint32(buf[4:], mode)
	le.PutUint32(buf[16:], uint32(info.Size()))
	le.PutUint32(buf[20:], mtime)
	le.PutUint32(buf[28:], mtime)
	le.PutUint32(buf[36:], mtime)
	le.PutUint32(buf[44:], 4096)
	le.PutUint32(buf[48:], uint32((info.Size()+511)/512))
	return buf
}

func (k *UnixKernel) gettimeofday(c *Core, regs *SyscallRegs) {
	if regs.R0 != 0 {
		now := k.now()
		var tv [8]byte
		binary.LittleEndian.PutUint32(tv[0:], uint32(now.Unix()))
		binary.LittleEndian.PutUint32(tv[4:], uint32(now.Nanosecond()/1000))
		if err := c.machine.memory.WriteBytes(c, regs.R0, tv[:]); err != nil {
			regs.fail(EFAULT)
			return
		}
	}
	regs.ok(0)
}
