package emu

import (
	"errors"
	"os"
	"sync"
	"time"
)

// ErrBadFD is returned for descriptors that are not open.
var ErrBadFD = errors.New("bad file descriptor")

// Standard stream descriptors.
const (
	FDStdin  = 0
	FDStdout = 1
	FDStderr = 2
)

// FileDescriptor represents an open file descriptor.
type FileDescriptor struct {
	HostFile *os.File // nil for the standard streams
	Path     string
	Flags    int
}

// FDTable maps program file descriptors to host files. Descriptors 0, 1
// and 2 are the standard streams and are never backed by a host file.
type FDTable struct {
	mu     sync.Mutex
	fds    map[uint32]*FileDescriptor
	nextFD uint32
}

// NewFDTable creates a table with the standard streams open.
func NewFDTable() *FDTable {
	return &FDTable{
		fds: map[uint32]*FileDescriptor{
			FDStdin:  {Path: "stdin"},
			FDStdout: {Path: "stdout"},
			FDStderr: {Path: "stderr"},
		},
		nextFD: 3,
	}
}

// Open opens a host file and returns a new descriptor.
func (t *FDTable) Open(path string, flags int, mode os.FileMode) (uint32, error) {
	hostFile, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fd := t.nextFD
	t.nextFD++
	t.fds[fd] = &FileDescriptor{HostFile: hostFile, Path: path, Flags: flags}
	return fd, nil
}

// Close closes a descriptor. Closing a standard stream only forgets it.
func (t *FDTable) Close(fd uint32) error {
	t.mu.Lock()
	entry, ok := t.fds[fd]
	delete(t.fds, fd)
	t.mu.Unlock()

	if !ok {
		return ErrBadFD
	}
	if entry.HostFile != nil {
		return entry.HostFile.Close()
	}
	return nil
}

// CloseAll closes every host file in the table.
func (t *FDTable) CloseAll() error {
	t.mu.Lock()
	fds := t.fds
	t.fds = map[uint32]*FileDescriptor{}
	t.mu.Unlock()

	var errs []error
	for _, entry := range fds {
		if entry.HostFile != nil {
			errs = append(errs, entry.HostFile.Close())
		}
	}
	return errors.Join(errs...)
}

// Get returns the entry of an open descriptor.
func (t *FDTable) Get(fd uint32) (*FileDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.fds[fd]
	return entry, ok
}

// IsOpen reports whether fd is open.
func (t *FDTable) IsOpen(fd uint32) bool {
	_, ok := t.Get(fd)
	return ok
}

func (t *FDTable) hostFile(fd uint32) (*os.File, error) {
	entry, ok := t.Get(fd)
	if !ok || entry.HostFile == nil {
		return nil, ErrBadFD
	}
	return entry.HostFile, nil
}

// Read reads from a host-file descriptor.
func (t *FDTable) Read(fd uint32, buf []byte) (int, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	return f.Read(buf)
}

// Write writes to a host-file descriptor.
func (t *FDTable) Write(fd uint32, buf []byte) (int, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	return f.Write(buf)
}

// Seek sets the file position of a host-file descriptor.
func (t *FDTable) Seek(fd uint32, offset int64, whence int) (int64, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	return f.Seek(offset, whence)
}

// Stat returns file information. The standard streams report a character
// device.
func (t *FDTable) Stat(fd uint32) (os.FileInfo, error) {
	entry, ok := t.Get(fd)
	switch {
	case !ok:
		return nil, ErrBadFD
	case entry.HostFile == nil:
		return stdioFileInfo{name: entry.Path}, nil
	}
	return entry.HostFile.Stat()
}

// stdioFileInfo is a stub FileInfo for the standard streams.
type stdioFileInfo struct {
	name string
}

func (f stdioFileInfo) Name() string       { return f.name }
func (f stdioFileInfo) Size() int64        { return 0 }
func (f stdioFileInfo) Mode() os.FileMode  { return os.ModeDevice | os.ModeCharDevice | 0o666 }
func (f stdioFileInfo) ModTime() time.Time { return time.Time{} }
func (f stdioFileInfo) IsDir() bool        { return false }
func (f stdioFileInfo) Sys() any           { return nil }
