package uar

import (
	"os"

	"golang.org/x/sys/unix"
)

// Syscalls abstracts the address-space operations the mapper performs,
// so tests can run against a recording fake and simulated devices can
// back the window with anonymous memory.
type Syscalls interface {
	PageSize() int
	// Reserve claims size bytes of address space with no access rights.
	Reserve(size int) (uintptr, error)
	// MapFixed maps size bytes writable at exactly addr, from fd at off.
	MapFixed(addr uintptr, size, fd int, off int64) (uintptr, error)
	Unmap(addr uintptr, size int) error
}

// OSSyscalls performs real mappings. With Anonymous set, fixed mappings
// are backed by anonymous memory instead of the device fd; the demo
// binary uses this with the simulated control.
type OSSyscalls struct {
	Anonymous bool
}

func (OSSyscalls) PageSize() int {
	return os.Getpagesize()
}

func (OSSyscalls) Reserve(size int) (uintptr, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP,
		0, uintptr(size),
		unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
		^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return addr, nil
}

func (s OSSyscalls) MapFixed(addr uintptr, size, fd int, off int64) (uintptr, error) {
	prot := uintptr(unix.PROT_WRITE)
	flags := uintptr(unix.MAP_FIXED | unix.MAP_SHARED)
	mapFd := uintptr(fd)
	if s.Anonymous {
		prot = unix.PROT_READ | unix.PROT_WRITE
		flags = unix.MAP_FIXED | unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
		mapFd = ^uintptr(0)
		off = 0
	}
	got, _, errno := unix.Syscall6(unix.SYS_MMAP,
		addr, uintptr(size), prot, flags, mapFd, uintptr(off))
	if errno != 0 {
		return 0, errno
	}
	return got, nil
}

func (OSSyscalls) Unmap(addr uintptr, size int) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(size), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

var _ Syscalls = OSSyscalls{}
