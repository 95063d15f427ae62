//go:build linux

package shm

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// MapRegion maps opts.Size bytes of opts.Fd starting at opts.Offset (Linux implementation).
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", opts.Size)
	}
	if opts.Offset%PageSize != 0 {
		return nil, fmt.Errorf("mmap: offset %d not page aligned", opts.Offset)
	}
	addr, err := unix.Mmap(opts.Fd, opts.Offset, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{Addr: addr, Offset: opts.Offset}, nil
}

// UnmapRegion unmaps the region (Linux implementation).
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	return nil
}

// OpenAt opens name relative to the directory dirFd, creating it exclusively
// when create is set.
func OpenAt(dirFd int, name string, create bool) (int, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if create {
		flags |= unix.O_CREAT | unix.O_EXCL
	}
	fd, err := unix.Openat(dirFd, name, flags, 0600)
	if err != nil {
		return -1, fmt.Errorf("openat %s: %w", name, err)
	}
	return fd, nil
}

// Truncate sets the size of the file.
func Truncate(fd int, size int64) error {
	if err := unix.Ftruncate(fd, size); err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}
	return nil
}

// LinkAt creates newName as a hard link to oldName inside dirFd.
func LinkAt(dirFd int, oldName, newName string) error {
	if err := unix.Linkat(dirFd, oldName, dirFd, newName, 0); err != nil {
		return fmt.Errorf("linkat %s: %w", newName, err)
	}
	return nil
}

// UnlinkAt removes name from dirFd.
func UnlinkAt(dirFd int, name string) error {
	if err := unix.Unlinkat(dirFd, name, 0); err != nil {
		return fmt.Errorf("unlinkat %s: %w", name, err)
	}
	return nil
}

// ReadAt reads len(p) bytes at off.
func ReadAt(fd int, p []byte, off int64) error {
	n, err := unix.Pread(fd, p, off)
	if err != nil {
		return fmt.Errorf("pread: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("pread: short read %d of %d", n, len(p))
	}
	return nil
}

// WriteAt writes p at off.
func WriteAt(fd int, p []byte, off int64) error {
	n, err := unix.Pwrite(fd, p, off)
	if err != nil {
		return fmt.Errorf("pwrite: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("pwrite: short write %d of %d", n, len(p))
	}
	return nil
}

func Close(fd int) error {
	return unix.Close(fd)
}

// DirPath resolves the path of an open directory descriptor.
func DirPath(dirFd int) (string, error) {
	return os.Readlink("/proc/self/fd/" + strconv.Itoa(dirFd))
}

// OpenDir opens path as a directory descriptor, creating it if needed.
func OpenDir(path string) (int, error) {
	//ignore mkdir error, open reports it
	_ = os.MkdirAll(path, 0700)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	return fd, nil
}

// LockShared takes a shared flock on fd, waiting out an exclusive holder.
func LockShared(fd int) error {
	for {
		err := unix.Flock(fd, unix.LOCK_SH)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("flock shared: %w", err)
		}
	}
}

// TryLockExclusive upgrades the lock on fd to exclusive without waiting.
// It reports false when another descriptor still holds a lock.
func TryLockExclusive(fd int) (bool, error) {
	err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return false, nil
	}
	return false, fmt.Errorf("flock exclusive: %w", err)
}

// Nlink returns the number of directory entries linking to the file of fd.
func Nlink(fd int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("fstat: %w", err)
	}
	return uint64(st.Nlink), nil
}

func IsExist(err error) bool {
	return errors.Is(err, unix.EEXIST)
}

func IsNotExist(err error) bool {
	return errors.Is(err, unix.ENOENT)
}

// IsTransient reports errors worth retrying when opening a device.
func IsTransient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY)
}
