//go:build !linux

package shm

func MapRegion(opts MapOptions) (*MappedRegion, error) {
	return nil, ErrNotSupported
}

func UnmapRegion(region *MappedRegion) error {
	return ErrNotSupported
}

func OpenAt(dirFd int, name string, create bool) (int, error) {
	return -1, ErrNotSupported
}

func Truncate(fd int, size int64) error {
	return ErrNotSupported
}

func LinkAt(dirFd int, oldName, newName string) error {
	return ErrNotSupported
}

func UnlinkAt(dirFd int, name string) error {
	return ErrNotSupported
}

func ReadAt(fd int, p []byte, off int64) error {
	return ErrNotSupported
}

func WriteAt(fd int, p []byte, off int64) error {
	return ErrNotSupported
}

func Close(fd int) error {
	return ErrNotSupported
}

func DirPath(dirFd int) (string, error) {
	return "", ErrNotSupported
}

func OpenDir(path string) (int, error) {
	return -1, ErrNotSupported
}

func LockShared(fd int) error {
	return ErrNotSupported
}

func TryLockExclusive(fd int) (bool, error) {
	return false, ErrNotSupported
}

func Nlink(fd int) (uint64, error) {
	return 0, ErrNotSupported
}

func IsExist(err error) bool {
	return false
}

func IsNotExist(err error) bool {
	return false
}

func IsTransient(err error) bool {
	return false
}
