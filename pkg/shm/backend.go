package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/shirou/gopsutil/v3/disk"

	internalshm "github.com/srediag/plugin-bufmgr/internal/shm"
	"github.com/srediag/plugin-bufmgr/pkg/format"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

// ErrNoSpace is returned when the store filesystem cannot hold a new surface.
var ErrNoSpace = errors.New("shm: not enough space left")

const (
	// dataOffset is where pixel data starts in a surface file.
	dataOffset = internalshm.PageSize

	maxCreateAttempts = 8
)

// backendSeq hands every Backend of the process its own file token, so
// backends sharing a directory never pick the same surface file name.
var backendSeq atomic.Uint32

type entry struct {
	fd     int
	info   surface.Info
	file   string
	name   uint32
	region *internalshm.MappedRegion

	mu       sync.Mutex
	access   surface.AccessFlags
	inAccess bool
}

// Backend is a surface.Backend over one store directory.
type Backend struct {
	dirFd int
	dir   string
	pid   int

	handles cmap.ConcurrentMap[uint32, *entry]

	// mu guards handle allocation and name search.
	mu       sync.Mutex
	free     *queuepkg.Queue
	next     uint32
	nameHint uint32
	token    uint32

	closed atomic.Bool
}

var _ surface.Backend = (*Backend)(nil)

func shardUint32(key uint32) uint32 {
	return key
}

// Open returns a Backend on the store directory dirFd. The descriptor stays
// owned by the caller.
func Open(dirFd int) (surface.Backend, error) {
	return NewBackend(dirFd)
}

// NewBackend is Open returning the concrete type.
func NewBackend(dirFd int) (*Backend, error) {
	dir, err := internalshm.DirPath(dirFd)
	if err != nil {
		return nil, fmt.Errorf("resolve store directory: %w", err)
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat store directory: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("store %s is not a directory", dir)
	}
	return &Backend{
		dirFd:    dirFd,
		dir:      dir,
		pid:      os.Getpid(),
		handles:  cmap.NewWithCustomShardingFunction[uint32, *entry](shardUint32),
		free:     queuepkg.New(64),
		nameHint: 1,
		token:    backendSeq.Add(1),
	}, nil
}

// OpenDir opens (creating if needed) a store directory and returns its descriptor.
func OpenDir(path string) (int, error) {
	return internalshm.OpenDir(path)
}

// Dir returns the store directory path.
func (b *Backend) Dir() string {
	return b.dir
}

// AccessState returns the access flags last recorded for handle and whether
// an access window is open.
func (b *Backend) AccessState(handle uint32) (surface.AccessFlags, bool) {
	e, ok := b.handles.Get(handle)
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.access, e.inAccess
}

func (b *Backend) allocHandle() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.free.Empty() {
		if items, err := b.free.Get(1); err == nil && len(items) == 1 {
			return items[0].(uint32)
		}
	}
	b.next++
	return b.next
}

func (b *Backend) recycleHandle(h uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.free.Put(h)
}

func (b *Backend) fileToken(renew bool) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if renew {
		b.token = backendSeq.Add(1)
	}
	return b.token
}

func (b *Backend) lookup(handle uint32) (*entry, error) {
	if b.closed.Load() {
		return nil, surface.ErrClosed
	}
	e, ok := b.handles.Get(handle)
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", handle, surface.ErrNotFound)
	}
	return e, nil
}

// canCreate reports whether the store filesystem has room for size bytes.
// Filesystems gopsutil cannot inspect are assumed to have room.
func (b *Backend) canCreate(size uint64) bool {
	stat, err := disk.Usage(b.dir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}

func (b *Backend) CreateSurface(width, height, stride uint32, f format.Format, scanout bool) (surface.Info, error) {
	if b.closed.Load() {
		return surface.Info{}, surface.ErrClosed
	}
	if !format.IsSupported(f) {
		return surface.Info{}, fmt.Errorf("format %s: %w", f, surface.ErrUnsupported)
	}
	size := uint64(stride) * uint64(height)
	if width == 0 || size == 0 || stride < width {
		return surface.Info{}, fmt.Errorf("geometry %dx%d stride %d: %w", width, height, stride, surface.ErrUnsupported)
	}
	if !b.canCreate(size + dataOffset) {
		return surface.Info{}, fmt.Errorf("%w: %s, size %d", ErrNoSpace, b.dir, size)
	}

	handle := b.allocHandle()
	var (
		fd    int
		file  string
		token uint32
		err   error
	)
	for attempt := 0; ; attempt++ {
		token = b.fileToken(attempt > 0)
		file = surfaceFile(uint32(b.pid), token, handle)
		fd, err = internalshm.OpenAt(b.dirFd, file, true)
		if err == nil {
			break
		}
		if !internalshm.IsExist(err) || attempt == maxCreateAttempts-1 {
			b.recycleHandle(handle)
			return surface.Info{}, err
		}
	}
	fail := func(err error) (surface.Info, error) {
		_ = internalshm.Close(fd)
		_ = internalshm.UnlinkAt(b.dirFd, file)
		b.recycleHandle(handle)
		return surface.Info{}, err
	}
	if err := internalshm.LockShared(fd); err != nil {
		return fail(err)
	}
	if err := internalshm.Truncate(fd, int64(dataOffset+size)); err != nil {
		return fail(err)
	}
	h := header{
		width:  width,
		height: height,
		stride: stride,
		format: f,
		pid:    uint32(b.pid),
		token:  token,
		handle: handle,
		size:   size,
	}
	if scanout {
		h.flags |= flagScanout
	}
	if err := internalshm.WriteAt(fd, h.marshal(), 0); err != nil {
		return fail(err)
	}

	info := surface.Info{Handle: handle, Width: width, Height: height, Stride: stride, Format: f, Size: size}
	b.handles.Set(handle, &entry{fd: fd, info: info, file: file})
	return info, nil
}

func nameFile(name uint32) string {
	return fmt.Sprintf("name-%d", name)
}

func (b *Backend) OpenSurface(name uint32) (surface.Info, error) {
	if b.closed.Load() {
		return surface.Info{}, surface.ErrClosed
	}
	fd, err := internalshm.OpenAt(b.dirFd, nameFile(name), false)
	if err != nil {
		if internalshm.IsNotExist(err) {
			return surface.Info{}, fmt.Errorf("name %d: %w", name, surface.ErrNotFound)
		}
		return surface.Info{}, err
	}
	// Every holder keeps a shared lock; the last one to let go removes the
	// name. A file already unlinked by that holder is gone for good.
	if err := internalshm.LockShared(fd); err != nil {
		_ = internalshm.Close(fd)
		return surface.Info{}, err
	}
	if n, err := internalshm.Nlink(fd); err != nil || n == 0 {
		_ = internalshm.Close(fd)
		if err != nil {
			return surface.Info{}, err
		}
		return surface.Info{}, fmt.Errorf("name %d: %w", name, surface.ErrNotFound)
	}
	buf := make([]byte, headerLen)
	var h header
	if err := internalshm.ReadAt(fd, buf, 0); err != nil {
		_ = internalshm.Close(fd)
		return surface.Info{}, err
	}
	if err := h.unmarshal(buf); err != nil {
		_ = internalshm.Close(fd)
		return surface.Info{}, fmt.Errorf("name %d: %w", name, err)
	}

	handle := b.allocHandle()
	info := surface.Info{Handle: handle, Width: h.width, Height: h.height, Stride: h.stride, Format: h.format, Size: h.size}
	b.handles.Set(handle, &entry{fd: fd, info: info, file: h.file(), name: name})
	return info, nil
}

func (b *Backend) Flink(handle uint32) (uint32, error) {
	e, err := b.lookup(handle)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.name != 0 {
		return e.name, nil
	}
	for n := b.nameHint; n != 0; n++ {
		err := internalshm.LinkAt(b.dirFd, e.file, nameFile(n))
		if err == nil {
			e.name = n
			b.nameHint = n + 1
			return n, nil
		}
		if !internalshm.IsExist(err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("flink handle %d: name space exhausted", handle)
}

func (b *Backend) Mmap(handle uint32) ([]byte, error) {
	e, err := b.lookup(handle)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.region != nil {
		return e.region.Addr, nil
	}
	region, err := internalshm.MapRegion(internalshm.MapOptions{
		Fd:     e.fd,
		Offset: dataOffset,
		Size:   int(e.info.Size),
	})
	if err != nil {
		return nil, err
	}
	e.region = region
	return region.Addr, nil
}

func (b *Backend) Munmap(handle uint32, _ []byte) error {
	e, err := b.lookup(handle)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = internalshm.UnmapRegion(e.region)
	e.region = nil
	return err
}

func (b *Backend) StartAccess(handle uint32, saf surface.AccessFlags) error {
	e, err := b.lookup(handle)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.access = saf
	e.inAccess = true
	e.mu.Unlock()
	return nil
}

func (b *Backend) EndAccess(handle uint32, _ bool) error {
	e, err := b.lookup(handle)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.inAccess = false
	e.mu.Unlock()
	return nil
}

func (b *Backend) CloseSurface(handle uint32) error {
	e, err := b.lookup(handle)
	if err != nil {
		return err
	}
	b.handles.Remove(handle)
	err = b.release(e)
	b.recycleHandle(handle)
	return err
}

// release unmaps and closes e. The holder that closes last, in any process,
// removes the name and the surface file; until then the name keeps resolving
// to this surface and cannot be handed out again.
func (b *Backend) release(e *entry) error {
	var errs []error
	e.mu.Lock()
	if e.region != nil {
		errs = append(errs, internalshm.UnmapRegion(e.region))
		e.region = nil
	}
	e.mu.Unlock()

	last, err := internalshm.TryLockExclusive(e.fd)
	if err == nil && !last {
		// A failed upgrade drops the shared lock, so two holders closing at
		// once both fail the first try. The second try only sees the others.
		last, err = internalshm.TryLockExclusive(e.fd)
	}
	if err != nil {
		errs = append(errs, err)
	}
	if last {
		if e.name != 0 {
			errs = append(errs, b.unlink(nameFile(e.name)))
		}
		errs = append(errs, b.unlink(e.file))
	}
	if err := internalshm.Close(e.fd); err != nil {
		errs = append(errs, fmt.Errorf("close fd %d: %w", e.fd, err))
	}
	return errors.Join(errs...)
}

func (b *Backend) unlink(name string) error {
	if err := internalshm.UnlinkAt(b.dirFd, name); err != nil && !internalshm.IsNotExist(err) {
		return err
	}
	return nil
}

// Close releases every surface still open on the backend. The directory
// descriptor is left open.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return surface.ErrClosed
	}
	var errs []error
	for item := range b.handles.IterBuffered() {
		b.handles.Remove(item.Key)
		errs = append(errs, b.release(item.Val))
	}
	b.mu.Lock()
	b.free.Dispose()
	b.mu.Unlock()
	return errors.Join(errs...)
}
