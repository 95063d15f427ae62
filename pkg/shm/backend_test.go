//go:build linux

package shm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	internalshm "github.com/srediag/plugin-bufmgr/internal/shm"
	"github.com/srediag/plugin-bufmgr/pkg/format"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

type BackendTestSuite struct {
	suite.Suite
	dir   string
	dirFd int
	b     *Backend
}

func (s *BackendTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	fd, err := OpenDir(s.dir)
	s.Require().Nil(err)
	s.dirFd = fd
	s.b, err = NewBackend(fd)
	s.Require().Nil(err)
}

func (s *BackendTestSuite) TearDownTest() {
	_ = s.b.Close()
	_ = internalshm.Close(s.dirFd)
}

func (s *BackendTestSuite) TestCreateMapClose() {
	info, err := s.b.CreateSurface(2048, 2, 8192, format.ARGB8888, true)
	s.Require().Nil(err)
	s.Equal(uint32(1), info.Handle)
	s.Equal(uint64(16384), info.Size)

	file := filepath.Join(s.dir, surfaceFile(uint32(os.Getpid()), s.b.token, 1))
	st, err := os.Stat(file)
	s.Require().Nil(err)
	s.Equal(int64(dataOffset+16384), st.Size())

	mem, err := s.b.Mmap(info.Handle)
	s.Require().Nil(err)
	s.Len(mem, 16384)
	mem[0], mem[16383] = 0xaa, 0x55

	again, err := s.b.Mmap(info.Handle)
	s.Require().Nil(err)
	s.Equal(&mem[0], &again[0])

	s.Nil(s.b.Munmap(info.Handle, mem))
	s.Nil(s.b.CloseSurface(info.Handle))
	_, err = os.Stat(file)
	s.True(os.IsNotExist(err))

	// released handles are recycled
	info2, err := s.b.CreateSurface(16, 16, 64, format.XRGB8888, false)
	s.Require().Nil(err)
	s.Equal(uint32(1), info2.Handle)
	s.Nil(s.b.CloseSurface(info2.Handle))
}

func (s *BackendTestSuite) TestCreateRejectsBadGeometry() {
	_, err := s.b.CreateSurface(16, 0, 64, format.ARGB8888, false)
	s.True(errors.Is(err, surface.ErrUnsupported))
	_, err = s.b.CreateSurface(16, 16, 8, format.ARGB8888, false)
	s.True(errors.Is(err, surface.ErrUnsupported))
	_, err = s.b.CreateSurface(16, 16, 64, format.Format(7), false)
	s.True(errors.Is(err, surface.ErrUnsupported))
}

func (s *BackendTestSuite) TestFlinkAndOpenShareMemory() {
	info, err := s.b.CreateSurface(64, 4, 256, format.ARGB8888, false)
	s.Require().Nil(err)
	name, err := s.b.Flink(info.Handle)
	s.Require().Nil(err)
	s.Equal(uint32(1), name)
	again, err := s.b.Flink(info.Handle)
	s.Require().Nil(err)
	s.Equal(name, again)

	// a second backend on the same directory plays the importing process
	other, err := NewBackend(s.dirFd)
	s.Require().Nil(err)
	defer other.Close()

	imported, err := other.OpenSurface(name)
	s.Require().Nil(err)
	s.Equal(info.Width, imported.Width)
	s.Equal(info.Height, imported.Height)
	s.Equal(info.Stride, imported.Stride)
	s.Equal(info.Format, imported.Format)
	s.Equal(info.Size, imported.Size)

	src, err := s.b.Mmap(info.Handle)
	s.Require().Nil(err)
	dst, err := other.Mmap(imported.Handle)
	s.Require().Nil(err)
	copy(src, "shared")
	s.Equal("shared", string(dst[:6]))

	// the importer re-exports under the same name
	n, err := other.Flink(imported.Handle)
	s.Require().Nil(err)
	s.Equal(name, n)

	s.Nil(s.b.CloseSurface(info.Handle))
	s.Equal("shared", string(dst[:6]))
	s.Nil(other.CloseSurface(imported.Handle))

	// the last holder removed the name and the file
	_, err = other.OpenSurface(name)
	s.True(errors.Is(err, surface.ErrNotFound))
	entries, err := os.ReadDir(s.dir)
	s.Require().Nil(err)
	s.Empty(entries)
}

func (s *BackendTestSuite) TestNameOutlivesCreator() {
	info, err := s.b.CreateSurface(64, 4, 256, format.ARGB8888, false)
	s.Require().Nil(err)
	name, err := s.b.Flink(info.Handle)
	s.Require().Nil(err)

	holder, err := NewBackend(s.dirFd)
	s.Require().Nil(err)
	defer holder.Close()
	held, err := holder.OpenSurface(name)
	s.Require().Nil(err)

	s.Nil(s.b.CloseSurface(info.Handle))

	// a third backend still reaches the surface through the name
	third, err := NewBackend(s.dirFd)
	s.Require().Nil(err)
	defer third.Close()
	late, err := third.OpenSurface(name)
	s.Require().Nil(err)
	s.Equal(info.Size, late.Size)

	// the name is not handed to another surface while it is held
	other, err := s.b.CreateSurface(128, 4, 512, format.ARGB8888, false)
	s.Require().Nil(err)
	otherName, err := s.b.Flink(other.Handle)
	s.Require().Nil(err)
	s.NotEqual(name, otherName)
	reopened, err := third.OpenSurface(otherName)
	s.Require().Nil(err)
	s.Equal(other.Size, reopened.Size)

	s.Nil(third.CloseSurface(reopened.Handle))
	s.Nil(s.b.CloseSurface(other.Handle))
	s.Nil(third.CloseSurface(late.Handle))
	again, err := third.OpenSurface(name)
	s.Require().Nil(err)
	s.Nil(third.CloseSurface(again.Handle))
	s.Nil(holder.CloseSurface(held.Handle))

	_, err = third.OpenSurface(name)
	s.True(errors.Is(err, surface.ErrNotFound))
	entries, err := os.ReadDir(s.dir)
	s.Require().Nil(err)
	s.Empty(entries)
}

func (s *BackendTestSuite) TestBackendsShareDirectory() {
	other, err := NewBackend(s.dirFd)
	s.Require().Nil(err)
	defer other.Close()
	s.NotEqual(s.b.token, other.token)

	a, err := s.b.CreateSurface(16, 16, 64, format.ARGB8888, false)
	s.Require().Nil(err)
	b, err := other.CreateSurface(16, 16, 64, format.ARGB8888, false)
	s.Require().Nil(err)
	s.Equal(a.Handle, b.Handle)

	s.Nil(s.b.CloseSurface(a.Handle))
	s.Nil(other.CloseSurface(b.Handle))
}

func (s *BackendTestSuite) TestCreateSkipsLeftoverFile() {
	leftover := surfaceFile(uint32(os.Getpid()), s.b.token, 1)
	s.Require().Nil(os.WriteFile(filepath.Join(s.dir, leftover), nil, 0600))

	info, err := s.b.CreateSurface(16, 16, 64, format.ARGB8888, false)
	s.Require().Nil(err)
	s.Equal(uint32(1), info.Handle)
	s.Nil(s.b.CloseSurface(info.Handle))
	s.Nil(os.Remove(filepath.Join(s.dir, leftover)))
}

func (s *BackendTestSuite) TestNamesSkipTakenSlots() {
	s.Require().Nil(os.WriteFile(filepath.Join(s.dir, "name-1"), make([]byte, 64), 0600))
	info, err := s.b.CreateSurface(16, 16, 64, format.ARGB8888, false)
	s.Require().Nil(err)
	name, err := s.b.Flink(info.Handle)
	s.Require().Nil(err)
	s.Equal(uint32(2), name)

	// a file that is not a surface is refused
	_, err = s.b.OpenSurface(1)
	s.True(errors.Is(err, errBadHeader))
	s.Nil(s.b.CloseSurface(info.Handle))
}

func (s *BackendTestSuite) TestOpenUnknownName() {
	_, err := s.b.OpenSurface(99)
	s.True(errors.Is(err, surface.ErrNotFound))
}

func (s *BackendTestSuite) TestAccessBookkeeping() {
	info, err := s.b.CreateSurface(16, 16, 64, format.ARGB8888, false)
	s.Require().Nil(err)

	s.Nil(s.b.StartAccess(info.Handle, surface.SAFRead|surface.SAFWrite))
	saf, open := s.b.AccessState(info.Handle)
	s.Equal(surface.SAFRead|surface.SAFWrite, saf)
	s.True(open)

	s.Nil(s.b.EndAccess(info.Handle, true))
	_, open = s.b.AccessState(info.Handle)
	s.False(open)

	s.NotNil(s.b.StartAccess(info.Handle+100, surface.SAFRead))
	s.Nil(s.b.CloseSurface(info.Handle))
}

func (s *BackendTestSuite) TestCloseReleasesLeftovers() {
	_, err := s.b.CreateSurface(16, 16, 64, format.ARGB8888, false)
	s.Require().Nil(err)
	s.Nil(s.b.Close())

	entries, err := os.ReadDir(s.dir)
	s.Require().Nil(err)
	s.Empty(entries)

	_, err = s.b.CreateSurface(16, 16, 64, format.ARGB8888, false)
	s.True(errors.Is(err, surface.ErrClosed))
	s.True(errors.Is(s.b.Close(), surface.ErrClosed))
}

func (s *BackendTestSuite) TestStoreRoundTrip() {
	st := surface.NewStore(s.b)
	ref, err := st.Create(32, 2, 128, format.XRGB8888, false)
	s.Require().Nil(err)
	name, err := ref.Surface().Name()
	s.Require().Nil(err)

	imported, err := st.Open(name)
	s.Require().Nil(err)
	s.Same(ref.Surface(), imported.Surface())

	s.Nil(ref.Release())
	s.Nil(imported.Release())
	s.Equal(0, st.Live())
}

func (s *BackendTestSuite) TestStoreNamesStayUnique() {
	other, err := NewBackend(s.dirFd)
	s.Require().Nil(err)
	stA := surface.NewStore(s.b)
	stB := surface.NewStore(other)

	ref, err := stA.Create(2048, 1, 8192, format.ARGB8888, false)
	s.Require().Nil(err)
	name, err := ref.Surface().Name()
	s.Require().Nil(err)
	imported, err := stB.Open(name)
	s.Require().Nil(err)
	s.Nil(ref.Release())

	fresh, err := stB.Create(2048, 2, 8192, format.ARGB8888, false)
	s.Require().Nil(err)
	freshName, err := fresh.Surface().Name()
	s.Require().Nil(err)
	s.NotEqual(name, freshName)

	got, err := stB.Open(freshName)
	s.Require().Nil(err)
	s.Same(fresh.Surface(), got.Surface())
	s.Equal(uint64(16384), got.Surface().Size)

	s.Nil(got.Release())
	s.Nil(fresh.Release())
	s.Nil(imported.Release())
	s.Nil(stB.Close())
}

func TestBackendTestSuite(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}
