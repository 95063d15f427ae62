// Package shm contains platform-specific helpers for the file-backed surface store.
package shm

import "errors"

// ErrNotSupported is returned on platforms without openat/mmap support.
var ErrNotSupported = errors.New("shm: not supported on this platform")

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr   []byte
	Offset int64
}

// MapOptions defines options for mapping a shared file.
type MapOptions struct {
	// Fd is the open file to map.
	Fd int
	// Offset is the page-aligned file offset of the region.
	Offset int64
	Size   int
}

// PageSize is the alignment of mapped regions.
const PageSize = 4096

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
