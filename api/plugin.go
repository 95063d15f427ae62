// Package api defines the values exchanged between a host buffer manager and
// a buffer-object backend.
package api

import "unsafe"

// DeviceClass names the consumer a buffer handle is requested for.
type DeviceClass int

const (
	DeviceDefault DeviceClass = iota
	Device2D
	Device3D
	DeviceCPU
	DeviceMM
)

func (d DeviceClass) String() string {
	switch d {
	case DeviceDefault:
		return "default"
	case Device2D:
		return "2d"
	case Device3D:
		return "3d"
	case DeviceCPU:
		return "cpu"
	case DeviceMM:
		return "mm"
	}
	return "unknown"
}

// AccessOption is the read/write intent passed to Map.
type AccessOption int

const (
	OptionRead AccessOption = 1 << iota
	OptionWrite

	OptionReadWrite = OptionRead | OptionWrite
)

// AllocFlags are the memory hints passed to Alloc.
type AllocFlags int

const (
	AllocDefault     AllocFlags = 0
	AllocScanout     AllocFlags = 1 << 0
	AllocNonCachable AllocFlags = 1 << 1
	AllocWC          AllocFlags = 1 << 2
)

// Capability flags advertised by a backend.
type Capability int

const (
	CapCacheCtrl Capability = 1 << 0
	CapLockCtrl  Capability = 1 << 1
)

// Handle is what a backend hands out for one device class: a kernel handle
// for Default and 2D, a CPU mapping for CPU. The zero Handle means "none".
type Handle struct {
	U32 uint32
	Ptr []byte
}

// IsNull reports whether h carries neither a kernel handle nor a mapping.
func (h Handle) IsNull() bool {
	return h.U32 == 0 && h.Ptr == nil
}

// Addr returns the address of the first mapped byte, or 0.
func (h Handle) Addr() uintptr {
	if len(h.Ptr) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&h.Ptr[0]))
}
