package shm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/srediag/plugin-bufmgr/pkg/format"
)

const (
	headerMagic   = 0x46534d42 // "BMSF"
	headerVersion = 1
	headerLen     = 48

	flagScanout = 1 << 0
)

var errBadHeader = errors.New("shm: bad surface header")

// header is the first page of a surface file:
// magic 4 | version 4 | width 4 | height 4 | stride 4 | format 4 | flags 4 | pid 4 |
// token 4 | handle 4 | size 8
//
// pid, token and handle name the surface file, so whichever holder closes
// last can remove it.
type header struct {
	width  uint32
	height uint32
	stride uint32
	format format.Format
	flags  uint32
	pid    uint32
	token  uint32
	handle uint32
	size   uint64
}

func (h *header) marshal() []byte {
	b := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(b[0:], headerMagic)
	binary.LittleEndian.PutUint32(b[4:], headerVersion)
	binary.LittleEndian.PutUint32(b[8:], h.width)
	binary.LittleEndian.PutUint32(b[12:], h.height)
	binary.LittleEndian.PutUint32(b[16:], h.stride)
	binary.LittleEndian.PutUint32(b[20:], uint32(h.format))
	binary.LittleEndian.PutUint32(b[24:], h.flags)
	binary.LittleEndian.PutUint32(b[28:], h.pid)
	binary.LittleEndian.PutUint32(b[32:], h.token)
	binary.LittleEndian.PutUint32(b[36:], h.handle)
	binary.LittleEndian.PutUint64(b[40:], h.size)
	return b
}

func (h *header) unmarshal(b []byte) error {
	if len(b) < headerLen {
		return fmt.Errorf("%w: %d bytes", errBadHeader, len(b))
	}
	if m := binary.LittleEndian.Uint32(b[0:]); m != headerMagic {
		return fmt.Errorf("%w: magic 0x%08x", errBadHeader, m)
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != headerVersion {
		return fmt.Errorf("%w: version %d", errBadHeader, v)
	}
	h.width = binary.LittleEndian.Uint32(b[8:])
	h.height = binary.LittleEndian.Uint32(b[12:])
	h.stride = binary.LittleEndian.Uint32(b[16:])
	h.format = format.Format(binary.LittleEndian.Uint32(b[20:]))
	h.flags = binary.LittleEndian.Uint32(b[24:])
	h.pid = binary.LittleEndian.Uint32(b[28:])
	h.token = binary.LittleEndian.Uint32(b[32:])
	h.handle = binary.LittleEndian.Uint32(b[36:])
	h.size = binary.LittleEndian.Uint64(b[40:])
	if h.size != uint64(h.stride)*uint64(h.height) {
		return fmt.Errorf("%w: size %d for %dx%d", errBadHeader, h.size, h.stride, h.height)
	}
	return nil
}

// file returns the name of the surface file the header was written to.
func (h *header) file() string {
	return surfaceFile(h.pid, h.token, h.handle)
}

func surfaceFile(pid, token, handle uint32) string {
	return fmt.Sprintf("surface-%d-%d-%d", pid, token, handle)
}
