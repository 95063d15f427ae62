/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package format describes the pixel formats a surface may carry and how
// their color planes are laid out in memory.
package format

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned for formats or plane indices the device does not handle.
var ErrUnsupported = errors.New("format: unsupported")

// Format is a fourcc pixel format code.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

const (
	ARGB8888 Format = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	XRGB8888 Format = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	NV21     Format = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
	NV61     Format = 'N' | 'V'<<8 | '6'<<16 | '1'<<24
	YUV420   Format = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
)

var supported = [...]Format{ARGB8888, XRGB8888, NV21, NV61, YUV420}

// Plane is the placement of one color plane inside a surface.
type Plane struct {
	Size   uint32
	Offset uint32
	Pitch  uint32
}

// Supported returns the formats the device handles. The slice is a fresh copy.
func Supported() []Format {
	out := make([]Format, len(supported))
	copy(out, supported[:])
	return out
}

// IsSupported reports whether f is one of the supported formats.
func IsSupported(f Format) bool {
	for _, s := range supported {
		if s == f {
			return true
		}
	}
	return false
}

func (f Format) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}

// Parse accepts a fourcc ("AR24") or a format name ("ARGB8888").
func Parse(s string) (Format, error) {
	switch s {
	case "ARGB8888":
		return ARGB8888, nil
	case "XRGB8888":
		return XRGB8888, nil
	case "NV21":
		return NV21, nil
	case "NV61":
		return NV61, nil
	case "YUV420":
		return YUV420, nil
	}
	if len(s) == 4 {
		f := fourcc(s[0], s[1], s[2], s[3])
		if IsSupported(f) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// BPP returns the average number of bits per pixel of f.
func BPP(f Format) (int, error) {
	switch f {
	case ARGB8888, XRGB8888:
		return 32, nil
	case NV21, YUV420:
		return 12, nil
	case NV61:
		return 16, nil
	}
	return 0, fmt.Errorf("%w: format %s", ErrUnsupported, f)
}

// NumPlanes returns the number of color planes of f.
func NumPlanes(f Format) (int, error) {
	switch f {
	case ARGB8888, XRGB8888:
		return 1, nil
	case NV21, NV61:
		return 2, nil
	case YUV420:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: format %s", ErrUnsupported, f)
}

// TotalSize returns the byte size of a width x height image in format f.
func TotalSize(width, height uint32, f Format) (uint32, error) {
	bpp, err := BPP(f)
	if err != nil {
		return 0, err
	}
	return width * height * uint32(bpp) >> 3, nil
}

// PlaneLayout returns the size, offset and pitch of the given plane.
// All arithmetic truncates the way shifts do.
func PlaneLayout(width, height uint32, f Format, plane int) (Plane, error) {
	luma := Plane{Size: width * height, Offset: 0, Pitch: width}

	switch f {
	case ARGB8888, XRGB8888:
		if plane == 0 {
			return Plane{Size: width * height * 4, Offset: 0, Pitch: width * 4}, nil
		}
	case NV21:
		switch plane {
		case 0:
			return luma, nil
		case 1:
			return Plane{Size: width * (height >> 1), Offset: width * height, Pitch: width}, nil
		}
	case NV61:
		switch plane {
		case 0:
			return luma, nil
		case 1:
			return Plane{Size: width * height, Offset: width * height, Pitch: width}, nil
		}
	case YUV420:
		chroma := (width * height) >> 2
		switch plane {
		case 0:
			return luma, nil
		case 1:
			return Plane{Size: chroma, Offset: width * height, Pitch: width >> 1}, nil
		case 2:
			return Plane{Size: chroma, Offset: width*height + chroma, Pitch: width >> 1}, nil
		}
	default:
		return Plane{}, fmt.Errorf("%w: format %s", ErrUnsupported, f)
	}
	return Plane{}, fmt.Errorf("%w: plane %d of %s", ErrUnsupported, plane, f)
}
