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

// Package surface holds the reference-counted shared-memory surfaces of a
// virtual GPU device and the contract a device backend has to implement.
package surface

import (
	"errors"

	"github.com/srediag/plugin-bufmgr/pkg/format"
)

var (
	// ErrNotFound is returned when no surface is registered under a name.
	ErrNotFound = errors.New("surface: not found")
	// ErrUnsupported is returned for parameters the backend cannot satisfy.
	ErrUnsupported = errors.New("surface: unsupported")
	// ErrClosed is returned by a backend used after Close.
	ErrClosed = errors.New("surface: backend closed")
)

// AccessFlags is the intent recorded by StartAccess.
type AccessFlags uint32

const (
	SAFRead AccessFlags = 1 << iota
	SAFWrite
)

func (f AccessFlags) String() string {
	switch f {
	case 0:
		return "none"
	case SAFRead:
		return "read"
	case SAFWrite:
		return "write"
	case SAFRead | SAFWrite:
		return "read|write"
	}
	return "invalid"
}

// Info describes a surface as seen by the backend.
type Info struct {
	Handle uint32
	Width  uint32
	Height uint32
	Stride uint32
	Format format.Format
	Size   uint64
}

// Backend is the device-level capability the Store is built on. Handles are
// local to one backend; names are global to every backend opened on the same
// device. Implementations must be safe for concurrent use on distinct handles.
type Backend interface {
	CreateSurface(width, height, stride uint32, f format.Format, scanout bool) (Info, error)
	// OpenSurface returns a new handle for the surface exported under name,
	// or an error wrapping ErrNotFound.
	OpenSurface(name uint32) (Info, error)
	// Flink exports handle and returns its global name.
	Flink(handle uint32) (uint32, error)
	Mmap(handle uint32) ([]byte, error)
	Munmap(handle uint32, mem []byte) error
	StartAccess(handle uint32, saf AccessFlags) error
	EndAccess(handle uint32, sync bool) error
	CloseSurface(handle uint32) error
	Close() error
}

// OpenFunc opens a Backend on a device descriptor supplied by the host.
type OpenFunc func(fd int) (Backend, error)
