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

package surface

import (
	"fmt"
	"sync/atomic"

	"github.com/srediag/plugin-bufmgr/pkg/format"
)

// Surface is one shared-memory object of the device. Its geometry never
// changes. Surfaces are reached through a Ref; the last Ref released destroys
// the surface.
//
// Map and Name are not synchronized: calls on the same surface must be
// serialized by the caller.
type Surface struct {
	Handle uint32
	Width  uint32
	Height uint32
	Stride uint32
	Format format.Format
	Size   uint64

	store *Store
	refs  atomic.Int32
	name  uint32
	vaddr []byte
}

func newSurface(st *Store, info Info) *Surface {
	s := &Surface{
		Handle: info.Handle,
		Width:  info.Width,
		Height: info.Height,
		Stride: info.Stride,
		Format: info.Format,
		Size:   info.Size,
		store:  st,
	}
	s.refs.Store(1)
	return s
}

// Refs returns the number of live references.
func (s *Surface) Refs() int {
	return int(s.refs.Load())
}

// Exported returns the global name, or 0 if the surface was never exported.
func (s *Surface) Exported() uint32 {
	return s.name
}

// Mapped returns the CPU mapping, or nil if the surface is not mapped.
func (s *Surface) Mapped() []byte {
	return s.vaddr
}

// Name exports the surface on first use and returns its global name.
// The name stays the same for the lifetime of the surface.
func (s *Surface) Name() (uint32, error) {
	if s.name != 0 {
		return s.name, nil
	}
	name, err := s.store.backend.Flink(s.Handle)
	if err != nil {
		return 0, fmt.Errorf("flink surface %d: %w", s.Handle, err)
	}
	s.name = name
	s.store.names.SetIfAbsent(name, s)
	return name, nil
}

// Map maps the surface into process memory. Mapping an already mapped surface
// returns the existing region.
func (s *Surface) Map() ([]byte, error) {
	if s.vaddr != nil {
		return s.vaddr, nil
	}
	mem, err := s.store.backend.Mmap(s.Handle)
	if err != nil {
		return nil, fmt.Errorf("map surface %d: %w", s.Handle, err)
	}
	s.vaddr = mem
	s.store.mapped.Add(1)
	return mem, nil
}

// StartAccess records the intent to access the surface from the CPU.
func (s *Surface) StartAccess(saf AccessFlags) error {
	if err := s.store.backend.StartAccess(s.Handle, saf); err != nil {
		return fmt.Errorf("start access surface %d: %w", s.Handle, err)
	}
	return nil
}

// EndAccess closes the window opened by StartAccess.
func (s *Surface) EndAccess(sync bool) error {
	if err := s.store.backend.EndAccess(s.Handle, sync); err != nil {
		return fmt.Errorf("end access surface %d: %w", s.Handle, err)
	}
	return nil
}

func (s *Surface) String() string {
	return fmt.Sprintf("Surface{handle: %d, name: %d, %dx%d, stride: %d, format: %s, size: %d, refs: %d}",
		s.Handle, s.name, s.Width, s.Height, s.Stride, s.Format, s.Size, s.refs.Load())
}

// tryRef takes a reference unless the surface is already being destroyed.
func (s *Surface) tryRef() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Surface) unref() error {
	n := s.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		return fmt.Errorf("negative ref count, ref=%d", n)
	}
	return s.store.destroy(s)
}

// Ref is one owner's reference to a Surface. Releasing a Ref more than once
// drops the reference only once.
type Ref struct {
	s        *Surface
	released atomic.Bool
}

func newRef(s *Surface) *Ref {
	return &Ref{s: s}
}

// Surface returns the referenced surface.
func (r *Ref) Surface() *Surface {
	return r.s
}

// Clone takes another reference to the same surface.
func (r *Ref) Clone() *Ref {
	r.s.refs.Add(1)
	return newRef(r.s)
}

// Released reports whether Release was called on r.
func (r *Ref) Released() bool {
	return r.released.Load()
}

// Release drops the reference. The surface is destroyed when the last
// reference goes; the returned error reports a failed teardown, the
// reference is gone either way.
func (r *Ref) Release() error {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return nil
	}
	return r.s.unref()
}
