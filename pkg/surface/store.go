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
	"errors"
	"fmt"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/plugin-bufmgr/pkg/format"
)

// Store keeps the live surfaces of one backend, indexed by handle and by
// exported name.
type Store struct {
	backend Backend
	handles cmap.ConcurrentMap[uint32, *Surface]
	// names holds exported surfaces only, so an import of a name this store
	// already owns resolves to the same object.
	names  cmap.ConcurrentMap[uint32, *Surface]
	mapped atomic.Int64
}

func shardUint32(key uint32) uint32 {
	return key
}

// NewStore returns a Store over backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		handles: cmap.NewWithCustomShardingFunction[uint32, *Surface](shardUint32),
		names:   cmap.NewWithCustomShardingFunction[uint32, *Surface](shardUint32),
	}
}

// Backend returns the backend the store was built on.
func (st *Store) Backend() Backend {
	return st.backend
}

// Create allocates a new surface and returns the only reference to it.
func (st *Store) Create(width, height, stride uint32, f format.Format, scanout bool) (*Ref, error) {
	info, err := st.backend.CreateSurface(width, height, stride, f, scanout)
	if err != nil {
		return nil, fmt.Errorf("create surface %dx%d %s: %w", width, height, f, err)
	}
	s := newSurface(st, info)
	st.handles.Set(s.Handle, s)
	return newRef(s), nil
}

// Open returns a reference to the surface exported under name. A surface
// this store already holds is reused with one more reference.
func (st *Store) Open(name uint32) (*Ref, error) {
	if name == 0 {
		return nil, fmt.Errorf("open surface: %w: name 0", ErrNotFound)
	}
	if s, ok := st.names.Get(name); ok && s.tryRef() {
		return newRef(s), nil
	}
	info, err := st.backend.OpenSurface(name)
	if err != nil {
		return nil, fmt.Errorf("open surface %d: %w", name, err)
	}
	s := newSurface(st, info)
	s.name = name
	if !st.names.SetIfAbsent(name, s) {
		// Lost a race with another import of the same name.
		if prev, ok := st.names.Get(name); ok && prev.tryRef() {
			_ = st.backend.CloseSurface(info.Handle)
			return newRef(prev), nil
		}
		st.names.Set(name, s)
	}
	st.handles.Set(s.Handle, s)
	return newRef(s), nil
}

// Lookup returns the live surface with the given handle.
func (st *Store) Lookup(handle uint32) (*Surface, bool) {
	return st.handles.Get(handle)
}

// Live returns the number of live surfaces.
func (st *Store) Live() int {
	return st.handles.Count()
}

// Mapped returns the number of live surfaces mapped into process memory.
func (st *Store) Mapped() int {
	return int(st.mapped.Load())
}

// Close closes the backend. Surfaces still alive at that point are leaked
// and reported in the error.
func (st *Store) Close() error {
	var errs []error
	if n := st.handles.Count(); n > 0 {
		errs = append(errs, fmt.Errorf("closing store with %d live surfaces", n))
	}
	if err := st.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (st *Store) destroy(s *Surface) error {
	st.handles.Remove(s.Handle)
	if s.name != 0 {
		st.names.RemoveCb(s.name, func(_ uint32, v *Surface, exists bool) bool {
			return exists && v == s
		})
	}

	var errs []error
	if s.vaddr != nil {
		if err := st.backend.Munmap(s.Handle, s.vaddr); err != nil {
			errs = append(errs, fmt.Errorf("unmap surface %d: %w", s.Handle, err))
		}
		s.vaddr = nil
		st.mapped.Add(-1)
	}
	if err := st.backend.CloseSurface(s.Handle); err != nil {
		errs = append(errs, fmt.Errorf("close surface %d: %w", s.Handle, err))
	}
	return errors.Join(errs...)
}
