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

// Package surfacetest provides an in-memory surface.Backend that records
// every call, for tests and for running without a device.
package surfacetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srediag/plugin-bufmgr/pkg/format"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

// Namespace is the device-wide name table shared by several backends, the
// way separate processes share one GPU device.
type Namespace struct {
	mu      sync.Mutex
	next    uint32
	objects map[uint32]*object
}

// NewNamespace returns an empty name table.
func NewNamespace() *Namespace {
	return &Namespace{objects: make(map[uint32]*object)}
}

type object struct {
	info    surface.Info
	mem     []byte
	name    uint32
	handles int
}

type handleState struct {
	obj    *object
	access surface.AccessFlags
	open   bool
}

// Calls counts backend invocations by method.
type Calls struct {
	Create, Open, Flink, Mmap, Munmap, StartAccess, EndAccess, CloseSurface, Close int
}

// Backend is an in-memory surface.Backend.
type Backend struct {
	mu      sync.Mutex
	ns      *Namespace
	next    uint32
	handles map[uint32]*handleState
	calls   Calls
	closed  bool

	// Fail makes the named method ("create", "open", "flink", "mmap",
	// "munmap", "start", "end", "close") return an error.
	Fail map[string]error
}

var _ surface.Backend = (*Backend)(nil)

// New returns a Backend on its own namespace.
func New() *Backend {
	return NewWithNamespace(NewNamespace())
}

// NewWithNamespace returns a Backend sharing names with other backends on ns.
func NewWithNamespace(ns *Namespace) *Backend {
	return &Backend{
		ns:      ns,
		handles: make(map[uint32]*handleState),
		Fail:    make(map[string]error),
	}
}

// Open is a surface.OpenFunc ignoring the descriptor.
func Open(int) (surface.Backend, error) {
	return New(), nil
}

// Calls returns a snapshot of the call counters.
func (b *Backend) Calls() Calls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Access returns the access flags recorded for handle and whether an access
// window is open.
func (b *Backend) Access(handle uint32) (surface.AccessFlags, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[handle]
	if !ok {
		return 0, false
	}
	return h.access, h.open
}

// Handles returns the number of open handles.
func (b *Backend) Handles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

func (b *Backend) fail(op string) error {
	if b.closed {
		return surface.ErrClosed
	}
	if err, ok := b.Fail[op]; ok && err != nil {
		return err
	}
	return nil
}

func (b *Backend) newHandle(obj *object) uint32 {
	b.next++
	b.handles[b.next] = &handleState{obj: obj}
	b.ns.mu.Lock()
	obj.handles++
	b.ns.mu.Unlock()
	return b.next
}

func (b *Backend) lookup(handle uint32) (*handleState, error) {
	h, ok := b.handles[handle]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", handle, surface.ErrNotFound)
	}
	return h, nil
}

func (b *Backend) CreateSurface(width, height, stride uint32, f format.Format, scanout bool) (surface.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Create++
	if err := b.fail("create"); err != nil {
		return surface.Info{}, err
	}
	if stride < width {
		return surface.Info{}, fmt.Errorf("stride %d below width %d: %w", stride, width, surface.ErrUnsupported)
	}
	size := uint64(stride) * uint64(height)
	obj := &object{
		info: surface.Info{Width: width, Height: height, Stride: stride, Format: f, Size: size},
		mem:  make([]byte, size),
	}
	info := obj.info
	info.Handle = b.newHandle(obj)
	return info, nil
}

func (b *Backend) OpenSurface(name uint32) (surface.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Open++
	if err := b.fail("open"); err != nil {
		return surface.Info{}, err
	}
	b.ns.mu.Lock()
	obj, ok := b.ns.objects[name]
	b.ns.mu.Unlock()
	if !ok {
		return surface.Info{}, fmt.Errorf("name %d: %w", name, surface.ErrNotFound)
	}
	info := obj.info
	info.Handle = b.newHandle(obj)
	return info, nil
}

func (b *Backend) Flink(handle uint32) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Flink++
	if err := b.fail("flink"); err != nil {
		return 0, err
	}
	h, err := b.lookup(handle)
	if err != nil {
		return 0, err
	}
	b.ns.mu.Lock()
	defer b.ns.mu.Unlock()
	if h.obj.name == 0 {
		b.ns.next++
		h.obj.name = b.ns.next
		b.ns.objects[h.obj.name] = h.obj
	}
	return h.obj.name, nil
}

func (b *Backend) Mmap(handle uint32) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Mmap++
	if err := b.fail("mmap"); err != nil {
		return nil, err
	}
	h, err := b.lookup(handle)
	if err != nil {
		return nil, err
	}
	if len(h.obj.mem) == 0 {
		return nil, fmt.Errorf("mmap empty surface: %w", surface.ErrUnsupported)
	}
	return h.obj.mem, nil
}

func (b *Backend) Munmap(handle uint32, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Munmap++
	if err := b.fail("munmap"); err != nil {
		return err
	}
	_, err := b.lookup(handle)
	return err
}

func (b *Backend) StartAccess(handle uint32, saf surface.AccessFlags) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.StartAccess++
	if err := b.fail("start"); err != nil {
		return err
	}
	h, err := b.lookup(handle)
	if err != nil {
		return err
	}
	h.access = saf
	h.open = true
	return nil
}

func (b *Backend) EndAccess(handle uint32, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.EndAccess++
	if err := b.fail("end"); err != nil {
		return err
	}
	h, err := b.lookup(handle)
	if err != nil {
		return err
	}
	h.open = false
	return nil
}

func (b *Backend) CloseSurface(handle uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.CloseSurface++
	if err := b.fail("close"); err != nil {
		return err
	}
	h, err := b.lookup(handle)
	if err != nil {
		return err
	}
	delete(b.handles, handle)
	b.ns.mu.Lock()
	defer b.ns.mu.Unlock()
	h.obj.handles--
	if h.obj.handles == 0 && h.obj.name != 0 {
		delete(b.ns.objects, h.obj.name)
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Close++
	if b.closed {
		return errors.New("surfacetest: backend closed twice")
	}
	b.closed = true
	return nil
}
