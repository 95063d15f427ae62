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

package plugin

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/srediag/plugin-bufmgr/api"
	"github.com/srediag/plugin-bufmgr/internal/logging"
	"github.com/srediag/plugin-bufmgr/pkg/format"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

const (
	// AllocWidth is the width of every surface created by Alloc; the
	// requested size only decides the height.
	AllocWidth         = 2048
	AllocBytesPerPixel = 4
	allocStride        = AllocWidth * AllocBytesPerPixel
)

// Backend is the contract a host buffer manager drives.
type Backend interface {
	Size(bo *BufferObject) int
	Alloc(size int, flags api.AllocFlags) (*BufferObject, error)
	Free(bo *BufferObject)
	Import(key uint32) (*BufferObject, error)
	Export(bo *BufferObject) (uint32, error)
	GlobalKey(bo *BufferObject) (uint32, error)
	GetHandle(bo *BufferObject, dev api.DeviceClass) (api.Handle, error)
	Map(bo *BufferObject, dev api.DeviceClass, opt api.AccessOption) (api.Handle, error)
	Unmap(bo *BufferObject) error
	CacheFlush(bo *BufferObject, flags int) error
	Lock(bo *BufferObject) error
	Unlock(bo *BufferObject) error
	Flags() api.Capability
	SupportedFormats() []format.Format
	Deinit() error
}

// BufferObject is the backend state of one host buffer object. It owns one
// reference to its surface until Free.
type BufferObject struct {
	ref *surface.Ref
}

// Surface returns the surface behind bo.
func (bo *BufferObject) Surface() *surface.Surface {
	return bo.ref.Surface()
}

func (bo *BufferObject) String() string {
	return fmt.Sprintf("bo(%p) %s", bo, bo.ref.Surface())
}

// BufferManager serves the host contract over one Device. Calls on the same
// BufferObject must be serialized by the host; calls on different objects
// may run concurrently.
type BufferManager struct {
	dev     *Device
	log     *logging.Logger
	failLog *logging.Logger
	metrics *metrics
	objects atomic.Int64
}

var _ Backend = (*BufferManager)(nil)

// NewBufferManager returns the buffer manager of dev.
func NewBufferManager(dev *Device) *BufferManager {
	return &BufferManager{
		dev:     dev,
		log:     dev.log,
		failLog: dev.log.CallerSkip(1),
		metrics: dev.metrics,
	}
}

// Device returns the device the manager allocates from.
func (m *BufferManager) Device() *Device {
	return m.dev
}

// BufferObjects returns the number of buffer objects not yet freed.
func (m *BufferManager) BufferObjects() int {
	return int(m.objects.Load())
}

func (m *BufferManager) newBufferObject(ref *surface.Ref) *BufferObject {
	m.objects.Add(1)
	m.metrics.bufferObjects.Inc()
	return &BufferObject{ref: ref}
}

func (m *BufferManager) fail(op string, err error) error {
	m.metrics.observe(op, err)
	m.failLog.Errorf("%s: %s", op, err)
	return err
}

// Size returns the byte size of the surface behind bo.
func (m *BufferManager) Size(bo *BufferObject) int {
	m.log.Debugf("bo = %p", bo)
	return int(bo.Surface().Size)
}

// Alloc creates a surface of at least size bytes: AllocWidth pixels wide,
// ARGB8888, as many rows as size needs.
func (m *BufferManager) Alloc(size int, flags api.AllocFlags) (*BufferObject, error) {
	m.log.Debugf("size = %d, flags = 0x%X", size, int(flags))
	if size <= 0 {
		return nil, m.fail(opAlloc, fmt.Errorf("%w: size %d", ErrUnsupported, size))
	}
	height := (uint64(size) + allocStride - 1) / allocStride
	if height > math.MaxUint32 {
		return nil, m.fail(opAlloc, fmt.Errorf("%w: size %d", ErrUnsupported, size))
	}
	ref, err := m.dev.store.Create(AllocWidth, uint32(height), allocStride, format.ARGB8888, flags&api.AllocScanout != 0)
	if err != nil {
		return nil, m.fail(opAlloc, fmt.Errorf("%w: %w", ErrInternal, err))
	}
	m.metrics.observe(opAlloc, nil)
	return m.newBufferObject(ref), nil
}

// Free drops the reference held by bo. Freeing bo twice is a no-op.
func (m *BufferManager) Free(bo *BufferObject) {
	m.log.Debugf("bo = %p", bo)
	if bo == nil || bo.ref.Released() {
		return
	}
	m.objects.Add(-1)
	m.metrics.bufferObjects.Dec()
	if err := bo.ref.Release(); err != nil {
		_ = m.fail(opFree, err)
		return
	}
	m.metrics.observe(opFree, nil)
}

// Import opens the surface exported under key. A key naming a surface this
// manager already holds yields a new buffer object on the same surface.
func (m *BufferManager) Import(key uint32) (*BufferObject, error) {
	m.log.Debugf("key = %d", key)
	ref, err := m.dev.store.Open(key)
	if err != nil {
		kind := ErrInternal
		if errors.Is(err, surface.ErrNotFound) {
			kind = ErrNotFound
		}
		return nil, m.fail(opImport, fmt.Errorf("%w: key %d: %w", kind, key, err))
	}
	m.metrics.observe(opImport, nil)
	return m.newBufferObject(ref), nil
}

func (m *BufferManager) name(op string, bo *BufferObject) (uint32, error) {
	m.log.Debugf("bo = %p", bo)
	name, err := bo.Surface().Name()
	if err != nil {
		return 0, m.fail(op, fmt.Errorf("%w: %w", ErrInternal, err))
	}
	m.metrics.observe(op, nil)
	return name, nil
}

// Export returns the global name of bo, creating it on first use.
func (m *BufferManager) Export(bo *BufferObject) (uint32, error) {
	return m.name(opExport, bo)
}

// GlobalKey is Export under the host's other name for it.
func (m *BufferManager) GlobalKey(bo *BufferObject) (uint32, error) {
	return m.name(opGlobalKey, bo)
}

// GetHandle returns the handle of bo for dev without opening an access
// bracket.
func (m *BufferManager) GetHandle(bo *BufferObject, dev api.DeviceClass) (api.Handle, error) {
	m.log.Debugf("bo = %p, device = %s", bo, dev)
	h, err := resolveHandle(bo.Surface(), dev)
	if err != nil {
		return api.Handle{}, m.fail(opGetHandle, err)
	}
	m.metrics.observe(opGetHandle, nil)
	return h, nil
}

// Map returns the handle of bo for dev. A CPU mapping also opens an access
// bracket with opt, closed by Unmap.
func (m *BufferManager) Map(bo *BufferObject, dev api.DeviceClass, opt api.AccessOption) (api.Handle, error) {
	m.log.Debugf("bo = %p, device = %s, opt = %d", bo, dev, int(opt))
	h, err := resolveHandle(bo.Surface(), dev)
	if err != nil {
		return api.Handle{}, m.fail(opMap, err)
	}
	if h.Ptr != nil {
		beginAccess(m.log, bo.Surface(), opt)
	}
	m.metrics.observe(opMap, nil)
	return h, nil
}

// Unmap closes the access bracket of bo. It always succeeds; the mapping
// itself stays until the surface is destroyed.
func (m *BufferManager) Unmap(bo *BufferObject) error {
	m.log.Debugf("bo = %p", bo)
	endAccess(m.log, bo.Surface())
	m.metrics.observe(opUnmap, nil)
	return nil
}

// CacheFlush is a no-op; surfaces are coherent.
func (m *BufferManager) CacheFlush(bo *BufferObject, flags int) error {
	m.log.Debugf("bo = %p, flags = 0x%X", bo, flags)
	m.metrics.observe(opCacheFlush, nil)
	return nil
}

func (m *BufferManager) Lock(bo *BufferObject) error {
	m.log.Debugf("bo = %p", bo)
	m.metrics.observe(opLock, nil)
	return nil
}

func (m *BufferManager) Unlock(bo *BufferObject) error {
	m.log.Debugf("bo = %p", bo)
	m.metrics.observe(opUnlock, nil)
	return nil
}

// Flags returns the backend capability flags.
func (m *BufferManager) Flags() api.Capability {
	return m.dev.Flags()
}

// SupportedFormats returns a fresh copy of the formats Alloc-ed surfaces
// and imports may carry.
func (m *BufferManager) SupportedFormats() []format.Format {
	return m.dev.SupportedFormats()
}

// Deinit detaches the device. Every buffer object must have been freed.
func (m *BufferManager) Deinit() error {
	return m.dev.Detach()
}
