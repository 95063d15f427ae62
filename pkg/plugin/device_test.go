//go:build linux

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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"

	"github.com/srediag/plugin-bufmgr/api"
	"github.com/srediag/plugin-bufmgr/pkg/shm"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
	"github.com/srediag/plugin-bufmgr/pkg/surface/surfacetest"
)

type DeviceTestSuite struct {
	suite.Suite
}

// flaky fails with err the first n calls, then opens backend.
func flaky(n int, err error, backend surface.Backend, calls *int) surface.OpenFunc {
	return func(int) (surface.Backend, error) {
		*calls++
		if *calls <= n {
			return nil, err
		}
		return backend, nil
	}
}

func (s *DeviceTestSuite) TestAttachRetriesTransientErrors() {
	calls := 0
	backend := surfacetest.New()
	cfg := DefaultConfig()
	cfg.AttachBackoff = time.Millisecond
	dev, err := Attach(context.Background(), 3, flaky(2, unix.EAGAIN, backend, &calls), cfg)
	s.Require().Nil(err)
	s.Equal(3, calls)
	s.True(dev.Attached())
	s.Nil(dev.Detach())
	s.Equal(1, backend.Calls().Close)
}

func (s *DeviceTestSuite) TestAttachGivesUpAfterRetries() {
	calls := 0
	cfg := DefaultConfig()
	cfg.AttachRetries = 2
	cfg.AttachBackoff = 0
	dev, err := Attach(context.Background(), 3, flaky(100, unix.EBUSY, nil, &calls), cfg)
	s.Nil(dev)
	s.True(errors.Is(err, unix.EBUSY))
	s.Equal(3, calls)
}

func (s *DeviceTestSuite) TestAttachDoesNotRetryPermanentErrors() {
	calls := 0
	dev, err := Attach(context.Background(), 3, flaky(100, unix.ENODEV, nil, &calls), nil)
	s.Nil(dev)
	s.True(errors.Is(err, unix.ENODEV))
	s.Equal(1, calls)
}

func (s *DeviceTestSuite) TestAttachRejectsBadInput() {
	_, err := Attach(context.Background(), 3, nil, nil)
	s.NotNil(err)

	cfg := DefaultConfig()
	cfg.AttachRetries = -1
	_, err = Attach(context.Background(), 3, surfacetest.Open, cfg)
	s.NotNil(err)
}

func (s *DeviceTestSuite) TestFailedAttachClosesBackend() {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Registerer = reg

	first, err := Attach(context.Background(), 3, surfacetest.Open, cfg)
	s.Require().Nil(err)

	// the second device collides with the collectors of the first
	backend := surfacetest.New()
	calls := 0
	dev, err := Attach(context.Background(), 3, flaky(0, nil, backend, &calls), cfg)
	s.Nil(dev)
	s.NotNil(err)
	s.Equal(1, backend.Calls().Close)

	s.Nil(first.Detach())
	second, err := Attach(context.Background(), 3, surfacetest.Open, cfg)
	s.Require().Nil(err)
	s.Nil(second.Detach())
}

func (s *DeviceTestSuite) TestModuleInfo() {
	s.Equal("emulator", ModuleInfo.Name)
	s.Equal("Samsung", ModuleInfo.Vendor)
}

// TestSharedMemoryStore runs two managers on one store directory the way two
// processes share the device.
func (s *DeviceTestSuite) TestSharedMemoryStore() {
	dirFd, err := shm.OpenDir(s.T().TempDir())
	s.Require().Nil(err)
	defer unix.Close(dirFd)

	producer, err := Init(context.Background(), dirFd, shm.Open, nil)
	s.Require().Nil(err)
	consumer, err := Init(context.Background(), dirFd, shm.Open, nil)
	s.Require().Nil(err)

	bo, err := producer.Alloc(10000, api.AllocScanout)
	s.Require().Nil(err)
	s.Equal(16384, producer.Size(bo))
	key, err := producer.Export(bo)
	s.Require().Nil(err)

	imported, err := consumer.Import(key)
	s.Require().Nil(err)
	s.Equal(producer.Size(bo), consumer.Size(imported))

	src, err := producer.Map(bo, api.DeviceCPU, api.OptionWrite)
	s.Require().Nil(err)
	copy(src.Ptr, "pixels")
	s.Nil(producer.Unmap(bo))

	dst, err := consumer.Map(imported, api.DeviceCPU, api.OptionRead)
	s.Require().Nil(err)
	s.Equal("pixels", string(dst.Ptr[:6]))
	s.Nil(consumer.Unmap(imported))

	_, err = consumer.Import(key + 1)
	s.True(errors.Is(err, ErrNotFound))

	consumer.Free(imported)
	producer.Free(bo)
	s.Nil(consumer.Deinit())
	s.Nil(producer.Deinit())
}

func TestDeviceTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceTestSuite))
}
