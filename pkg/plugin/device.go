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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/plugin-bufmgr/api"
	"github.com/srediag/plugin-bufmgr/internal/logging"
	internalshm "github.com/srediag/plugin-bufmgr/internal/shm"
	"github.com/srediag/plugin-bufmgr/pkg/format"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

const tracerName = "github.com/srediag/plugin-bufmgr"

// Module describes the backend to the host module loader.
type Module struct {
	Name     string
	Vendor   string
	ABIMajor int
	ABIMinor int
}

// ModuleInfo is the version record the host reads before calling Init.
var ModuleInfo = Module{
	Name:     "emulator",
	Vendor:   "Samsung",
	ABIMajor: 1,
	ABIMinor: 0,
}

// Device is one attachment to a surface store.
type Device struct {
	store   *surface.Store
	caps    api.Capability
	formats []format.Format

	cfg      *Config
	log      *logging.Logger
	metrics  *metrics
	tracer   trace.Tracer
	detached atomic.Bool
}

// Attach opens the surface store on the host supplied descriptor fd.
// Transient open errors are retried up to cfg.AttachRetries times. A nil cfg
// means DefaultConfig. On failure nothing stays open.
func Attach(ctx context.Context, fd int, open surface.OpenFunc, cfg *Config) (dev *Device, err error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, errors.New("attach: nil surface store opener")
	}
	log := logging.New("bufmgr", cfg.logConfig())
	tracer := cfg.tracerProvider().Tracer(tracerName)

	ctx, span := tracer.Start(ctx, "bufmgr.attach", trace.WithAttributes(attribute.Int("fd", fd)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log.Debugf("enter fd=%d", fd)

	backend, err := openBackend(ctx, log, fd, open, cfg)
	if err != nil {
		log.Errorf("open surface store on fd %d failed: %s", fd, err)
		return nil, fmt.Errorf("attach fd %d: %w", fd, err)
	}

	st := surface.NewStore(backend)
	m := newMetrics(func() float64 { return float64(st.Mapped()) })
	if err := m.register(cfg.Registerer); err != nil {
		log.Errorf("register metrics failed: %s", err)
		if cerr := backend.Close(); cerr != nil {
			log.Errorf("close surface store: %s", cerr)
		}
		return nil, fmt.Errorf("attach fd %d: register metrics: %w", fd, err)
	}

	dev = &Device{
		store:   st,
		caps:    api.CapCacheCtrl | api.CapLockCtrl,
		formats: format.Supported(),
		cfg:     cfg,
		log:     log,
		metrics: m,
		tracer:  tracer,
	}
	log.Infof("initialized")
	return dev, nil
}

func openBackend(ctx context.Context, log *logging.Logger, fd int, open surface.OpenFunc, cfg *Config) (surface.Backend, error) {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if cfg.AttachBackoff > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = cfg.AttachBackoff
		eb.MaxElapsedTime = 0
		b = eb
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.AttachRetries)), ctx)

	op := func() (surface.Backend, error) {
		backend, err := open(fd)
		if err != nil && !internalshm.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return backend, err
	}
	notify := func(err error, next time.Duration) {
		log.Warnf("open surface store on fd %d: %s, retrying in %s", fd, err, next)
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}

// Store returns the surface store of the device.
func (d *Device) Store() *surface.Store {
	return d.store
}

// Flags returns the capability flags reported to the host.
func (d *Device) Flags() api.Capability {
	return d.caps
}

// SupportedFormats returns a copy of the formats the device can allocate.
func (d *Device) SupportedFormats() []format.Format {
	out := make([]format.Format, len(d.formats))
	copy(out, d.formats)
	return out
}

// Attached reports whether Detach has not been called yet.
func (d *Device) Attached() bool {
	return !d.detached.Load()
}

// Detach closes the surface store. The caller guarantees every buffer object
// was freed; surfaces still alive are reported in the error.
func (d *Device) Detach() error {
	if !d.detached.CompareAndSwap(false, true) {
		return ErrDetached
	}
	_, span := d.tracer.Start(context.Background(), "bufmgr.detach")
	defer span.End()
	d.log.Debugf("enter")

	err := d.store.Close()
	d.metrics.unregister(d.cfg.Registerer)
	if err != nil {
		d.log.Errorf("detach: %s", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("detach: %w", err)
	}
	return nil
}

// Init attaches to the device on fd and returns the buffer manager serving
// the host. BufferManager.Deinit undoes it.
func Init(ctx context.Context, fd int, open surface.OpenFunc, cfg *Config) (*BufferManager, error) {
	dev, err := Attach(ctx, fd, open, cfg)
	if err != nil {
		return nil, err
	}
	return NewBufferManager(dev), nil
}
