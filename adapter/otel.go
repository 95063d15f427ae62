package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/plugin-bufmgr/pkg/plugin"
)

// RegisterMetrics publishes the live surface and buffer object counts of mgr
// as observable gauges on meter. Unregister the returned registration before
// the manager is deinitialized.
func RegisterMetrics(meter metric.Meter, mgr *plugin.BufferManager) (metric.Registration, error) {
	surfaces, err := meter.Int64ObservableGauge("bufmgr.surfaces.live",
		metric.WithDescription("Live surfaces held by the surface store."))
	if err != nil {
		return nil, fmt.Errorf("create surfaces gauge: %w", err)
	}
	objects, err := meter.Int64ObservableGauge("bufmgr.buffer_objects",
		metric.WithDescription("Buffer objects handed out to the host."))
	if err != nil {
		return nil, fmt.Errorf("create buffer objects gauge: %w", err)
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(surfaces, int64(mgr.Device().Store().Live()))
		o.ObserveInt64(objects, int64(mgr.BufferObjects()))
		return nil
	}, surfaces, objects)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return reg, nil
}
