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
	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels.
const (
	opAlloc      = "alloc"
	opFree       = "free"
	opImport     = "import"
	opExport     = "export"
	opGlobalKey  = "global_key"
	opGetHandle  = "get_handle"
	opMap        = "map"
	opUnmap      = "unmap"
	opCacheFlush = "cache_flush"
	opLock       = "lock"
	opUnlock     = "unlock"
)

type metrics struct {
	ops           *prometheus.CounterVec
	errs          *prometheus.CounterVec
	bufferObjects prometheus.Gauge
	mapped        prometheus.GaugeFunc
}

func newMetrics(mappedFn func() float64) *metrics {
	return &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bufmgr_operations_total",
			Help: "Buffer manager operations by name.",
		}, []string{"op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bufmgr_operation_errors_total",
			Help: "Failed buffer manager operations by name and error kind.",
		}, []string{"op", "kind"}),
		bufferObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bufmgr_buffer_objects",
			Help: "Live buffer objects handed out to the host.",
		}),
		mapped: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bufmgr_mapped_surfaces",
			Help: "Live surfaces mapped into process memory.",
		}, mappedFn),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.ops, m.errs, m.bufferObjects, m.mapped}
}

// register adds the collectors to r. Collectors already registered by an
// earlier device on the same registry are an error, and nothing stays
// registered.
func (m *metrics) register(r prometheus.Registerer) error {
	if r == nil {
		return nil
	}
	var registered []prometheus.Collector
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			for _, rc := range registered {
				r.Unregister(rc)
			}
			return err
		}
		registered = append(registered, c)
	}
	return nil
}

func (m *metrics) unregister(r prometheus.Registerer) {
	if r == nil {
		return
	}
	for _, c := range m.collectors() {
		r.Unregister(c)
	}
}

func (m *metrics) observe(op string, err error) {
	m.ops.WithLabelValues(op).Inc()
	if err != nil {
		m.errs.WithLabelValues(op, errorKind(err)).Inc()
	}
}
