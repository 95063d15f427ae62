package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/srediag/plugin-bufmgr/api"
	"github.com/srediag/plugin-bufmgr/pkg/plugin"
	"github.com/srediag/plugin-bufmgr/pkg/surface/surfacetest"
)

type namedGauge struct {
	noop.Int64ObservableGauge
	name string
}

// recordingMeter keeps the callback registered on it so tests can collect.
type recordingMeter struct {
	noop.Meter
	callback metric.Callback
}

func (m *recordingMeter) Int64ObservableGauge(name string, _ ...metric.Int64ObservableGaugeOption) (metric.Int64ObservableGauge, error) {
	return namedGauge{name: name}, nil
}

func (m *recordingMeter) RegisterCallback(f metric.Callback, instruments ...metric.Observable) (metric.Registration, error) {
	m.callback = f
	return m.Meter.RegisterCallback(f, instruments...)
}

type recordingObserver struct {
	embedded.Observer
	values map[string]int64
}

func (o *recordingObserver) ObserveFloat64(metric.Float64Observable, float64, ...metric.ObserveOption) {
}

func (o *recordingObserver) ObserveInt64(obsrv metric.Int64Observable, value int64, _ ...metric.ObserveOption) {
	o.values[obsrv.(namedGauge).name] = value
}

type AdapterTestSuite struct {
	suite.Suite
	mgr *plugin.BufferManager
}

func (s *AdapterTestSuite) SetupTest() {
	mgr, err := plugin.Init(context.Background(), 3, surfacetest.Open, nil)
	s.Require().Nil(err)
	s.mgr = mgr
}

func (s *AdapterTestSuite) TearDownTest() {
	if s.mgr.Device().Attached() {
		_ = s.mgr.Deinit()
	}
}

func (s *AdapterTestSuite) status(h http.Handler, path string) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func (s *AdapterTestSuite) TestHealthHandler() {
	h := NewHealthHandler(s.mgr, HealthOptions{})
	s.Equal(http.StatusOK, s.status(h, "/live"))
	s.Equal(http.StatusOK, s.status(h, "/ready"))

	s.Nil(s.mgr.Deinit())
	s.Equal(http.StatusOK, s.status(h, "/live"))
	s.Equal(http.StatusServiceUnavailable, s.status(h, "/ready"))
}

func (s *AdapterTestSuite) TestGoroutineThreshold() {
	h := NewHealthHandler(s.mgr, HealthOptions{GoroutineThreshold: 1})
	s.Equal(http.StatusServiceUnavailable, s.status(h, "/live"))
}

func (s *AdapterTestSuite) TestRegisterMetrics() {
	meter := &recordingMeter{}
	reg, err := RegisterMetrics(meter, s.mgr)
	s.Require().Nil(err)
	s.Require().NotNil(meter.callback)

	bo, err := s.mgr.Alloc(4096, api.AllocDefault)
	s.Require().Nil(err)
	key, err := s.mgr.Export(bo)
	s.Require().Nil(err)
	imported, err := s.mgr.Import(key)
	s.Require().Nil(err)

	obs := &recordingObserver{values: make(map[string]int64)}
	s.Nil(meter.callback(context.Background(), obs))
	s.Equal(int64(1), obs.values["bufmgr.surfaces.live"])
	s.Equal(int64(2), obs.values["bufmgr.buffer_objects"])

	s.mgr.Free(imported)
	s.mgr.Free(bo)
	s.Nil(meter.callback(context.Background(), obs))
	s.Equal(int64(0), obs.values["bufmgr.surfaces.live"])
	s.Equal(int64(0), obs.values["bufmgr.buffer_objects"])
	s.Nil(reg.Unregister())
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}
