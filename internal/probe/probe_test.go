package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-bufmgr/pkg/plugin"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
	"github.com/srediag/plugin-bufmgr/pkg/surface/surfacetest"
)

func newManager(t *testing.T) *plugin.BufferManager {
	mgr, err := plugin.Init(context.Background(), 0, surfacetest.Open, nil)
	require.Nil(t, err)
	return mgr
}

func TestRun(t *testing.T) {
	mgr := newManager(t)
	res, err := Run(context.Background(), mgr, Config{Workers: 4, Iterations: 64, MaxSize: 64 << 10, Seed: 7})
	require.Nil(t, err)
	assert.Equal(t, int64(64), res.Iterations)
	assert.Equal(t, int64(0), res.Failures)
	assert.Greater(t, res.Bytes, int64(0))
	assert.Equal(t, 0, mgr.BufferObjects())
	assert.Equal(t, 0, mgr.Device().Store().Live())
	assert.Nil(t, mgr.Deinit())
}

func TestRunReportsFailures(t *testing.T) {
	backend := surfacetest.New()
	backend.Fail["flink"] = assert.AnError
	mgr, err := plugin.Init(context.Background(), 0, func(int) (surface.Backend, error) { return backend, nil }, nil)
	require.Nil(t, err)

	res, err := Run(context.Background(), mgr, Config{Workers: 2, Iterations: 8, MaxSize: 4096, Seed: 1})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int64(8), res.Failures)
	assert.Equal(t, 0, mgr.BufferObjects())
	assert.Nil(t, mgr.Deinit())
}

func TestRunRejectsBadConfig(t *testing.T) {
	mgr := newManager(t)
	defer mgr.Deinit()
	_, err := Run(context.Background(), mgr, Config{})
	assert.NotNil(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	mgr := newManager(t)
	defer mgr.Deinit()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, mgr, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), res.Iterations)
}
