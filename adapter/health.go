// Package adapter connects a buffer manager to health checking and
// OpenTelemetry.
package adapter

import (
	"errors"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/plugin-bufmgr/pkg/plugin"
)

const defaultGoroutineThreshold = 4096

var errDetached = errors.New("device detached")

// HealthOptions tunes the checks installed by NewHealthHandler.
type HealthOptions struct {
	// GoroutineThreshold fails the liveness check when exceeded.
	GoroutineThreshold int
}

// NewHealthHandler returns a healthcheck handler serving /live and /ready for
// mgr. Readiness fails once the device is detached.
func NewHealthHandler(mgr *plugin.BufferManager, opts HealthOptions) healthcheck.Handler {
	if opts.GoroutineThreshold <= 0 {
		opts.GoroutineThreshold = defaultGoroutineThreshold
	}
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.GoroutineThreshold))
	h.AddReadinessCheck("device", func() error {
		if !mgr.Device().Attached() {
			return errDetached
		}
		return nil
	})
	return h
}
