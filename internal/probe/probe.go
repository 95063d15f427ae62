// Package probe drives a buffer manager with a concurrent
// allocate/share/map/free workload.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/plugin-bufmgr/api"
	"github.com/srediag/plugin-bufmgr/pkg/plugin"
)

// Config sizes a workload run.
type Config struct {
	Workers    int
	Iterations int
	// MaxSize is the largest buffer a single iteration allocates.
	MaxSize int
	Seed    int64
}

// DefaultConfig returns a small workload.
func DefaultConfig() Config {
	return Config{Workers: 8, Iterations: 256, MaxSize: 1 << 20, Seed: 1}
}

// Result counts what a run did.
type Result struct {
	Iterations int64
	Failures   int64
	Bytes      int64
}

// Run submits cfg.Iterations cycles to a pool of cfg.Workers goroutines and
// waits for them. Every cycle allocates a buffer, exports it, imports it back,
// writes a pattern through one object and checks it through the other, then
// frees both. The first failure is returned alongside the counts.
func Run(ctx context.Context, mgr *plugin.BufferManager, cfg Config) (Result, error) {
	if cfg.Workers <= 0 || cfg.Iterations < 0 || cfg.MaxSize <= 0 {
		return Result{}, fmt.Errorf("invalid probe config %+v", cfg)
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return Result{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		res      Result
		errOnce  sync.Once
		firstErr error
		iters    atomic.Int64
		failures atomic.Int64
		bytes    atomic.Int64
	)
	rng := rand.New(rand.NewSource(cfg.Seed))
	for i := 0; i < cfg.Iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		size := 1 + rng.Intn(cfg.MaxSize)
		pattern := byte(i)
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			iters.Add(1)
			n, err := cycle(mgr, size, pattern)
			bytes.Add(int64(n))
			if err != nil {
				failures.Add(1)
				errOnce.Do(func() { firstErr = err })
			}
		})
		if submitErr != nil {
			wg.Done()
			return res, fmt.Errorf("submit: %w", submitErr)
		}
	}
	wg.Wait()

	res = Result{Iterations: iters.Load(), Failures: failures.Load(), Bytes: bytes.Load()}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return res, firstErr
}

var errMismatch = errors.New("shared contents differ")

func cycle(mgr *plugin.BufferManager, size int, pattern byte) (int, error) {
	bo, err := mgr.Alloc(size, api.AllocDefault)
	if err != nil {
		return 0, err
	}
	defer mgr.Free(bo)

	key, err := mgr.Export(bo)
	if err != nil {
		return 0, err
	}
	peer, err := mgr.Import(key)
	if err != nil {
		return 0, err
	}
	defer mgr.Free(peer)

	w, err := mgr.Map(bo, api.DeviceCPU, api.OptionWrite)
	if err != nil {
		return 0, err
	}
	for i := 0; i < size; i++ {
		w.Ptr[i] = pattern
	}
	_ = mgr.Unmap(bo)

	r, err := mgr.Map(peer, api.DeviceCPU, api.OptionRead)
	if err != nil {
		return 0, err
	}
	defer func() { _ = mgr.Unmap(peer) }()
	if r.Ptr[0] != pattern || r.Ptr[size-1] != pattern {
		return size, fmt.Errorf("key %d: %w", key, errMismatch)
	}
	return size, nil
}
