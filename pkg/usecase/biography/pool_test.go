package biography_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/usecase/biography"
)

func fastPool(workers int, opts ...biography.PoolOption) *biography.Pool {
	opts = append([]biography.PoolOption{biography.WithBackoff(time.Millisecond, 2*time.Millisecond)}, opts...)
	return biography.NewPool(workers, opts...)
}

func TestCallRetriesTransient(t *testing.T) {
	pool := fastPool(1, biography.WithRetries(3))

	calls := 0
	v, err := biography.Call(context.Background(), pool, "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", model.Transient(nil, "rate limited")
		}
		return "ok", nil
	})
	gt.NoError(t, err)
	gt.Equal(t, v, "ok")
	gt.Equal(t, calls, 3)
}

func TestCallGivesUpAfterRetries(t *testing.T) {
	pool := fastPool(1, biography.WithRetries(2))

	calls := 0
	_, err := biography.Call(context.Background(), pool, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, model.Transient(nil, "timeout")
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTransient))
	gt.Equal(t, calls, 3)
}

func TestCallDoesNotRetryFatal(t *testing.T) {
	pool := fastPool(1, biography.WithRetries(3))

	calls := 0
	_, err := biography.Call(context.Background(), pool, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, model.Fatal(nil, "unauthorized")
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrFatal))
	gt.Equal(t, calls, 1)
}

func TestCallCanceled(t *testing.T) {
	pool := fastPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := biography.Call(ctx, pool, "test", func(ctx context.Context) (int, error) {
		called = true
		return 1, nil
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.False(t, called)
}

func TestCallBoundsConcurrency(t *testing.T) {
	pool := fastPool(2)

	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := biography.Call(context.Background(), pool, "test", func(ctx context.Context) (int, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return 0, nil
			})
			gt.NoError(t, err)
		}()
	}
	wg.Wait()

	gt.True(t, peak.Load() <= 2)
	gt.True(t, peak.Load() >= 1)
}
