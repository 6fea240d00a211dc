// Package service contains application services for accounts, sessions and watchlists.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/metrics"
	"go.uber.org/zap"
)

// DefaultStoreTimeout bounds every store call when no timeout is configured.
const DefaultStoreTimeout = 3 * time.Second

type base struct {
	log     *zap.Logger
	rec     metrics.Recorder
	timeout time.Duration
}

func newBase(opts []Option) base {
	b := base{log: zap.NewNop(), rec: metrics.Nop{}, timeout: DefaultStoreTimeout}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// Option customizes a service.
type Option func(*base)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(b *base) { b.log = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(b *base) { b.rec = r } }

// WithStoreTimeout sets the deadline applied to each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// bounded runs fn under the store timeout. A deadline hit becomes ErrStoreUnavailable
// and is never retried.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := fn(cctx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded)) {
		var zero T
		return zero, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return v, err
}

func boundedErr(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := bounded(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
