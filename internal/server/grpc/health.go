// Package grpcserver serves the gRPC health protocol backed by live dependency probes.
package grpcserver

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/and161185/streamvault/internal/repository"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix names per-dependency health services, e.g. "streamvault.store".
const ServicePrefix = "streamvault."

// Health probes dependencies and mirrors the result into a grpc health server.
// The empty service name reports SERVING only while every dependency answers.
type Health struct {
	log     *zap.Logger
	checks  map[string]repository.Pinger
	timeout time.Duration
	srv     *health.Server

	mu   sync.RWMutex
	last map[string]error
}

// NewHealth builds a prober. Every dependency starts as NOT_SERVING until the first probe.
func NewHealth(log *zap.Logger, checks map[string]repository.Pinger, timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	h := &Health{log: log, checks: checks, timeout: timeout, srv: health.NewServer(), last: map[string]error{}}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		h.srv.SetServingStatus(ServicePrefix+name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// Probe pings every dependency once and returns the failures by name.
func (h *Health) Probe(ctx context.Context) map[string]error {
	failed := map[string]error{}
	for name, p := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := p.Ping(cctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			failed[name] = err
		}
		h.srv.SetServingStatus(ServicePrefix+name, st)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if len(failed) > 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus("", overall)

	h.mu.Lock()
	changed := !slices.Equal(names(failed), names(h.last))
	h.last = failed
	h.mu.Unlock()
	if changed {
		h.log.Info("health changed", zap.Strings("failing", names(failed)))
	}
	return failed
}

// Last returns the failures seen by the most recent probe.
func (h *Health) Last() map[string]error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]error, len(h.last))
	for k, v := range h.last {
		out[k] = v
	}
	return out
}

// Run probes every interval until ctx ends, then marks everything NOT_SERVING.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	h.Probe(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Probe(ctx)
		}
	}
}

// NewServer returns a grpc server exposing only the health service.
func NewServer(log *zap.Logger, h *Health) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	healthpb.RegisterHealthServer(s, h.srv)
	return s
}

func names(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
