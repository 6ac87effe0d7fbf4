// Package grpc holds gRPC client helpers shared by relay runtimes.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthCallTimeout  = time.Second
	healthRetryInitial = 50 * time.Millisecond
	healthRetryMax     = time.Second
)

// errNotServing marks a health response that is reachable but not SERVING.
var errNotServing = errors.New("not serving")

// ClientDialOptions returns insecure in-process dial options with OTel
// client instrumentation.
func ClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Probe connects to addr and waits until service reports SERVING. It returns
// an error once timeout elapses or ctx ends.
func Probe(ctx context.Context, addr, service string, timeout time.Duration, logf func(string, ...any)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := gogrpc.NewClient(addr, ClientDialOptions()...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return WaitForHealth(ctx, conn, service, logf)
}

// WaitForHealth blocks until the health check for service reports SERVING or
// ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := grpc_health_v1.NewHealthClient(conn)
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = healthRetryInitial
	retry.MaxInterval = healthRetryMax
	retry.Reset()

	_, err := backoff.Retry(ctx, func() (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
		callCtx, cancel := context.WithTimeout(ctx, healthCallTimeout)
		defer cancel()
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			if logf != nil {
				logf("waiting for gRPC health %q: %v", service, err)
			}
			return 0, err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			if logf != nil {
				logf("waiting for gRPC health %q: status %s", service, resp.GetStatus())
			}
			return resp.GetStatus(), errNotServing
		}
		return resp.GetStatus(), nil
	}, backoff.WithBackOff(retry), backoff.WithMaxElapsedTime(0))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("wait for gRPC health %q: %w", service, ctxErr)
		}
		return fmt.Errorf("wait for gRPC health %q: %w", service, err)
	}
	if logf != nil {
		logf("gRPC health %q is SERVING", service)
	}
	return nil
}
