// Package app runs the relay: it starts the local oracle, serves gRPC
// health, issues randomness requests and reports their results.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/vrfrelay/internal/correlation"
	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
	platformgrpc "github.com/louisbranch/vrfrelay/internal/platform/grpc"
	"github.com/louisbranch/vrfrelay/internal/platform/timeouts"
	oracleapp "github.com/louisbranch/vrfrelay/internal/services/oracle/app"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/domain"
	oraclesqlite "github.com/louisbranch/vrfrelay/internal/services/oracle/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls relay startup, the local oracle, and request
// fan-out.
type RuntimeConfig struct {
	Port             int
	DBPath           string
	Requests         int
	NumWords         int
	CallbackGasLimit int64
	RequestTimeout   time.Duration
	LogPollInterval  time.Duration
	FulfillInterval  time.Duration
	FulfillDelay     time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// Logf receives runtime log lines; nil uses log.Printf.
	Logf func(string, ...any)
}

const (
	defaultRelayPort        = 8095
	defaultRelayDB          = "data/relay.db"
	defaultRequests         = 1
	defaultNumWords         = 4
	defaultCallbackGasLimit = 400000

	healthService = "relay.runtime"
)

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.Port <= 0 {
		cfg.Port = defaultRelayPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultRelayDB
	}
	if cfg.Requests <= 0 {
		cfg.Requests = defaultRequests
	}
	if cfg.NumWords <= 0 {
		cfg.NumWords = defaultNumWords
	}
	if cfg.CallbackGasLimit <= 0 {
		cfg.CallbackGasLimit = defaultCallbackGasLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = timeouts.RequestAwait
	}
	if cfg.LogPollInterval <= 0 {
		cfg.LogPollInterval = timeouts.LogPoll
	}
	if cfg.FulfillInterval <= 0 {
		cfg.FulfillInterval = timeouts.LogPoll
	}
	if cfg.FulfillDelay < 0 {
		cfg.FulfillDelay = 0
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	return cfg
}

// Run starts relay dependencies, waits for every configured request to
// resolve, and returns an error if any request failed.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create relay storage dir: %w", err)
		}
	}
	store, err := oraclesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open oracle sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			cfg.Logf("close oracle sqlite store: %v", closeErr)
		}
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on relay port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()
	cfg.Logf("relay server listening at %v", listener.Addr())
	if err := platformgrpc.Probe(ctx, fmt.Sprintf("127.0.0.1:%d", cfg.Port), healthService, timeouts.HealthProbe, nil); err != nil {
		return fmt.Errorf("relay health probe: %w", err)
	}

	fulfillCtx, stopFulfiller := context.WithCancel(ctx)
	fulfiller := oracleapp.NewFulfiller(store, oracleapp.FulfillerConfig{
		Interval: cfg.FulfillInterval,
		Delay:    cfg.FulfillDelay,
	}, cfg.Logf)
	fulfillDone := make(chan error, 1)
	go func() {
		fulfillDone <- fulfiller.Run(fulfillCtx)
	}()
	defer func() {
		stopFulfiller()
		<-fulfillDone
	}()

	coord := NewCoordinator(store, cfg)
	results, err := RequestWords(ctx, coord, cfg)
	if reportErr := Report(results, cfg.Logf); reportErr != nil {
		err = reportErr
	}
	if err != nil {
		healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return err
	}
	return nil
}

// NewCoordinator wires the oracle transport and completion log into a
// correlation coordinator.
func NewCoordinator(store *oraclesqlite.Store, cfg RuntimeConfig) *correlation.Coordinator {
	cfg = cfg.normalized()
	submitter := correlation.NewSubmissionClient(oracleapp.NewService(store, cfg.Logf), correlation.SubmissionConfig{
		AckKind:     domain.EventRandomWordsRequested,
		IDAttribute: domain.AttrRequestID,
		Required:    []string{domain.AttrCallbackGasLimit, domain.AttrNumWords},
		Logf:        cfg.Logf,
	})
	feed := oracleapp.NewLogFeed(store, cfg.LogPollInterval)
	return correlation.NewCoordinator(submitter, feed, nil, correlation.CoordinatorOptions{
		Stream: correlation.StreamOptions{
			InitialBackoff: cfg.ReconnectInitial,
			MaxBackoff:     cfg.ReconnectMax,
			Logf:           cfg.Logf,
		},
		Logf: cfg.Logf,
	})
}

// Result is the outcome of one randomness request.
type Result struct {
	Index     int
	RequestID correlation.ID
	Words     []uint64
	Err       error
}

// RequestWords issues cfg.Requests concurrent requests and waits for all of
// them. Results are returned in request order; a failed request does not stop
// the others. The error is the first failure, if any.
func RequestWords(ctx context.Context, coord *correlation.Coordinator, cfg RuntimeConfig) ([]Result, error) {
	cfg = cfg.normalized()
	params := domain.RandomWordsRequest{
		NumWords:         cfg.NumWords,
		CallbackGasLimit: cfg.CallbackGasLimit,
	}.Params()

	results := make([]Result, cfg.Requests)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			results[i] = requestOne(ctx, coord, params, cfg, i)
			if err := results[i].Err; err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func requestOne(ctx context.Context, coord *correlation.Coordinator, params correlation.Params, cfg RuntimeConfig, index int) Result {
	result := Result{Index: index}
	call, err := coord.Start(ctx, params, cfg.RequestTimeout)
	if err != nil {
		result.Err = err
		return result
	}
	result.RequestID = call.ID()
	cfg.Logf("request %d submitted id=%s", index, call.ID())

	payload, err := call.Wait(ctx)
	if err != nil {
		result.Err = err
		return result
	}
	fulfillment, err := domain.DecodeFulfillment(payload)
	if err != nil {
		result.Err = err
		return result
	}
	result.Words = fulfillment.RandomWords
	return result
}

// Report logs each result and returns an error when any request failed.
func Report(results []Result, logf func(string, ...any)) error {
	if logf == nil {
		logf = log.Printf
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			st := apperrors.StatusOf(r.Err)
			logf("request %d id=%s failed code=%s grpc=%s: %v", r.Index, r.RequestID, apperrors.CodeOf(r.Err), st.Code(), r.Err)
			errs = append(errs, fmt.Errorf("request %d: %w", r.Index, r.Err))
			continue
		}
		logf("request %d id=%s fulfilled words=%v", r.Index, r.RequestID, r.Words)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d requests failed: %w", len(errs), len(results), errors.Join(errs...))
	}
	return nil
}
