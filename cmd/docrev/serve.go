package main

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nainya/docrev/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var grpcAddr, httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC service, the observability endpoints and the background sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("grpc-addr") {
				cfg.Server.GrpcAddr = grpcAddr
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.Server.HTTPAddr = httpAddr
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			log.LogServerStart(cfg.Server.GrpcAddr, cfg.Server.HTTPAddr, cfg.DB.Path)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			lis, err := net.Listen("tcp", cfg.Server.GrpcAddr)
			if err != nil {
				return err
			}

			grpcServer := grpc.NewServer(
				grpc.MaxRecvMsgSize(100*1024*1024),
				grpc.MaxSendMsgSize(100*1024*1024),
				grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(a.metrics, log.Component("grpc"))),
			)
			server.NewServer(a.engine, a.metrics, log).Register(grpcServer)
			healthSrv := health.NewServer()
			healthpb.RegisterHealthServer(grpcServer, healthSrv)
			healthSrv.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.LogServerReady(lis.Addr().String())
				return grpcServer.Serve(lis)
			})

			var obs *server.ObservabilityServer
			if cfg.Server.HTTPAddr != "" {
				ready := func(ctx context.Context) error {
					_, err := a.engine.Stats(ctx)
					return err
				}
				obs = server.NewObservabilityServer(cfg.Server.HTTPAddr, a.metrics, ready, log)
				g.Go(obs.Start)
			}

			g.Go(func() error { return a.engine.Run(gctx) })
			g.Go(func() error { return logEvents(gctx, a.bus, log.Component("events"), cfg.Notify.BusBuffer) })
			g.Go(func() error { return statsLoop(gctx, a) })

			g.Go(func() error {
				<-gctx.Done()
				reason := "signal"
				if err := context.Cause(gctx); err != nil && !errors.Is(err, context.Canceled) {
					reason = err.Error()
				}
				log.LogServerShutdown(reason)
				healthSrv.Shutdown()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if obs != nil {
					if err := obs.Shutdown(shutdownCtx); err != nil {
						log.Warn().Err(err).Msg("observability shutdown failed")
					}
				}
				grpcServer.GracefulStop()
				a.engine.WaitComparisons()
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "observability listen address, empty to disable")
	return cmd
}

// statsLoop refreshes the database gauges
func statsLoop(ctx context.Context, a *app) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			stats, err := a.engine.Stats(ctx)
			a.metrics.RecordStoreOperation("stats", time.Since(start), err)
			if err != nil {
				a.log.Warn().Err(err).Msg("stats refresh failed")
				continue
			}
			a.metrics.UpdateDbStats(stats.DBSizeBytes, stats.Documents)
		}
	}
}
