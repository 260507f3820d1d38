package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"orderflow/internal/awslambda"
	"orderflow/internal/config"
	"orderflow/internal/metrics"
	"orderflow/internal/server"
	"orderflow/internal/worker"
)

func newGatewayCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Accept signed orders on POST /orders and publish them to the bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(config.RoleGateway, opts.lambda)
			if err != nil {
				return err
			}
			if opts.lambda {
				return runGatewayLambda(cmd.Context(), cfg)
			}
			return runGatewayServer(cfg)
		},
	}
}

// runGatewayLambda 는 ALB target 으로 동작한다. spool 은 두지 않는다
// (publish 실패는 502 로 돌려 client 가 재시도).
func runGatewayLambda(ctx context.Context, cfg config.Config) error {
	pub, err := newPublisher(ctx, cfg, true)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.NewRegistry())
	h := server.NewHandler(cfg, m, pub, nil)
	alb := awslambda.NewALBHandler(server.NewRouter(h, server.RouterOptions{}))

	log.Info().Msg("gateway lambda handler starting")
	lambda.Start(alb.Handle)
	return nil
}

// runGatewayServer
//
// 서버 모드 구성:
//   - Publisher : SNS 또는 JetStream
//   - Spool     : SPOOL_DIR 가 있으면 publish 실패분을 로컬에 저장 후 재발행
//   - Router    : /orders + /health + /metrics
//
// SIGTERM 수신 시 HTTP 서버 → spool replay loop → bus 연결 순으로 닫는다.
func runGatewayServer(cfg config.Config) error {
	configureGOMAXPROCS()

	ctx, stop := signalContext()
	defer stop()

	reg := newRegistry()
	m := metrics.New(reg)

	pub, err := newPublisher(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pub.close()

	var spooler server.Spooler
	replayCtx, stopReplay := context.WithCancel(context.Background())
	replayDone := make(chan struct{})
	if cfg.SpoolDir != "" {
		spool, err := worker.NewSpool(worker.SpoolConfig{
			Dir:          cfg.SpoolDir,
			InstanceID:   cfg.InstanceID,
			MaxAge:       cfg.SpoolMaxAge,
			MaxSizeBytes: cfg.SpoolMaxSizeBytes,
		}, pub, m, time.Now)
		if err != nil {
			stopReplay()
			return err
		}
		spooler = spool
		go func() {
			defer close(replayDone)
			spool.Run(replayCtx, cfg.SpoolReplayInterval)
		}()
	} else {
		close(replayDone)
	}

	h := server.NewHandler(cfg, m, pub, spooler)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.NewRouter(h, server.RouterOptions{Ops: true, Gatherer: reg}),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("bus", cfg.Bus).Bool("spool", spooler != nil).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		stopReplay()
		<-replayDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	stopReplay()
	<-replayDone
	log.Info().Msg("shutdown complete")
	return nil
}
