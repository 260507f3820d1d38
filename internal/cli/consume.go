package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"orderflow/internal/awslambda"
	"orderflow/internal/clock"
	"orderflow/internal/config"
	"orderflow/internal/dispatch"
	"orderflow/internal/metrics"
	"orderflow/internal/sink"
	"orderflow/internal/worker"
)

func newConsumeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Run a bus consumer that writes orders to a sink",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "store",
			Short: "Write each order to the keyed store (DynamoDB or Redis), keyed by orderId",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runConsumer(cmd.Context(), config.RoleStore, opts.lambda)
			},
		},
		&cobra.Command{
			Use:   "archive",
			Short: "Write each order as a JSON object to the S3 archive",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runConsumer(cmd.Context(), config.RoleArchive, opts.lambda)
			},
		},
	)
	return cmd
}

// consumer 는 sink 하나에 대한 dispatcher 와 정리 함수.
type consumer struct {
	name       string
	dispatcher *dispatch.Dispatcher
	close      func()
}

func runConsumer(ctx context.Context, role config.Role, lambdaMode bool) error {
	cfg, err := setup(role, lambdaMode)
	if err != nil {
		return err
	}

	if lambdaMode {
		c, err := buildConsumer(ctx, cfg, role, metrics.New(prometheus.NewRegistry()))
		if err != nil {
			return err
		}
		defer c.close()

		log.Info().Str("sink", c.name).Msg("sqs lambda handler starting")
		lambda.Start(awslambda.NewSQSHandler(c.dispatcher).Handle)
		return nil
	}
	return runConsumerServer(cfg, role)
}

// buildConsumer 는 role 에 맞는 sink writer 로 Dispatcher 를 만든다.
func buildConsumer(ctx context.Context, cfg config.Config, role config.Role, m *metrics.Metrics) (consumer, error) {
	clk := clock.New(time.Now)
	dispatchOpts := []dispatch.Option{dispatch.WithConcurrency(cfg.DispatchConcurrency)}

	switch role {
	case config.RoleStore:
		store, closeStore, err := newItemStore(ctx, cfg)
		if err != nil {
			return consumer{}, err
		}
		w := sink.NewKeyedWriter(store, cfg.Origin, clk)
		return consumer{
			name:       sink.NameStore,
			dispatcher: dispatch.New(sink.NameStore, w, m, dispatchOpts...),
			close:      closeStore,
		}, nil

	case config.RoleArchive:
		awsCfg, err := cfg.AWS(ctx)
		if err != nil {
			return consumer{}, err
		}
		objects := sink.NewS3Store(sink.NewS3Client(awsCfg, cfg.AWSEndpointURL), sink.S3Options{
			Bucket:   cfg.ArchiveBucket,
			Timeout:  cfg.S3Timeout,
			SSE:      cfg.ArchiveSSE, // none 은 SSE 미지정
			KMSKeyID: cfg.ArchiveKMSKeyID,
		})
		w := sink.NewArchiveWriter(objects, cfg.ArchivePrefix, clk)
		dispatchOpts = append(dispatchOpts, dispatch.WithFallbackIdentifier(w.FallbackIdentifier))
		return consumer{
			name:       sink.NameArchive,
			dispatcher: dispatch.New(sink.NameArchive, w, m, dispatchOpts...),
			close:      func() {},
		}, nil
	}
	return consumer{}, fmt.Errorf("%w: role %q has no sink", config.ErrInvalid, role)
}

// newItemStore 는 KEYED_STORE 에 따라 DynamoDB 또는 Redis store 를 만든다.
func newItemStore(ctx context.Context, cfg config.Config) (sink.ItemStore, func(), error) {
	if cfg.KeyedStore == config.StoreRedis {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			ReadTimeout:  cfg.StoreTimeout,
			WriteTimeout: cfg.StoreTimeout,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return sink.NewRedisStore(client, cfg.RedisKeyPrefix), func() { _ = client.Close() }, nil
	}

	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		return nil, nil, err
	}
	client := sink.NewDynamoClient(awsCfg, cfg.AWSEndpointURL)
	return sink.NewDynamoStore(client, cfg.OrdersTable, cfg.StoreTimeout), func() {}, nil
}

// runConsumerServer
//
// self-hosted 구성: JetStream durable consumer(<stream>-<role>) 에서
// 배치를 fetch 하고 Manager 가 Ack/Nak 한다. /health, /metrics 는 HTTP_ADDR 로 노출한다.
func runConsumerServer(cfg config.Config, role config.Role) error {
	configureGOMAXPROCS()

	ctx, stop := signalContext()
	defer stop()

	reg := newRegistry()
	m := metrics.New(reg)

	c, err := buildConsumer(ctx, cfg, role, m)
	if err != nil {
		return err
	}
	defer c.close()

	js, err := connectJetStream(ctx, cfg, string(role))
	if err != nil {
		return err
	}
	defer func() {
		if err := js.Close(); err != nil {
			log.Warn().Err(err).Msg("nats drain failed")
		}
	}()

	durable := fmt.Sprintf("%s-%s", cfg.NATSStream, role)
	src, err := js.Consumer(ctx, durable)
	if err != nil {
		return err
	}

	mgr := worker.NewManager(worker.ManagerConfig{
		Name:            c.name,
		BatchSize:       cfg.BatchSize,
		FetchWait:       cfg.FetchWait,
		RedeliveryDelay: cfg.RedeliveryDelay,
	}, src, c.dispatcher)
	mgr.Start(ctx)

	ops := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           opsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", cfg.HTTPAddr).Msg("ops server terminated")
		}
	}()

	log.Info().Str("sink", c.name).Str("durable", durable).Msg("consumer running")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ops.Shutdown(shutdownCtx)

	// 처리 중인 배치는 끝까지 Ack/Nak 한 뒤 연결을 닫는다.
	mgr.Shutdown()
	log.Info().Msg("shutdown complete")
	return nil
}

func opsMux(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
