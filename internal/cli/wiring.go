package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"orderflow/internal/bus"
	"orderflow/internal/config"
)

// configureGOMAXPROCS
//
// Fargate 는 vCPU 단위로 CPU share 를 제한한다 (0.25 vCPU = 논리 CPU 1/4).
// Go 런타임은 호스트의 모든 코어를 GOMAXPROCS 로 잡으므로
// 서버 모드에서는 기본 1 로 두고, 필요하면 GOMAXPROCS 환경변수로 조정한다.
func configureGOMAXPROCS() {
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
			return
		}
	}
	runtime.GOMAXPROCS(1)
}

// newRegistry 는 process/go collector 를 포함한 전용 registry 를 만든다.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// signalContext 는 SIGTERM / SIGINT 에서 취소되는 context.
// ECS 는 scale-in / rolling update 때 SIGTERM 후 grace period 를 준다.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// publisher 는 bus.Publisher 와 종료 함수를 묶는다.
type publisher struct {
	bus.Publisher
	close func()
}

// newPublisher
//
// BUS 설정에 따라 발행자를 만든다.
//   - sns  : ORDERS_TOPIC_ARN 으로 Publish (Lambda 모드는 항상 sns)
//   - nats : JetStream stream 을 만들고 subject 로 Publish
func newPublisher(ctx context.Context, cfg config.Config, lambda bool) (publisher, error) {
	if lambda || cfg.Bus == config.BusSNS {
		awsCfg, err := cfg.AWS(ctx)
		if err != nil {
			return publisher{}, err
		}
		client := bus.NewSNSClient(awsCfg, cfg.AWSEndpointURL)
		return publisher{
			Publisher: bus.NewSNSPublisher(client, cfg.TopicARN),
			close:     func() {},
		}, nil
	}

	js, err := connectJetStream(ctx, cfg, "gateway")
	if err != nil {
		return publisher{}, err
	}
	return publisher{
		Publisher: js,
		close: func() {
			if err := js.Close(); err != nil {
				log.Warn().Err(err).Msg("nats drain failed")
			}
		},
	}, nil
}

func connectJetStream(ctx context.Context, cfg config.Config, role string) (*bus.JetStream, error) {
	jsCfg := bus.DefaultJetStreamConfig(cfg.NATSURL, cfg.NATSStream, cfg.NATSSubject)
	jsCfg.Name = fmt.Sprintf("%s-%s-%s", cfg.ServiceName, role, cfg.InstanceID)
	jsCfg.MaxDeliver = cfg.NATSMaxDeliver

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return bus.ConnectJetStream(ctx, jsCfg)
}
