package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"orderflow/internal/model"
)

// JetStreamConfig 는 NATS 연결과 stream 설정.
type JetStreamConfig struct {
	URL     string
	Name    string // connection name (로그 식별용)
	Stream  string
	Subject string

	MaxAge     time.Duration // stream 보관 기간
	AckWait    time.Duration // ack 도 nak 도 없으면 재전달까지 대기
	MaxDeliver int           // 재전달 상한 (-1 이면 무제한, MaxAge 가 상한)
}

// DefaultJetStreamConfig 는 stream/subject 외 기본값을 채운다.
func DefaultJetStreamConfig(url, stream, subject string) JetStreamConfig {
	return JetStreamConfig{
		URL:        url,
		Name:       "orderflow",
		Stream:     stream,
		Subject:    subject,
		MaxAge:     24 * time.Hour,
		AckWait:    30 * time.Second,
		MaxDeliver: -1,
	}
}

// JetStream
// ------------------------------------------------------------
// SNS → SQS 구성을 쓸 수 없는 환경(로컬, on-prem)을 위한 버스.
//   - stream 하나에 subject 하나
//   - sink 마다 durable consumer 하나 (각자 모든 메시지를 받는다: fan-out)
//   - 실패한 record 는 NakWithDelay → delay 이후 재전달
type JetStream struct {
	cfg  JetStreamConfig
	conn *nats.Conn
	js   jetstream.JetStream
}

// ConnectJetStream 은 연결 후 stream 을 생성/갱신한다.
func ConnectJetStream(ctx context.Context, cfg JetStreamConfig) (*JetStream, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		MaxAge:    cfg.MaxAge,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create/update stream %s: %w", cfg.Stream, err)
	}

	return &JetStream{cfg: cfg, conn: conn, js: js}, nil
}

// Close 는 in-flight 메시지를 마무리하고 연결을 닫는다.
func (j *JetStream) Close() error {
	return j.conn.Drain()
}

// Publish 는 stream subject 로 발행하고 stream sequence 를 id 로 돌려준다.
func (j *JetStream) Publish(ctx context.Context, msg Message) (string, error) {
	m := nats.NewMsg(j.cfg.Subject)
	m.Data = msg.Body
	if msg.ClientID != "" {
		m.Header.Set(ClientIDAttribute, msg.ClientID)
	}

	ack, err := j.js.PublishMsg(ctx, m)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Consumer 는 durable consumer 를 생성/갱신해 돌려준다.
func (j *JetStream) Consumer(ctx context.Context, durable string) (*JetStreamConsumer, error) {
	c, err := j.js.CreateOrUpdateConsumer(ctx, j.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: j.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       j.cfg.AckWait,
		MaxDeliver:    j.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update consumer %s: %w", durable, err)
	}
	return &JetStreamConsumer{consumer: c}, nil
}

// ErrNoMetadata 는 delivery 에서 stream sequence 를 읽지 못했을 때.
var ErrNoMetadata = errors.New("bus: delivery has no jetstream metadata")

// Delivery 는 consumer 가 받은 메시지 하나. 처리 결과에 따라 Ack / NakWithDelay 한다.
type Delivery interface {
	// Record 는 id 를 정할 수 없으면 에러를 돌려준다.
	Record() (model.TransportRecord, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
}

// JetStreamConsumer 는 pull 방식으로 배치를 가져온다.
type JetStreamConsumer struct {
	consumer jetstream.Consumer
}

// Fetch 는 최대 max 개를 wait 동안 기다려 가져온다. 없으면 빈 slice.
func (c *JetStreamConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := c.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, err
	}

	out := make([]Delivery, 0, max)
	for msg := range batch.Messages() {
		out = append(out, jsDelivery{msg: msg})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return out, err
	}
	return out, nil
}

type jsDelivery struct {
	msg jetstream.Msg
}

// Record 의 ID 는 stream sequence (배치 안에서 유일).
func (d jsDelivery) Record() (model.TransportRecord, error) {
	md, err := d.msg.Metadata()
	if err != nil {
		return model.TransportRecord{}, fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}
	return model.TransportRecord{ID: strconv.FormatUint(md.Sequence.Stream, 10), Body: d.msg.Data()}, nil
}

func (d jsDelivery) Ack() error { return d.msg.Ack() }

func (d jsDelivery) NakWithDelay(delay time.Duration) error { return d.msg.NakWithDelay(delay) }
