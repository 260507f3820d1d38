package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"orderflow/internal/bus"
	"orderflow/internal/model"
)

// Source 는 delivery 배치를 가져오는 쪽 (JetStream durable consumer).
type Source interface {
	Fetch(ctx context.Context, max int, wait time.Duration) ([]bus.Delivery, error)
}

// BatchProcessor 는 배치를 처리하고 재전달할 record id 를 돌려준다.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []model.TransportRecord) model.BatchFailureReport
}

// DefaultRedeliveryDelay 는 RedeliveryDelay 가 없을 때 쓰는 값.
const DefaultRedeliveryDelay = 5 * time.Second

// ManagerConfig 는 consumer loop 설정.
type ManagerConfig struct {
	Name      string        // sink 이름 (log label)
	BatchSize int           // 한 번에 가져올 최대 delivery 수
	FetchWait time.Duration // 배치가 찰 때까지 기다리는 최대 시간
	Backoff   time.Duration // fetch 실패 후 대기

	// RedeliveryDelay 는 실패한 record 를 다시 받기까지의 대기.
	// 0 이하면 DefaultRedeliveryDelay.
	RedeliveryDelay time.Duration
}

// Manager
// ------------------------------------------------------------
// self-hosted 배포에서 consumer 하나를 구동하는 loop.
//
//	fetch → ProcessBatch → report 에 있는 delivery 는 NakWithDelay, 나머지는 Ack
//
// 한 번에 한 배치만 처리한다. Shutdown 은 fetch 를 멈추고
// 처리 중인 배치가 끝날 때까지 기다린다 (ack 못 한 메시지는 재전달된다).
type Manager struct {
	cfg    ManagerConfig
	source Source
	proc   BatchProcessor

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewManager(cfg ManagerConfig, src Source, proc BatchProcessor) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 2 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = DefaultRedeliveryDelay
	}
	return &Manager{cfg: cfg, source: src, proc: proc}
}

// Start 는 consume loop goroutine 을 띄운다.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.consumeLoop(ctx)
}

// Shutdown 은 loop 를 멈추고 끝날 때까지 기다린다. 여러 번 불러도 안전하다.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
	})
	m.wg.Wait()
}

func (m *Manager) consumeLoop(ctx context.Context) {
	defer m.wg.Done()
	log.Info().Str("sink", m.cfg.Name).Msg("consumer started")

	for {
		if ctx.Err() != nil {
			log.Info().Str("sink", m.cfg.Name).Msg("consumer exiting")
			return
		}

		deliveries, err := m.source.Fetch(ctx, m.cfg.BatchSize, m.cfg.FetchWait)
		if err != nil && len(deliveries) == 0 {
			if ctx.Err() != nil {
				continue
			}
			log.Warn().Err(err).Str("sink", m.cfg.Name).Msg("fetch failed")
			select {
			case <-ctx.Done():
			case <-time.After(m.cfg.Backoff):
			}
			continue
		}
		if len(deliveries) == 0 {
			continue
		}

		// 이미 받은 배치는 shutdown 중이어도 끝까지 처리한다.
		m.ProcessDeliveries(context.WithoutCancel(ctx), deliveries)
	}
}

// ProcessDeliveries 는 배치 하나를 처리하고 결과대로 Ack / NakWithDelay 한다.
// id 를 읽을 수 없는 delivery 는 처리하지 않고 바로 재전달을 요청한다.
func (m *Manager) ProcessDeliveries(ctx context.Context, deliveries []bus.Delivery) model.BatchFailureReport {
	records := make([]model.TransportRecord, 0, len(deliveries))
	accepted := make([]bus.Delivery, 0, len(deliveries))
	for _, d := range deliveries {
		rec, err := d.Record()
		if err != nil {
			log.Warn().Err(err).Str("sink", m.cfg.Name).Msg("unreadable delivery, requesting redelivery")
			m.redeliver(d, "")
			continue
		}
		records = append(records, rec)
		accepted = append(accepted, d)
	}
	if len(records) == 0 {
		return model.BatchFailureReport{Failures: []string{}}
	}

	report := m.proc.ProcessBatch(ctx, records)

	failed := make(map[string]struct{}, len(report.Failures))
	for _, id := range report.Failures {
		failed[id] = struct{}{}
	}

	for i, d := range accepted {
		if _, redeliver := failed[records[i].ID]; redeliver {
			m.redeliver(d, records[i].ID)
			continue
		}
		if err := d.Ack(); err != nil {
			// ack 실패 → AckWait 이후 재전달 (sink 는 재전달을 견딘다)
			log.Warn().Err(err).Str("sink", m.cfg.Name).Str("msgId", records[i].ID).Msg("ack failed")
		}
	}
	return report
}

// redeliver 는 RedeliveryDelay 뒤에 다시 받도록 nak 한다.
// nak 자체가 실패해도 AckWait 이후 재전달된다.
func (m *Manager) redeliver(d bus.Delivery, id string) {
	if err := d.NakWithDelay(m.cfg.RedeliveryDelay); err != nil {
		log.Warn().Err(err).Str("sink", m.cfg.Name).Str("msgId", id).Msg("nak failed")
	}
}
