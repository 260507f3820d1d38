package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orderflow"

// Metrics 는 서비스 상태를 나타내는 collector 모음이다.
// 프로세스당 하나를 만들어 각 컴포넌트에 주입한다.
type Metrics struct {
	// ======================
	// Gateway 레벨 지표
	// ======================

	// GatewayRequests
	// - /orders 로 들어온 요청 수, outcome 별.
	// - outcome: published / spooled / unauthorized / not_found /
	//   too_large / publish_failed
	// - unauthorized 비율이 튀면 client secret 교체/서명 버그를 의심.
	GatewayRequests *prometheus.CounterVec

	// ======================
	// Consumer(Dispatcher) 레벨 지표
	// ======================

	// RecordsProcessed
	// - sink 별 record 처리 결과 (outcome=ok|failed).
	// - failed 는 곧 redelivery 대상이므로 upstream DLQ 적재량과 같이 본다.
	RecordsProcessed *prometheus.CounterVec

	// DecodeStages
	// - payload 가 어느 디코딩 단계에서 확정되었는지.
	// - raw_body / inner_raw / base64_raw 가 늘어나면 producer 쪽 포맷이 바뀐 것.
	DecodeStages *prometheus.CounterVec

	// SinkWriteErrors
	// - sink 의 write 호출이 실패한 횟수 (throttling, 권한, 네트워크 등).
	SinkWriteErrors *prometheus.CounterVec

	// BatchDuration
	// - 배치 하나를 처리하는 데 걸린 시간.
	BatchDuration *prometheus.HistogramVec

	// ======================
	// Spool (publish 실패 시 로컬 보관) 지표
	// ======================

	SpoolEnqueued  prometheus.Counter // spool 에 저장된 메시지 수
	SpoolReplayed  prometheus.Counter // 재발행에 성공한 메시지 수
	SpoolDropped   prometheus.Counter // 용량 부족으로 버린 메시지 수
	SpoolExpired   prometheus.Counter // TTL/용량 정책으로 삭제된 파일 수
	SpoolFiles     prometheus.Gauge   // 현재 spool 파일 수
	SpoolSizeBytes prometheus.Gauge   // 현재 spool 디렉토리 용량
}

// New 는 reg 에 collector 를 등록한다.
// 테스트에서는 prometheus.NewRegistry() 를 넘긴다.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		GatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Ingress requests by outcome.",
		}, []string{"outcome"}),

		RecordsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Bus records processed by sink and outcome.",
		}, []string{"sink", "outcome"}),

		DecodeStages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_stage_total",
			Help:      "Decoded records by the envelope stage that produced the payload.",
		}, []string{"sink", "stage"}),

		SinkWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_write_errors_total",
			Help:      "Failed sink write calls.",
		}, []string{"sink"}),

		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one delivery batch.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"sink"}),

		SpoolEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_enqueued_total",
			Help:      "Messages written to the local publish spool.",
		}),
		SpoolReplayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_replayed_total",
			Help:      "Spooled messages republished to the bus.",
		}),
		SpoolDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_dropped_total",
			Help:      "Messages dropped because the spool was full.",
		}),
		SpoolExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_files_expired_total",
			Help:      "Spool files removed by TTL or capacity eviction.",
		}),
		SpoolFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spool_files",
			Help:      "Spool files currently on disk.",
		}),
		SpoolSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spool_size_bytes",
			Help:      "Bytes currently held by the spool directory.",
		}),
	}
}

// Gateway 는 gateway 요청 결과를 센다.
func (m *Metrics) Gateway(outcome string) {
	m.GatewayRequests.WithLabelValues(outcome).Inc()
}

// RecordProcessed 는 record 하나의 처리 결과를 센다.
func (m *Metrics) RecordProcessed(sink string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.RecordsProcessed.WithLabelValues(sink, outcome).Inc()
}

// DecodeStage 는 디코딩 단계를 센다.
func (m *Metrics) DecodeStage(sink, stage string) {
	m.DecodeStages.WithLabelValues(sink, stage).Inc()
}

// SinkWriteError 는 sink write 실패를 센다.
func (m *Metrics) SinkWriteError(sink string) {
	m.SinkWriteErrors.WithLabelValues(sink).Inc()
}

// ObserveBatch 는 배치 처리 시간을 기록한다.
func (m *Metrics) ObserveBatch(sink string, elapsed time.Duration) {
	m.BatchDuration.WithLabelValues(sink).Observe(elapsed.Seconds())
}
