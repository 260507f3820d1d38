// Package dispatch runs one sink over a batch of bus deliveries and reports
// the records that have to be redelivered.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/envelope"
	"orderflow/internal/metrics"
	"orderflow/internal/model"
	"orderflow/internal/sink"
)

// ErrNoIdentifier 는 payload, record 어디에서도 identifier 를 얻지 못했을 때.
var ErrNoIdentifier = errors.New("dispatch: no record identifier")

// Writer 는 sink 별 durable write. 두 sink 가 공유하는 계약은 이것뿐이다.
type Writer interface {
	Write(ctx context.Context, identifier string, payload model.Payload) error
}

// FallbackIdentifier 는 hint 와 record id 가 모두 없을 때 쓰는 마지막 수단.
// archive sink 만 사용한다 (write 시각 기반).
type FallbackIdentifier func() string

// Dispatcher
// ------------------------------------------------------------
// 배치 안의 각 record 를 독립적으로 decode → identifier 결정 → write 한다.
// 한 record 의 실패(에러/panic)는 그 record 만 report 에 올리고
// 나머지 처리를 계속한다. Dispatcher 자체는 에러를 반환하지 않는다.
type Dispatcher struct {
	name     string
	writer   Writer
	fallback FallbackIdentifier
	workers  int
	metrics  *metrics.Metrics
}

// Option 은 Dispatcher 설정.
type Option func(*Dispatcher)

// WithFallbackIdentifier 는 identifier 의 마지막 fallback 을 지정한다.
func WithFallbackIdentifier(f FallbackIdentifier) Option {
	return func(d *Dispatcher) { d.fallback = f }
}

// WithConcurrency 는 한 배치 안에서 동시에 처리할 record 수.
// 1 이하면 순차 처리.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 1 {
			d.workers = n
		}
	}
}

// New 는 name(metrics/log label)과 writer 로 Dispatcher 를 만든다.
func New(name string, w Writer, m *metrics.Metrics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:    name,
		writer:  w,
		workers: 1,
		metrics: m,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProcessBatch 는 records 를 처리하고 재전달이 필요한 id 목록을 돌려준다.
// report 순서는 입력 순서를 따른다.
func (d *Dispatcher) ProcessBatch(ctx context.Context, records []model.TransportRecord) model.BatchFailureReport {
	start := time.Now()
	failed := make([]bool, len(records))

	if d.workers <= 1 {
		for i := range records {
			failed[i] = d.processOne(ctx, records[i]) != nil
		}
	} else {
		// 결과는 index 별 slot 에만 쓰고 join 이후에 합친다.
		var g errgroup.Group
		g.SetLimit(d.workers)
		for i := range records {
			g.Go(func() error {
				failed[i] = d.processOne(ctx, records[i]) != nil
				return nil
			})
		}
		_ = g.Wait()
	}

	report := model.BatchFailureReport{Failures: make([]string, 0)}
	for i, f := range failed {
		if f {
			report.Failures = append(report.Failures, records[i].ID)
		}
	}

	d.metrics.ObserveBatch(d.name, time.Since(start))
	log.Info().
		Str("sink", d.name).
		Int("records", len(records)).
		Int("failures", len(report.Failures)).
		Dur("elapsed", time.Since(start)).
		Msg("batch processed")

	return report
}

// processOne 은 record 하나를 처리한다. panic 도 에러로 바꾼다.
func (d *Dispatcher) processOne(ctx context.Context, rec model.TransportRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			log.Error().
				Str("sink", d.name).
				Str("msgId", rec.ID).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("unexpected panic while processing record")
			d.metrics.RecordProcessed(d.name, false)
		}
	}()

	res := envelope.Decode(rec.Body)
	d.metrics.DecodeStage(d.name, string(res.Stage))

	id, err := d.resolveIdentifier(res, rec)
	if err != nil {
		d.logFailure(rec, "", err)
		d.metrics.RecordProcessed(d.name, false)
		return err
	}

	if err := d.writer.Write(ctx, id, res.Payload); err != nil {
		d.logFailure(rec, id, err)
		d.metrics.RecordProcessed(d.name, false)
		return err
	}

	log.Info().
		Str("sink", d.name).
		Str("msgId", rec.ID).
		Str("orderId", id).
		Str("stage", string(res.Stage)).
		Msg("record stored")
	d.metrics.RecordProcessed(d.name, true)
	return nil
}

// resolveIdentifier: payload hint → record id → (선택) fallback.
func (d *Dispatcher) resolveIdentifier(res envelope.Result, rec model.TransportRecord) (string, error) {
	if res.HasHint && res.Hint != "" {
		return res.Hint, nil
	}
	if rec.ID != "" {
		return rec.ID, nil
	}
	if d.fallback != nil {
		if id := d.fallback(); id != "" {
			return id, nil
		}
	}
	return "", ErrNoIdentifier
}

// logFailure 는 sink write 실패와 그 외 예상하지 못한 실패를 구분해 남긴다.
func (d *Dispatcher) logFailure(rec model.TransportRecord, id string, err error) {
	var we *sink.WriteError
	if errors.As(err, &we) {
		d.metrics.SinkWriteError(d.name)
		ev := log.Error().
			Str("sink", d.name).
			Str("msgId", rec.ID).
			Str("orderId", id)

		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			ev = ev.Str("code", apiErr.ErrorCode()).Str("detail", apiErr.ErrorMessage())
		}
		ev.Err(err).Msg("sink write failed")
		return
	}

	log.Error().
		Str("sink", d.name).
		Str("msgId", rec.ID).
		Str("orderId", id).
		Int("bodyBytes", len(rec.Body)).
		Err(err).
		Msg("unexpected error while processing record")
}
