// Package awslambda adapts Lambda events (SQS batches, ALB target-group
// requests) to the dispatcher and the gateway router.
package awslambda

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"orderflow/internal/model"
)

// BatchProcessor 는 dispatch.Dispatcher 가 구현한다.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []model.TransportRecord) model.BatchFailureReport
}

// SQSHandler
// ------------------------------------------------------------
// SNS → SQS 구독으로 들어온 배치를 처리하고 partial batch response 를 돌려준다.
// (event source mapping 에 ReportBatchItemFailures 가 켜져 있어야 한다)
//
// 반환 error 는 항상 nil: 실패는 record 단위로만 보고한다.
// error 를 돌려주면 배치 전체가 재전달되어 성공한 record 까지 다시 처리된다.
type SQSHandler struct {
	proc BatchProcessor
}

func NewSQSHandler(proc BatchProcessor) *SQSHandler {
	return &SQSHandler{proc: proc}
}

func (h *SQSHandler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	records := make([]model.TransportRecord, len(ev.Records))
	for i, msg := range ev.Records {
		records[i] = model.TransportRecord{ID: msg.MessageId, Body: []byte(msg.Body)}
	}

	report := h.proc.ProcessBatch(ctx, records)

	resp := events.SQSEventResponse{
		BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(report.Failures)),
	}
	for _, id := range report.Failures {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp, nil
}
