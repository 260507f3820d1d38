// internal/model/event.go
package model

// TransportRecord
// ------------------------------------------------------------
// 버스(SQS / JetStream)가 전달한 단일 작업 단위.
// Dispatcher 가 한 번의 delivery 당 정확히 한 번 소비한다.
//
// Body 는 신뢰할 수 없는 입력이다 (raw payload / SNS envelope /
// base64 인코딩된 envelope / 깨진 텍스트 중 무엇이든 올 수 있음).
type TransportRecord struct {
	ID   string // transport 가 부여한 opaque id (배치 내 유일)
	Body []byte // wire payload
}

// Payload
// ------------------------------------------------------------
// 디코딩된 비즈니스 payload.
// 숫자는 모두 json.Number (원본 decimal literal 그대로) 로 보관한다.
// DynamoDB 는 부정확한 숫자(binary float) 를 거부하기 때문.
//
// 모든 디코딩 단계가 실패하면 {"raw": "<원문>"} 형태가 된다.
type Payload map[string]any

// RawKey 는 fallback payload 의 유일한 키.
const RawKey = "raw"

// RawPayload 는 fallback payload 를 만든다.
func RawPayload(text string) Payload {
	return Payload{RawKey: text}
}

// StoredItem
// ------------------------------------------------------------
// keyed store(DynamoDB / Redis)에 저장되는 단위.
// 같은 OrderID 로 재전달되면 마지막 write 가 이긴다 (last-write-wins).
type StoredItem struct {
	OrderID          string  `json:"orderId"` // RecordIdentifier
	Payload          Payload `json:"payload"`
	Source           string  `json:"source"` // 이 파이프라인을 나타내는 상수 태그
	ReceivedAtMillis int64   `json:"ts"`     // write 시각 (epoch ms, 프로세스 내 단조 증가)
}

// ArchivedObject
// ------------------------------------------------------------
// archive store(S3)에 저장되는 단위.
// Key 에 write 시각(ms)이 들어가므로 같은 identifier 라도 덮어쓰지 않는다.
type ArchivedObject struct {
	Key  string // <prefix>/<YYYY>/<MM>/<DD>/<identifier>/<epochMillis>.json
	Body []byte // compact JSON (UTF-8, non-ASCII 그대로)
}

// BatchFailureReport
// ------------------------------------------------------------
// 이번 delivery 에서 실패한 TransportRecord.ID 목록.
// 비어 있으면 배치 전체 성공. 저장하지 않는다 (invocation 범위).
type BatchFailureReport struct {
	Failures []string
}

// OK 는 배치 전체가 성공했는지 여부.
func (r BatchFailureReport) OK() bool {
	return len(r.Failures) == 0
}

// Contains 는 id 가 재전달 대상인지 확인한다.
func (r BatchFailureReport) Contains(id string) bool {
	for _, f := range r.Failures {
		if f == id {
			return true
		}
	}
	return false
}
