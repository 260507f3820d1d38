package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"orderflow/internal/clock"
	"orderflow/internal/envelope"
	"orderflow/internal/model"
)

// ObjectStore 는 path 로 주소 지정되는 append-only 저장소.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte) error
}

// ArchiveWriter
// ------------------------------------------------------------
// record 하나를 ArchivedObject 로 만들어 ObjectStore 에 쓴다.
// key 에 write 시각(ms)이 들어가므로 같은 identifier 가 재전달되어도
// 새 object 가 생긴다 (overwrite / dedup 없음).
type ArchiveWriter struct {
	objects ObjectStore
	prefix  string
	clock   *clock.Monotonic
}

// NewArchiveWriter 는 key prefix 와 clock 을 받는다.
func NewArchiveWriter(objects ObjectStore, prefix string, c *clock.Monotonic) *ArchiveWriter {
	if c == nil {
		c = clock.New(nil)
	}
	return &ArchiveWriter{objects: objects, prefix: prefix, clock: c}
}

// FallbackIdentifier 는 hint 도 record id 도 없을 때 쓰는 identifier (epoch ms).
func (w *ArchiveWriter) FallbackIdentifier() string {
	return strconv.FormatInt(w.clock.Millis(), 10)
}

// Write 는 payload 를 compact JSON 으로 직렬화해 새 key 에 저장한다.
func (w *ArchiveWriter) Write(ctx context.Context, identifier string, payload model.Payload) error {
	obj, err := w.Object(identifier, payload)
	if err != nil {
		return err
	}
	if err := w.objects.PutObject(ctx, obj.Key, obj.Body); err != nil {
		return &WriteError{Sink: NameArchive, Identifier: identifier, Err: err}
	}
	return nil
}

// Object 는 write 할 ArchivedObject 를 만든다. 호출마다 새 key 가 나온다.
func (w *ArchiveWriter) Object(identifier string, payload model.Payload) (model.ArchivedObject, error) {
	body, err := envelope.Marshal(payload)
	if err != nil {
		return model.ArchivedObject{}, fmt.Errorf("encode payload: %w", err)
	}
	return model.ArchivedObject{
		Key:  ArchiveKey(w.prefix, identifier, w.clock.NextMillis()),
		Body: body,
	}, nil
}

// ArchiveKey: <prefix>/<YYYY>/<MM>/<DD>/<identifier>/<epochMillis>.json
// 날짜는 ms 값과 같은 시각의 UTC 기준. prefix 끝의 "/" 는 하나로 정리한다.
func ArchiveKey(prefix, identifier string, ms int64) string {
	date := clock.Time(ms).Format("2006/01/02")
	leaf := fmt.Sprintf("%s/%s/%d.json", date, identifier, ms)

	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return leaf
	}
	return prefix + "/" + leaf
}
