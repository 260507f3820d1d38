package sink

import (
	"context"

	"orderflow/internal/clock"
	"orderflow/internal/model"
)

// ItemStore 는 identifier 로 주소 지정되는 저장소.
// 같은 OrderID 의 기존 item 은 덮어쓴다.
type ItemStore interface {
	PutItem(ctx context.Context, item model.StoredItem) error
}

// KeyedWriter
// ------------------------------------------------------------
// record 하나를 StoredItem 으로 만들어 ItemStore 에 쓴다.
// 재전달된 record 는 마지막 write 내용으로 수렴한다 (중복 억제 아님).
type KeyedWriter struct {
	store  ItemStore
	origin string
	clock  *clock.Monotonic
}

// NewKeyedWriter 는 origin(StoredItem.Source 태그)과 clock 을 받는다.
func NewKeyedWriter(store ItemStore, origin string, c *clock.Monotonic) *KeyedWriter {
	if c == nil {
		c = clock.New(nil)
	}
	return &KeyedWriter{store: store, origin: origin, clock: c}
}

// Write 는 StoredItem 을 저장한다. 실패는 *WriteError 로 감싼다.
func (w *KeyedWriter) Write(ctx context.Context, identifier string, payload model.Payload) error {
	item := model.StoredItem{
		OrderID:          identifier,
		Payload:          payload,
		Source:           w.origin,
		ReceivedAtMillis: w.clock.Millis(),
	}
	if err := w.store.PutItem(ctx, item); err != nil {
		return &WriteError{Sink: NameStore, Identifier: identifier, Err: err}
	}
	return nil
}
