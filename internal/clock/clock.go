// internal/clock/clock.go
package clock

import (
	"sync/atomic"
	"time"
)

//
// clock.go
// ------------------------------------------------------------
// sink write 시각(epoch ms)을 만드는 모듈.
//
// 벽시계(time.Now)는 NTP 보정 등으로 뒤로 갈 수 있다.
// StoredItem.ts 는 프로세스 안에서 감소하면 안 되고,
// archive key 는 같은 프로세스에서 절대 겹치면 안 되므로
// 마지막으로 발급한 값을 atomic 으로 들고 있다가 보정한다.
//
// 사용처:
//   - StoredItem.ReceivedAtMillis (Millis: 단조 비감소)
//   - archive object key          (NextMillis: 단조 증가)
// ------------------------------------------------------------

// Source 는 현재 시각을 제공한다. 테스트에서는 고정/수동 시각을 넘긴다.
type Source func() time.Time

// Monotonic 은 Source 위에 단조성을 보장하는 ms clock.
type Monotonic struct {
	now  Source
	last atomic.Int64
}

// New 는 src 가 nil 이면 time.Now 를 쓴다.
func New(src Source) *Monotonic {
	if src == nil {
		src = time.Now
	}
	return &Monotonic{now: src}
}

// Millis 는 이전에 발급한 값보다 작지 않은 epoch ms 를 반환한다.
func (c *Monotonic) Millis() int64 {
	for {
		prev := c.last.Load()
		now := c.now().UnixMilli()
		if now < prev {
			now = prev
		}
		if c.last.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// NextMillis 는 이전에 발급한 값보다 반드시 큰 epoch ms 를 반환한다.
// 같은 ms 안에 여러 번 호출되면 1ms 씩 앞당겨 발급한다.
func (c *Monotonic) NextMillis() int64 {
	for {
		prev := c.last.Load()
		now := c.now().UnixMilli()
		if now <= prev {
			now = prev + 1
		}
		if c.last.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// Time 은 ms 값을 UTC time 으로 바꾼다 (날짜 파티션 계산용).
func Time(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
