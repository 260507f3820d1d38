package worker

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// file_util.go
// ------------------------------------------------------------
// spool 파일명 규칙:
//
//	<unix>_<instance>_<counter>.jsonl.gz
//
// 예:
//
//	1764721594_gw1_000042.jsonl.gz
//
// 정렬하면 곧 시간 순 정렬이므로 replay 시 가장 오래된 파일부터 처리한다.
// TTL 판단도 파일명의 unix 값으로 한다.
var globalCounter uint64

const spoolExt = ".jsonl.gz"

// NextCounter 는 goroutine 간 충돌 없는 순번 (1e6 에서 wrap).
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 now 기준 spool 파일명을 만든다.
func NewFilename(instanceID string, now time.Time) string {
	return fmt.Sprintf("%d_%s_%06d%s", now.Unix(), instanceID, NextCounter(), spoolExt)
}

// extractUnixFromFilename 은 파일명 prefix 의 Unix seconds 를 파싱한다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
