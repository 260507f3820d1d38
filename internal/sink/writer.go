// Package sink holds the durable writers behind the two consumer paths.
//
// KeyedWriter overwrites by identifier (last write wins). ArchiveWriter never
// overwrites: every write lands at a fresh time-partitioned key. The two share
// only the Write(ctx, identifier, payload) shape.
package sink

import "fmt"

// Sink 이름. metrics / log label 로도 쓴다.
const (
	NameStore   = "store"
	NameArchive = "archive"
)

// WriteError 는 store 인프라 레벨 실패 (throttling, 권한, 네트워크 등).
type WriteError struct {
	Sink       string
	Identifier string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s write %q: %v", e.Sink, e.Identifier, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
