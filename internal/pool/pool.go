package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// gateway 는 요청마다 body 를 읽고, spool 은 publish 실패 배치를
// gzip 으로 압축한다. 둘 다 할당이 잦은 구간이라 버퍼를 재사용한다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - POST body 를 임시 저장하는 버퍼
	//   - 초기 용량 4KB (주문 payload 는 대부분 여기에 수용됨)
	//   - 너무 큰 버퍼는 PutBody(maxCap) 에서 버린다
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// BufferPool:
	//   - spool 파일(gzip JSONL) 인코딩 결과를 담는 임시 버퍼
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (BestSpeed)
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// MaxBufferCap 보다 큰 버퍼는 풀에 돌려주지 않는다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// GetBody 는 비어 있는 body 버퍼를 꺼낸다.
func GetBody() *bytes.Buffer {
	buf := BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBody:
//   - maxCap(보통 MaxBodySize*2)보다 크면 버려서 GC 로.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

// GetBuffer 는 비어 있는 인코딩 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - 1MB 이하이면 풀에 재사용
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
